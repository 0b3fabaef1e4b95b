package authsdk

// TokenPair is the access/refresh credential pair minted by the auth
// server at login, registration, and refresh.
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// LoginRequest is the credential payload for the login endpoint.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterRequest creates a new account. Role selects between the two
// account types the platform supports.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

// refreshRequest is the body sent to the token refresh endpoint.
type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// ErrorResponse covers the error bodies both upstream services emit: the
// auth server's error/error_description shape and the resource API's
// detail/message shape.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Message          string `json:"message"`
	Detail           string `json:"detail"`
}

// Text returns whichever error field the server bothered to fill in.
func (e ErrorResponse) Text() string {
	if e.ErrorDescription != "" {
		return e.ErrorDescription
	}
	if e.Detail != "" {
		return e.Detail
	}
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}

// HealthChecks reports per-dependency status on the readiness probe.
type HealthChecks struct {
	Database string `json:"database,omitempty"`
	Keys     string `json:"keys,omitempty"`
}

// HealthResponse is the body of the health endpoints.
type HealthResponse struct {
	Status  string        `json:"status"`
	Uptime  string        `json:"uptime"`
	Version string        `json:"version"`
	Checks  *HealthChecks `json:"checks,omitempty"`
}
