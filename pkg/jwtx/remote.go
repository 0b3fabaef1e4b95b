package jwtx

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrKeyFetch reports that the JWKS endpoint was unreachable or returned
// something we could not use. Verification fails closed on this.
var ErrKeyFetch = errors.New("jwtx: jwks fetch failed")

// DefaultJWKSTimeout bounds a single JWKS fetch.
const DefaultJWKSTimeout = 5 * time.Second

// RemoteKeySet resolves signing keys from a JWKS endpoint. Keys are cached
// in an in-memory KeySet; an unknown kid triggers exactly one refetch
// before giving up. Refetches are idempotent, so concurrent misses racing
// a refresh are harmless (last writer wins).
type RemoteKeySet struct {
	url    string
	client *http.Client
	keys   *KeySet
}

// NewRemoteKeySet creates a resolver for the given JWKS URL. A nil client
// gets a default with a bounded timeout.
func NewRemoteKeySet(url string, client *http.Client) *RemoteKeySet {
	if client == nil {
		client = &http.Client{Timeout: DefaultJWKSTimeout}
	}
	return &RemoteKeySet{
		url:    url,
		client: client,
		keys:   NewKeySet(),
	}
}

// Resolve returns the public key for the given kid, fetching the key set
// on first use and refetching once on a cache miss.
func (r *RemoteKeySet) Resolve(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if r.keys.IsReady() {
		if pk, err := r.keys.Resolve(ctx, kid); err == nil {
			return pk, nil
		}
	}

	// Either cold cache or unknown kid: refetch and try again.
	if err := r.Refresh(ctx); err != nil {
		return nil, err
	}

	pk, err := r.keys.Resolve(ctx, kid)
	if err != nil {
		return nil, fmt.Errorf("jwtx: kid %q absent after refetch: %w", kid, err)
	}
	return pk, nil
}

// Refresh fetches the key set from the JWKS endpoint and swaps the cache.
func (r *RemoteKeySet) Refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeyFetch, err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeyFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: unexpected status %d", ErrKeyFetch, resp.StatusCode)
	}

	var jwks JWKS
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", ErrKeyFetch, err)
	}

	if err := r.keys.ResetFromJWKS(jwks); err != nil {
		return fmt.Errorf("%w: %v", ErrKeyFetch, err)
	}
	return nil
}

// IsReady reports whether at least one key has been loaded.
func (r *RemoteKeySet) IsReady() bool {
	return r.keys.IsReady()
}
