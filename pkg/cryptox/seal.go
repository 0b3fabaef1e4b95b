package cryptox

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
)

var (
	sealKeyOnce sync.Once
	sealKey     []byte
	sealKeyErr  error
	sealKeyPath string // Can be set via SetSealKeyPath before first use
)

// SetSealKeyPath configures where to load the session sealing key from.
// This must be called before any Seal/Open operations.
// If not set, the key will be loaded from the SESSION_SEAL_KEY environment
// variable.
func SetSealKeyPath(path string) {
	sealKeyPath = path
}

// loadSealKey loads and derives a 32-byte ChaCha20-Poly1305 key from either:
// 1. File specified by sealKeyPath (if set)
// 2. SESSION_SEAL_KEY environment variable
// 3. Generates an ephemeral key for development (sessions won't survive restart)
func loadSealKey() ([]byte, error) {
	var keyMaterial []byte

	if sealKeyPath != "" {
		data, err := os.ReadFile(sealKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read seal key file: %w", err)
		}
		keyMaterial = data
	} else if envKey := os.Getenv("SESSION_SEAL_KEY"); envKey != "" {
		keyMaterial = []byte(envKey)
	} else {
		keyMaterial = make([]byte, 32)
		if _, err := rand.Read(keyMaterial); err != nil {
			return nil, fmt.Errorf("failed to generate ephemeral seal key: %w", err)
		}
	}

	// Derive a proper 32-byte key regardless of input length
	hash := sha256.Sum256(keyMaterial)
	return hash[:], nil
}

// getSealKey returns the loaded key, loading it on first use.
func getSealKey() ([]byte, error) {
	sealKeyOnce.Do(func() {
		sealKey, sealKeyErr = loadSealKey()
	})
	if sealKeyErr != nil {
		return nil, sealKeyErr
	}
	return sealKey, nil
}

// Seal encrypts a token for at-rest storage using ChaCha20-Poly1305.
// The output format is: [24-byte nonce][ciphertext+tag].
func Seal(plaintext []byte) ([]byte, error) {
	key, err := getSealKey()
	if err != nil {
		return nil, fmt.Errorf("failed to get seal key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts a token previously sealed with Seal.
func Open(sealed []byte) ([]byte, error) {
	key, err := getSealKey()
	if err != nil {
		return nil, fmt.Errorf("failed to get seal key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	if len(sealed) < aead.NonceSize() {
		return nil, errors.New("cryptox: sealed data too short")
	}

	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("cryptox: open failed: %w", err)
	}

	return plaintext, nil
}
