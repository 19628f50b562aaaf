package auth

import (
	"crypto/rsa"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang-jwt/jwt/v5"
)

// LoadRSAPublicKey reads a PEM-encoded RSA public key from path, the
// configured token-verifier key (default keys/jwtRS256.key.pub relative to
// the executable).
func LoadRSAPublicKey(path string) (*rsa.PublicKey, error) {
	if !filepath.IsAbs(path) {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("auth: locating executable: %w", err)
		}
		path = filepath.Join(filepath.Dir(exe), path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("auth: reading public key %s: %w", path, err)
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("auth: parsing public key %s: %w", path, err)
	}
	return key, nil
}
