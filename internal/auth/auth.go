// Package auth issues and verifies session tokens for hub participants.
//
// Tokens are PS256 JWTs signed with the hub's RSA private key and carry the
// verified {role, subject, codelab} tuple the connection supervisor and REST
// handlers rely on.
package auth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/rickgao/codelab-live/internal/model"
)

// Errors
var (
	ErrNoSession    = errors.New("no session")
	ErrInvalidToken = errors.New("invalid session token")
	ErrInvalidClaim = errors.New("invalid session claims")
)

// Claims is the JWT payload of a session token.
type Claims struct {
	Role      model.Role `json:"role"`
	CodelabID string     `json:"codelab_id,omitempty"`
	jwt.RegisteredClaims
}

// Credentials holds the signing key and token policy.
type Credentials struct {
	Issuer     string
	TTL        time.Duration
	PrivateKey *rsa.PrivateKey
}

// LoadCredentials loads credentials from a private key file path.
func LoadCredentials(privateKeyPath, issuer string, ttl time.Duration) (*Credentials, error) {
	if privateKeyPath == "" {
		return nil, fmt.Errorf("private key path is required")
	}
	if issuer == "" {
		return nil, fmt.Errorf("issuer is required")
	}

	privateKey, err := LoadPrivateKey(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load private key: %w", err)
	}

	return &Credentials{
		Issuer:     issuer,
		TTL:        ttl,
		PrivateKey: privateKey,
	}, nil
}

// LoadPrivateKey loads an RSA private key from a PEM file.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	// Try PKCS#8 first (newer format)
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("key is not an RSA private key")
		}
		return rsaKey, nil
	}

	// Fall back to PKCS#1 (older format)
	rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	return rsaKey, nil
}

// Issue signs a session token for s.
func (c *Credentials) Issue(s model.Session) (string, error) {
	if err := checkSession(s); err != nil {
		return "", err
	}

	now := time.Now()
	claims := &Claims{
		Role:      s.Role,
		CodelabID: s.CodelabID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.SubjectID,
			Issuer:    c.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.TTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodPS256, claims)
	signed, err := token.SignedString(c.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature, issuer and expiry of a token and returns the
// session it carries.
func (c *Credentials) Verify(tokenString string) (model.Session, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return &c.PrivateKey.PublicKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodPS256.Alg()}),
		jwt.WithIssuer(c.Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return model.Session{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return model.Session{}, ErrInvalidToken
	}

	s := model.Session{
		Role:      claims.Role,
		SubjectID: claims.Subject,
		CodelabID: claims.CodelabID,
	}
	if err := checkSession(s); err != nil {
		return model.Session{}, err
	}
	return s, nil
}

func checkSession(s model.Session) error {
	if !s.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidClaim, s.Role)
	}
	if s.SubjectID == "" {
		return fmt.Errorf("%w: subject is required", ErrInvalidClaim)
	}
	if s.Role == model.RoleAttendee && s.CodelabID == "" {
		return fmt.Errorf("%w: attendee session needs a codelab", ErrInvalidClaim)
	}
	return nil
}
