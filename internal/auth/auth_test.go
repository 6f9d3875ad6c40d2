package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/rickgao/codelab-live/internal/model"
)

func testCredentials(t *testing.T) *Credentials {
	t.Helper()
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate test key: %v", err)
	}
	return &Credentials{
		Issuer:     "codelab-live",
		TTL:        time.Hour,
		PrivateKey: privateKey,
	}
}

func TestCredentials_IssueVerify(t *testing.T) {
	creds := testCredentials(t)

	tests := []struct {
		name    string
		session model.Session
	}{
		{"attendee", model.Session{Role: model.RoleAttendee, SubjectID: "att-1", CodelabID: "lab-1"}},
		{"admin", model.Session{Role: model.RoleAdmin, SubjectID: "admin"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := creds.Issue(tt.session)
			if err != nil {
				t.Fatalf("Issue failed: %v", err)
			}
			if strings.Count(token, ".") != 2 {
				t.Errorf("token %q is not a compact JWT", token)
			}

			got, err := creds.Verify(token)
			if err != nil {
				t.Fatalf("Verify failed: %v", err)
			}
			if got != tt.session {
				t.Errorf("Verify() = %+v, want %+v", got, tt.session)
			}
		})
	}
}

func TestCredentials_IssueRejectsBadSession(t *testing.T) {
	creds := testCredentials(t)

	tests := []struct {
		name    string
		session model.Session
	}{
		{"unknown role", model.Session{Role: "guest", SubjectID: "x"}},
		{"missing subject", model.Session{Role: model.RoleAdmin}},
		{"attendee without codelab", model.Session{Role: model.RoleAttendee, SubjectID: "att-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := creds.Issue(tt.session)
			if !errors.Is(err, ErrInvalidClaim) {
				t.Errorf("Issue() error = %v, want ErrInvalidClaim", err)
			}
		})
	}
}

func TestCredentials_VerifyRejects(t *testing.T) {
	creds := testCredentials(t)
	session := model.Session{Role: model.RoleAttendee, SubjectID: "att-1", CodelabID: "lab-1"}

	expired := &Credentials{Issuer: creds.Issuer, TTL: -time.Minute, PrivateKey: creds.PrivateKey}
	expiredToken, err := expired.Issue(session)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	otherIssuer := &Credentials{Issuer: "someone-else", TTL: time.Hour, PrivateKey: creds.PrivateKey}
	otherIssuerToken, err := otherIssuer.Issue(session)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	otherKeyToken, err := testCredentials(t).Issue(session)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	hsToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		Role: model.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "admin",
			Issuer:    creds.Issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("shared-secret"))
	if err != nil {
		t.Fatalf("sign HS256 token: %v", err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"expired", expiredToken},
		{"wrong issuer", otherIssuerToken},
		{"wrong key", otherKeyToken},
		{"wrong algorithm", hsToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := creds.Verify(tt.token)
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestAuthenticator_Authenticate(t *testing.T) {
	creds := testCredentials(t)
	a := NewAuthenticator(creds, "codelab_session")

	session := model.Session{Role: model.RoleAttendee, SubjectID: "att-1", CodelabID: "lab-1"}
	token, err := creds.Issue(session)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	tests := []struct {
		name  string
		setup func(r *http.Request)
	}{
		{"bearer header", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }},
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "codelab_session", Value: token}) }},
		{"query", func(r *http.Request) {
			q := r.URL.Query()
			q.Set(TokenQueryParam, token)
			r.URL.RawQuery = q.Encode()
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws/lab-1", nil)
			tt.setup(r)

			got, err := a.Authenticate(r)
			if err != nil {
				t.Fatalf("Authenticate failed: %v", err)
			}
			if got != session {
				t.Errorf("Authenticate() = %+v, want %+v", got, session)
			}
		})
	}
}

func TestAuthenticator_NoSession(t *testing.T) {
	a := NewAuthenticator(testCredentials(t), "codelab_session")

	r := httptest.NewRequest(http.MethodGet, "/ws/lab-1", nil)
	if _, err := a.Authenticate(r); !errors.Is(err, ErrNoSession) {
		t.Errorf("Authenticate() error = %v, want ErrNoSession", err)
	}

	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	if _, err := a.Authenticate(r); !errors.Is(err, ErrNoSession) {
		t.Errorf("Authenticate() with basic auth error = %v, want ErrNoSession", err)
	}
}

func TestLoadPrivateKey_PKCS8(t *testing.T) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate test key: %v", err)
	}

	pkcs8Bytes, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		t.Fatalf("failed to marshal PKCS#8: %v", err)
	}

	tmpFile := filepath.Join(t.TempDir(), "test-key.pem")
	if err := os.WriteFile(tmpFile, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8Bytes}), 0600); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}

	loadedKey, err := LoadPrivateKey(tmpFile)
	if err != nil {
		t.Fatalf("LoadPrivateKey failed: %v", err)
	}
	if loadedKey.N.Cmp(privateKey.N) != 0 {
		t.Error("loaded key does not match original")
	}
}

func TestLoadPrivateKey_PKCS1(t *testing.T) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate test key: %v", err)
	}

	tmpFile := filepath.Join(t.TempDir(), "test-key.pem")
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(privateKey)}
	if err := os.WriteFile(tmpFile, pem.EncodeToMemory(block), 0600); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}

	loadedKey, err := LoadPrivateKey(tmpFile)
	if err != nil {
		t.Fatalf("LoadPrivateKey failed: %v", err)
	}
	if loadedKey.N.Cmp(privateKey.N) != 0 {
		t.Error("loaded key does not match original")
	}
}

func TestLoadPrivateKey_Errors(t *testing.T) {
	if _, err := LoadPrivateKey("/nonexistent/path/to/key.pem"); err == nil {
		t.Error("expected error for nonexistent file")
	}

	tmpFile := filepath.Join(t.TempDir(), "invalid.pem")
	if err := os.WriteFile(tmpFile, []byte("not a pem file"), 0600); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	if _, err := LoadPrivateKey(tmpFile); err == nil {
		t.Error("expected error for invalid PEM")
	}
}

func TestLoadCredentials(t *testing.T) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate test key: %v", err)
	}

	pkcs8Bytes, _ := x509.MarshalPKCS8PrivateKey(privateKey)
	tmpFile := filepath.Join(t.TempDir(), "test-key.pem")
	if err := os.WriteFile(tmpFile, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8Bytes}), 0600); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}

	creds, err := LoadCredentials(tmpFile, "codelab-live", time.Hour)
	if err != nil {
		t.Fatalf("LoadCredentials failed: %v", err)
	}
	if creds.Issuer != "codelab-live" || creds.TTL != time.Hour {
		t.Errorf("creds = %+v", creds)
	}
	if creds.PrivateKey == nil {
		t.Error("PrivateKey is nil")
	}

	if _, err := LoadCredentials("", "codelab-live", time.Hour); err == nil {
		t.Error("expected error for missing path")
	}
	if _, err := LoadCredentials(tmpFile, "", time.Hour); err == nil {
		t.Error("expected error for missing issuer")
	}
}
