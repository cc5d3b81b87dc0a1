package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-key"

func TestNewVerifier(t *testing.T) {
	pemKey, _ := generateTestRSAKey(t)

	tests := []struct {
		name    string
		config  VerifierConfig
		wantAlg string
		wantErr bool
	}{
		{name: "RS256 from PEM", config: VerifierConfig{PublicKeyPEM: pemKey}, wantAlg: AlgRS256},
		{name: "HS256 from secret", config: VerifierConfig{SecretKey: testSecret}, wantAlg: AlgHS256},
		{name: "PEM wins over secret", config: VerifierConfig{PublicKeyPEM: pemKey, SecretKey: testSecret}, wantAlg: AlgRS256},
		{name: "bad PEM", config: VerifierConfig{PublicKeyPEM: "not a key"}, wantErr: true},
		{name: "no key", config: VerifierConfig{}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := NewVerifier(tt.config)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewVerifier() error = %v", err)
			}
			if v.Algorithm() != tt.wantAlg {
				t.Errorf("Algorithm() = %s, want %s", v.Algorithm(), tt.wantAlg)
			}
		})
	}
}

func TestVerifyHS256Token(t *testing.T) {
	v, err := NewVerifier(VerifierConfig{SecretKey: testSecret})
	if err != nil {
		t.Fatal(err)
	}

	token := signHS256(t, jwt.MapClaims{
		"sub":   "nurse-7",
		"name":  "Ward 3 Nurse",
		"roles": []string{RoleViewer},
		"exp":   time.Now().Add(time.Hour).Unix(),
	})

	claims, err := v.VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken() error = %v", err)
	}
	if claims.Subject != "nurse-7" {
		t.Errorf("Subject = %s, want nurse-7", claims.Subject)
	}
	if claims.Label() != "Ward 3 Nurse" {
		t.Errorf("Label() = %s, want Ward 3 Nurse", claims.Label())
	}
	if !claims.HasRole(RoleViewer) || claims.HasRole(RoleDevice) {
		t.Errorf("roles = %v", claims.Roles)
	}
}

func TestVerifyRS256Token(t *testing.T) {
	pemKey, key := generateTestRSAKey(t)
	v, err := NewVerifier(VerifierConfig{PublicKeyPEM: pemKey})
	if err != nil {
		t.Fatal(err)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"sub":      "pump-controller-12",
		"roles":    []string{RoleDevice},
		"systemId": "SRH-0012",
		"exp":      time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatal(err)
	}

	claims, err := v.VerifyToken(signed)
	if err != nil {
		t.Fatalf("VerifyToken() error = %v", err)
	}
	if claims.SystemID != "SRH-0012" {
		t.Errorf("SystemID = %s, want SRH-0012", claims.SystemID)
	}
	if claims.Label() != "pump-controller-12" {
		t.Errorf("Label() should fall back to subject, got %s", claims.Label())
	}
}

func TestVerifyTokenErrors(t *testing.T) {
	v, err := NewVerifier(VerifierConfig{SecretKey: testSecret})
	if err != nil {
		t.Fatal(err)
	}
	_, rsaKey := generateTestRSAKey(t)

	rs256, err := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"sub": "x", "roles": []string{RoleViewer},
	}).SignedString(rsaKey)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{name: "empty", token: "  ", want: ErrEmptyToken},
		{name: "garbage", token: "a.b.c", want: ErrInvalidToken},
		{name: "wrong algorithm", token: rs256, want: ErrInvalidToken},
		{
			name: "expired",
			token: signHS256(t, jwt.MapClaims{
				"sub": "x", "roles": []string{RoleViewer},
				"exp": time.Now().Add(-time.Hour).Unix(),
			}),
			want: ErrInvalidToken,
		},
		{
			name:  "wrong secret",
			token: signWith(t, "other-secret", jwt.MapClaims{"sub": "x", "roles": []string{RoleViewer}}),
			want:  ErrInvalidToken,
		},
		{name: "missing sub", token: signHS256(t, jwt.MapClaims{"roles": []string{RoleViewer}}), want: ErrInvalidToken},
		{name: "missing roles", token: signHS256(t, jwt.MapClaims{"sub": "x"}), want: ErrInvalidToken},
		{name: "empty roles", token: signHS256(t, jwt.MapClaims{"sub": "x", "roles": []string{}}), want: ErrInvalidToken},
		{name: "unknown role", token: signHS256(t, jwt.MapClaims{"sub": "x", "roles": []string{"admin"}}), want: ErrInvalidToken},
		{name: "roles not array", token: signHS256(t, jwt.MapClaims{"sub": "x", "roles": "viewer"}), want: ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.VerifyToken(tt.token)
			if !errors.Is(err, tt.want) {
				t.Errorf("VerifyToken() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestValidRoles(t *testing.T) {
	tests := []struct {
		roles []string
		want  bool
	}{
		{[]string{RoleDevice}, true},
		{[]string{RoleViewer}, true},
		{[]string{RoleDevice, RoleViewer}, true},
		{[]string{RoleViewer, "admin"}, false},
		{nil, false},
	}
	for _, tt := range tests {
		if got := validRoles(tt.roles); got != tt.want {
			t.Errorf("validRoles(%v) = %v, want %v", tt.roles, got, tt.want)
		}
	}
}

func signHS256(t *testing.T, claims jwt.MapClaims) string {
	return signWith(t, testSecret, claims)
}

func signWith(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func generateTestRSAKey(t *testing.T) (string, *rsa.PrivateKey) {
	t.Helper()
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate RSA key: %v", err)
	}

	publicKeyBytes, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	if err != nil {
		t.Fatalf("Failed to marshal public key: %v", err)
	}

	publicKeyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: publicKeyBytes,
	})
	return string(publicKeyPEM), privateKey
}
