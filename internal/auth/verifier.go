package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrEmptyToken is returned for a blank token string.
	ErrEmptyToken = errors.New("token cannot be empty")
	// ErrInvalidToken wraps every signature, expiry or claim failure.
	ErrInvalidToken = errors.New("invalid token")
)

// Algorithms.
const (
	AlgRS256 = "RS256"
	AlgHS256 = "HS256"
)

// VerifierConfig holds configuration for JWT verification. PublicKeyPEM
// selects RS256; otherwise SecretKey selects HS256.
type VerifierConfig struct {
	PublicKeyPEM string
	SecretKey    string
}

// Verifier checks tokens against one key.
type Verifier struct {
	algorithm string
	publicKey *rsa.PublicKey
	secret    []byte
}

// NewVerifier creates a verifier for cfg.
func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	switch {
	case cfg.PublicKeyPEM != "":
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(cfg.PublicKeyPEM))
		if err != nil {
			return nil, fmt.Errorf("failed to load public key from PEM: %w", err)
		}
		return &Verifier{algorithm: AlgRS256, publicKey: key}, nil
	case cfg.SecretKey != "":
		return &Verifier{algorithm: AlgHS256, secret: []byte(cfg.SecretKey)}, nil
	default:
		return nil, fmt.Errorf("no verification key configured")
	}
}

// Algorithm returns the signing algorithm this verifier accepts.
func (v *Verifier) Algorithm() string {
	return v.algorithm
}

// VerifyToken verifies a JWT token and returns the claims.
func (v *Verifier) VerifyToken(tokenString string) (*Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, ErrEmptyToken
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != v.algorithm {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		if v.algorithm == AlgRS256 {
			return v.publicKey, nil
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{v.algorithm}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return extractClaims(claims)
}

func extractClaims(claims jwt.MapClaims) (*Claims, error) {
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, fmt.Errorf("%w: missing or invalid 'sub' claim", ErrInvalidToken)
	}

	roles, err := extractStringSlice(claims, "roles")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !validRoles(roles) {
		return nil, fmt.Errorf("%w: invalid roles: %v", ErrInvalidToken, roles)
	}

	name, _ := claims["name"].(string)
	systemID, _ := claims["systemId"].(string)

	return &Claims{
		Subject:  sub,
		Name:     name,
		Roles:    roles,
		SystemID: systemID,
	}, nil
}

func extractStringSlice(claims jwt.MapClaims, key string) ([]string, error) {
	value, ok := claims[key]
	if !ok {
		return nil, fmt.Errorf("missing claim: %s", key)
	}

	switch val := value.(type) {
	case []string:
		return val, nil
	case []interface{}:
		result := make([]string, len(val))
		for i, item := range val {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("invalid %s claim: not a string", key)
			}
			result[i] = str
		}
		return result, nil
	default:
		return nil, fmt.Errorf("invalid %s claim: not a string array", key)
	}
}

func validRoles(roles []string) bool {
	for _, role := range roles {
		if role != RoleDevice && role != RoleViewer {
			return false
		}
	}
	return len(roles) > 0
}
