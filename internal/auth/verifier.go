package auth

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/radio-control/apd/internal/config"
)

// ErrInvalidToken marks every token verification failure.
var ErrInvalidToken = errors.New("invalid token")

// VerifierConfig holds configuration for JWT verification.
type VerifierConfig struct {
	// Algorithm is RS256 or HS256.
	Algorithm string

	// RS256 public key in PEM form
	PublicKeyPEM []byte

	// HS256 shared secret
	SecretKey string

	// Leeway tolerated on exp, nbf and iat.
	Leeway time.Duration
}

// VerifierConfigFrom reads the key material named by the auth section.
func VerifierConfigFrom(a config.AuthConfig) (VerifierConfig, error) {
	vc := VerifierConfig{Algorithm: a.Algorithm, SecretKey: a.Secret, Leeway: 30 * time.Second}
	if a.Algorithm == "RS256" {
		pem, err := os.ReadFile(a.PublicKeyFile)
		if err != nil {
			return vc, fmt.Errorf("failed to read public key: %w", err)
		}
		vc.PublicKeyPEM = pem
	}
	return vc, nil
}

// tokenClaims is the claim set apd tokens carry.
type tokenClaims struct {
	Roles  []string `json:"roles"`
	Scopes []string `json:"scopes,omitempty"`
	jwt.RegisteredClaims
}

// Verifier checks bearer tokens signed with RS256 or HS256.
type Verifier struct {
	config VerifierConfig
	key    interface{}
	parser *jwt.Parser
}

// NewVerifier creates a new JWT verifier.
func NewVerifier(config VerifierConfig) (*Verifier, error) {
	v := &Verifier{config: config}

	switch config.Algorithm {
	case "RS256":
		if len(config.PublicKeyPEM) == 0 {
			return nil, fmt.Errorf("RS256 requires a public key")
		}
		pub, err := jwt.ParseRSAPublicKeyFromPEM(config.PublicKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("failed to load public key from PEM: %w", err)
		}
		v.key = pub
	case "HS256":
		if config.SecretKey == "" {
			return nil, fmt.Errorf("HS256 requires secret key")
		}
		v.key = []byte(config.SecretKey)
	default:
		return nil, fmt.Errorf("unsupported algorithm: %s", config.Algorithm)
	}

	v.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{config.Algorithm}),
		jwt.WithLeeway(config.Leeway),
		jwt.WithIssuedAt(),
	)
	return v, nil
}

// VerifyToken verifies a JWT token and returns the claims.
func (v *Verifier) VerifyToken(tokenString string) (*Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, fmt.Errorf("%w: token cannot be empty", ErrInvalidToken)
	}

	var tc tokenClaims
	token, err := v.parser.ParseWithClaims(tokenString, &tc, func(*jwt.Token) (interface{}, error) {
		return v.key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return v.claimsFrom(&tc)
}

// claimsFrom validates the roles and scopes of a parsed token. A token
// without scopes is granted the scopes of its roles.
func (v *Verifier) claimsFrom(tc *tokenClaims) (*Claims, error) {
	if tc.Subject == "" {
		return nil, fmt.Errorf("%w: missing 'sub' claim", ErrInvalidToken)
	}
	if !v.validateRoles(tc.Roles) {
		return nil, fmt.Errorf("%w: invalid roles: %v", ErrInvalidToken, tc.Roles)
	}

	scopes := tc.Scopes
	if len(scopes) == 0 {
		scopes = ScopesForRoles(tc.Roles)
	}
	if !v.validateScopes(scopes) {
		return nil, fmt.Errorf("%w: invalid scopes: %v", ErrInvalidToken, scopes)
	}

	return &Claims{
		Subject: tc.Subject,
		Roles:   tc.Roles,
		Scopes:  scopes,
	}, nil
}

// ScopesForRoles returns the scopes a role set grants.
func ScopesForRoles(roles []string) []string {
	scopes := []string{}
	seen := map[string]bool{}
	add := func(s ...string) {
		for _, scope := range s {
			if !seen[scope] {
				seen[scope] = true
				scopes = append(scopes, scope)
			}
		}
	}
	for _, role := range roles {
		switch role {
		case RoleViewer:
			add(ScopeRead, ScopeTelemetry)
		case RoleOperator:
			add(ScopeRead, ScopeControl, ScopeTelemetry)
		}
	}
	return scopes
}

// validateRoles validates that all roles are valid.
func (v *Verifier) validateRoles(roles []string) bool {
	for _, role := range roles {
		if role != RoleViewer && role != RoleOperator {
			return false
		}
	}
	return len(roles) > 0
}

// validateScopes validates that all scopes are valid.
func (v *Verifier) validateScopes(scopes []string) bool {
	validScopes := map[string]bool{
		ScopeRead:      true,
		ScopeControl:   true,
		ScopeTelemetry: true,
	}

	for _, scope := range scopes {
		if !validScopes[scope] {
			return false
		}
	}

	return len(scopes) > 0
}
