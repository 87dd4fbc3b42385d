package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"offer-chain-api/internal/apierror"
)

// Claims is the token payload. Permissions uses the same section/action
// layout as Capabilities.
type Claims struct {
	Role        int                        `json:"role"`
	Permissions map[string]map[string]bool `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates HS256 bearer tokens.
type Verifier struct {
	secret []byte
	issuer string
}

// NewVerifier creates a verifier. An empty issuer accepts any issuer.
func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer}
}

// Verify parses tokenString and returns the principal it describes.
func (v *Verifier) Verify(tokenString string) (Principal, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Principal{}, apierror.Unauthorized(apierror.CodeExpiredToken, "Token expired")
		}
		return Principal{}, apierror.Unauthorized(apierror.CodeInvalidToken, "Invalid token")
	}

	if claims.Subject == "" {
		return Principal{}, apierror.Unauthorized(apierror.CodeInvalidToken, "Invalid token")
	}

	return Principal{
		UserID:       claims.Subject,
		Role:         Role(claims.Role),
		Capabilities: capabilitiesFromClaims(claims.Permissions),
	}, nil
}

// Issue signs a token for p. It is used by tooling and tests; tokens in
// production come from the identity service.
func (v *Verifier) Issue(p Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role:        int(p.Role),
		Permissions: claimsFromCapabilities(p.Capabilities),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

func capabilitiesFromClaims(perms map[string]map[string]bool) Capabilities {
	caps := make(Capabilities, len(perms))
	for section, actions := range perms {
		granted := make(map[Action]bool, len(actions))
		for a, ok := range actions {
			if ok {
				granted[Action(a)] = true
			}
		}
		caps[section] = granted
	}
	return caps
}

func claimsFromCapabilities(caps Capabilities) map[string]map[string]bool {
	if len(caps) == 0 {
		return nil
	}
	perms := make(map[string]map[string]bool, len(caps))
	for section, actions := range caps {
		m := make(map[string]bool, len(actions))
		for a, ok := range actions {
			m[string(a)] = ok
		}
		perms[section] = m
	}
	return perms
}
