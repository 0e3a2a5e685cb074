package candidate

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var ErrUnauthorized = errors.New("unauthorized")

// ReviewerAuth decides who is reviewing. With a secret configured the reviewer
// is the subject of an HS256 bearer token; otherwise the body field is trusted.
type ReviewerAuth struct {
	secret []byte
}

func NewReviewerAuth(secret string) *ReviewerAuth {
	return &ReviewerAuth{secret: []byte(secret)}
}

func (a *ReviewerAuth) Enabled() bool { return a != nil && len(a.secret) > 0 }

// Reviewer returns the reviewer for r, falling back to claimed when tokens are disabled.
func (a *ReviewerAuth) Reviewer(r *http.Request, claimed string) (string, error) {
	if !a.Enabled() {
		return reviewerOrDefault(strings.TrimSpace(claimed)), nil
	}
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || raw == "" {
		return "", fmt.Errorf("%w: missing bearer token", ErrUnauthorized)
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: token has no subject", ErrUnauthorized)
	}
	return claims.Subject, nil
}

// SignReviewerToken issues a token for sub; used by tooling and tests.
func (a *ReviewerAuth) SignReviewerToken(sub string, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = sub
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}
