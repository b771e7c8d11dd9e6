package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Member is the authenticated caller.
type Member struct {
	ID             string
	OrganizationID string
	Email          string
}

type memberKey struct{}

// MemberFrom returns the member stored by Authenticate.
func MemberFrom(ctx context.Context) (Member, bool) {
	m, ok := ctx.Value(memberKey{}).(Member)
	return m, ok
}

// Authenticate validates an HS256 bearer token and stores its member
// claims (sub, org, email) in the request context.
func Authenticate(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "missing bearer token"})
				return
			}

			member, err := parseMemberToken(secret, strings.TrimPrefix(auth, "Bearer "))
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "invalid token"})
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), memberKey{}, member)))
		})
	}
}

func parseMemberToken(secret, raw string) (Member, error) {
	tok, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !tok.Valid {
		return Member{}, errors.New("invalid token")
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return Member{}, errors.New("invalid claims")
	}

	sub, _ := claims["sub"].(string)
	org, _ := claims["org"].(string)
	email, _ := claims["email"].(string)
	if sub == "" || org == "" {
		return Member{}, errors.New("token is missing member claims")
	}
	return Member{ID: sub, OrganizationID: org, Email: email}, nil
}

// IssueToken signs a member token valid for ttl.
func IssueToken(secret string, m Member, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"sub":   m.ID,
		"org":   m.OrganizationID,
		"email": m.Email,
		"iat":   now.Unix(),
		"exp":   now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
