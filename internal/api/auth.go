package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/atmx/prediction-ledger/internal/model"
)

var jwtSigningMethod = jwt.SigningMethodHS256

// CallerHeader carries the caller identity when no JWT secret is configured.
const CallerHeader = "X-Caller-ID"

var errUnauthenticated = errors.New("caller identity required")

// AuthConfig controls how callers are identified.
// With an empty Secret the CallerHeader is trusted as-is (development only).
type AuthConfig struct {
	Secret string
	Issuer string
}

type callerKey struct{}

// MintToken issues an HS256 token whose subject is the caller identity.
func MintToken(cfg AuthConfig, now time.Time, caller model.Identity, ttl time.Duration) (string, error) {
	if cfg.Secret == "" {
		return "", fmt.Errorf("jwt secret is required")
	}
	if caller == "" {
		return "", fmt.Errorf("caller is required")
	}
	claims := jwt.RegisteredClaims{
		Subject:   string(caller),
		Issuer:    cfg.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwtSigningMethod, claims).SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("signing jwt: %w", err)
	}
	return signed, nil
}

func parseToken(cfg AuthConfig, tokenString string) (model.Identity, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwtSigningMethod.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwtSigningMethod {
			return nil, fmt.Errorf("unexpected signing method %s", token.Header["alg"])
		}
		return []byte(cfg.Secret), nil
	}, opts...)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("token has no subject")
	}
	return model.Identity(claims.Subject), nil
}

// Authenticate resolves the caller of each request and stores it in the
// request context. Requests without credentials pass through anonymously;
// handlers that mutate the ledger reject them.
func Authenticate(cfg AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var caller model.Identity
			if cfg.Secret == "" {
				caller = model.Identity(strings.TrimSpace(r.Header.Get(CallerHeader)))
			} else if authz := r.Header.Get("Authorization"); authz != "" {
				token, ok := strings.CutPrefix(authz, "Bearer ")
				if !ok {
					writeError(w, "authorization must be a bearer token", "", http.StatusUnauthorized)
					return
				}
				id, err := parseToken(cfg, strings.TrimSpace(token))
				if err != nil {
					writeError(w, "invalid token", "", http.StatusUnauthorized)
					return
				}
				caller = id
			}
			if caller != "" {
				r = r.WithContext(context.WithValue(r.Context(), callerKey{}, caller))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CallerFrom returns the authenticated caller, if any.
func CallerFrom(ctx context.Context) (model.Identity, bool) {
	caller, ok := ctx.Value(callerKey{}).(model.Identity)
	return caller, ok && caller != ""
}
