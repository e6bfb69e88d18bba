package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tanmay/stackgate/internal/stack"
)

// Authenticator holds valid API keys and the JWT signing secret.
type Authenticator struct {
	apiKeys   map[string]bool
	jwtSecret []byte
}

// NewAuthenticator creates an Authenticator with the given API keys and JWT secret.
func NewAuthenticator(apiKeys []string, jwtSecret string) *Authenticator {
	keys := make(map[string]bool, len(apiKeys))
	for _, k := range apiKeys {
		keys[k] = true
	}
	return &Authenticator{
		apiKeys:   keys,
		jwtSecret: []byte(jwtSecret),
	}
}

// Wrap checks X-API-Key first, then falls back to Authorization: Bearer <JWT>.
// If neither is valid, it returns 401 Unauthorized.
func (a *Authenticator) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if key := r.Header.Get("X-API-Key"); key != "" {
			if a.apiKeys[key] {
				next.ServeHTTP(w, r)
				return
			}
			http.Error(w, "Invalid API Key", http.StatusUnauthorized)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found || len(a.jwtSecret) == 0 {
			http.Error(w, "Invalid Authorization Header", http.StatusUnauthorized)
			return
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			return a.jwtSecret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			http.Error(w, "Invalid Token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type authArgs struct {
	APIKeys   []string `yaml:"api_keys"`
	JWTSecret string   `yaml:"jwt_secret"`
}

// Auth is the "auth" kind. Args: api_keys, jwt_secret. Both are masked in
// stack traces.
func Auth() stack.Factory {
	return stack.Factory{
		Kind:   "auth",
		Redact: []string{"api_keys", "jwt_secret"},
		New: func(args stack.Args) (stack.Middleware, error) {
			var cfg authArgs
			if err := args.Decode(&cfg); err != nil {
				return nil, err
			}
			if len(cfg.APIKeys) == 0 && cfg.JWTSecret == "" {
				return nil, errors.New("auth: api_keys or jwt_secret required")
			}
			return NewAuthenticator(cfg.APIKeys, cfg.JWTSecret), nil
		},
	}
}
