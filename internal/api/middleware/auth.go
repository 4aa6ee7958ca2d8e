package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/actionchat/actionchat/internal/config"
	"github.com/actionchat/actionchat/pkg/models"
)

// Auth authenticates requests and stores the resolved Identity in
// context. Two strategies run side by side:
//
//   - Static API keys from ACTIONCHAT_API_KEYS, configured as
//     "key=orgId:userId" comma-separated pairs. Intended for service
//     callers and local development.
//   - User bearer tokens signed with ACTIONCHAT_JWT_SECRET, carrying
//     org_id, user_id and email claims.
//
// When neither is configured, auth is disabled and every request runs
// as the default workspace identity.
type Auth struct {
	keys      map[string]models.Identity
	jwtSecret []byte
}

// NewAuth builds the auth middleware from config. Malformed API key
// pairs are logged and skipped.
func NewAuth(cfg config.AuthConfig) *Auth {
	a := &Auth{keys: make(map[string]models.Identity)}

	for _, pair := range strings.Split(cfg.APIKeys, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, scope, ok := strings.Cut(pair, "=")
		if !ok {
			log.Warn().Msg("API key entry missing '=', skipping")
			continue
		}
		orgID, userID, ok := strings.Cut(scope, ":")
		if !ok || orgID == "" || userID == "" {
			log.Warn().Msg("API key entry missing org:user scope, skipping")
			continue
		}
		a.keys[key] = models.Identity{OrgID: orgID, UserID: userID}
	}

	if cfg.JWTSecret != "" {
		a.jwtSecret = []byte(cfg.JWTSecret)
	}
	return a
}

// Enabled reports whether any auth strategy is configured.
func (a *Auth) Enabled() bool {
	return len(a.keys) > 0 || len(a.jwtSecret) > 0
}

// Handler returns the middleware that enforces authentication on
// non-public paths.
func (a *Auth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		if !a.Enabled() {
			// Development mode: single default workspace.
			ctx := SetIdentity(r.Context(), &models.Identity{OrgID: "default", UserID: "local"})
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		token := extractToken(r)
		if token == "" {
			respondUnauthorized(w, "Credentials required. Set Authorization: Bearer <token> or X-API-Key header.")
			return
		}

		id, err := a.authenticate(token)
		if err != nil {
			log.Debug().Err(err).Str("path", r.URL.Path).Msg("Authentication failed")
			respondUnauthorized(w, "Invalid credentials.")
			return
		}

		next.ServeHTTP(w, r.WithContext(SetIdentity(r.Context(), id)))
	})
}

func (a *Auth) authenticate(token string) (*models.Identity, error) {
	if id, ok := a.matchKey(token); ok {
		return id, nil
	}
	if len(a.jwtSecret) > 0 {
		return a.validateJWT(token)
	}
	return nil, fmt.Errorf("unknown API key")
}

// matchKey compares the candidate against every configured key in
// constant time.
func (a *Auth) matchKey(candidate string) (*models.Identity, bool) {
	for key, id := range a.keys {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(key)) == 1 {
			cp := id
			return &cp, true
		}
	}
	return nil, false
}

type tokenClaims struct {
	OrgID  string `json:"org_id"`
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

func (a *Auth) validateJWT(token string) (*models.Identity, error) {
	parsed, err := jwt.ParseWithClaims(token, &tokenClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.jwtSecret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	if claims.OrgID == "" || userID == "" {
		return nil, fmt.Errorf("token missing org_id or user_id claim")
	}
	return &models.Identity{OrgID: claims.OrgID, UserID: userID, Email: claims.Email}, nil
}

func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	// Query fallback for EventSource clients that cannot set headers.
	if key := r.URL.Query().Get("api_key"); key != "" {
		return key
	}
	return ""
}

func isPublicPath(path string) bool {
	switch path {
	case "/health", "/version":
		return true
	}
	return false
}

func respondUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="actionchat"`)
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   "unauthorized",
		"message": msg,
	})
}
