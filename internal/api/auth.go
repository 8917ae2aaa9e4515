package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"equipres/internal/config"
	"equipres/internal/domain"
	"equipres/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	errMissingToken = errors.New("missing bearer token")
	errInvalidToken = errors.New("invalid token")
	errExpiredToken = errors.New("token has expired")
)

// Claims are issued by the identity provider. Tokens are only verified here.
type Claims struct {
	UserID     int64  `json:"user_id"`
	Role       string `json:"role"`
	Department string `json:"department,omitempty"`
	jwt.RegisteredClaims
}

// TokenVerifier checks HS256 bearer tokens.
type TokenVerifier struct {
	secret []byte
	issuer string
}

func NewTokenVerifier(cfg config.APIAuthConfig) *TokenVerifier {
	return &TokenVerifier{secret: []byte(cfg.JWTSecret), issuer: cfg.Issuer}
}

// Verify parses a token and returns the caller it identifies.
func (v *TokenVerifier) Verify(raw string) (models.Actor, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return models.Actor{}, errExpiredToken
		}
		return models.Actor{}, errInvalidToken
	}

	if claims.UserID <= 0 {
		return models.Actor{}, fmt.Errorf("%w: user_id is required", errInvalidToken)
	}
	switch claims.Role {
	case models.RoleUser, models.RoleSupervisor, models.RoleAdmin:
	case "":
		claims.Role = models.RoleUser
	default:
		return models.Actor{}, fmt.Errorf("%w: unknown role %q", errInvalidToken, claims.Role)
	}

	return models.Actor{UserID: claims.UserID, Role: claims.Role, Department: claims.Department}, nil
}

// IssueToken signs a token for actor. The service never issues tokens itself;
// this exists for tests and local tooling.
func IssueToken(cfg config.APIAuthConfig, actor models.Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:     actor.UserID,
		Role:       actor.Role,
		Department: actor.Department,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.JWTSecret))
}

type ctxKey int

const (
	actorKey ctxKey = iota
	requestIDKey
)

func withActor(ctx context.Context, actor models.Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFrom returns the authenticated caller stored by the auth middleware.
func ActorFrom(ctx context.Context) (models.Actor, bool) {
	a, ok := ctx.Value(actorKey).(models.Actor)
	return a, ok
}

func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

// authMiddleware rejects requests without a valid bearer token.
func (s *HTTPServer) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			s.writeError(w, r, fmt.Errorf("%w: %v", domain.ErrUnauthorized, errMissingToken))
			return
		}
		actor, err := s.verifier.Verify(raw)
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err))
			return
		}
		next.ServeHTTP(w, r.WithContext(withActor(r.Context(), actor)))
	})
}
