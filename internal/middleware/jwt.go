// internal/middleware/jwt.go
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"devsquad-chat/internal/models"
	"devsquad-chat/internal/utils"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Verifier turns a bearer credential into a verified identity. Every failure
// is an UNAUTHORIZED AppError; callers never learn more than that.
type Verifier interface {
	Verify(ctx context.Context, token string) (*models.Identity, error)
}

// Claims represents the JWT claims issued by the auth provider.
type Claims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier validates HS256 tokens locally with the provider's shared secret.
type JWTVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

// Verify parses and validates the token. The subject must be a user UUID.
func (v *JWTVerifier) Verify(ctx context.Context, tokenString string) (*models.Identity, error) {
	if tokenString == "" {
		return nil, utils.NewUnauthorizedError("missing token")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			return v.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return nil, &utils.AppError{Code: utils.ErrUnauthorized, Message: "Unauthorized: invalid token", Origin: err}
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, utils.NewUnauthorizedError("invalid subject")
	}

	return &models.Identity{ID: userID, Email: claims.Email, Role: claims.Role}, nil
}

// GenerateToken signs a token for identity. The provider issues tokens in
// production; this is used by local tooling and tests.
func GenerateToken(secret string, identity models.Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Email: identity.Email,
		Role:  identity.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-time.Minute)),
			Subject:   identity.ID.String(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

// ErrorWriter renders an AppError as a response. Handlers pass their own
// writer so auth failures share the API's error body.
type ErrorWriter func(w http.ResponseWriter, err error)

// AuthMiddleware verifies the bearer token on every request and stores the
// identity in the request context.
func AuthMiddleware(verifier Verifier, logger *slog.Logger, writeError ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeError(w, utils.NewUnauthorizedError("authorization header required"))
				return
			}

			identity, err := verifier.Verify(r.Context(), token)
			if err != nil {
				logger.Debug("Rejected bearer token", "token", utils.TokenPrefix(token), "error", err)
				writeError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(SetIdentityInContext(r.Context(), identity)))
		})
	}
}

// Define a custom context key type to avoid collisions
type contextKey string

// IdentityKey is the key used to store the verified identity in the context
const IdentityKey contextKey = "identity"

// SetIdentityInContext saves the identity in the request context
func SetIdentityInContext(ctx context.Context, identity *models.Identity) context.Context {
	return context.WithValue(ctx, IdentityKey, identity)
}

// GetIdentityFromContext retrieves the identity from the context
func GetIdentityFromContext(ctx context.Context) (*models.Identity, bool) {
	identity, ok := ctx.Value(IdentityKey).(*models.Identity)
	return identity, ok && identity != nil
}
