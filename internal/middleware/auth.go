package middleware

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/RemisonBarawa/Freelance-App/config"
	"github.com/RemisonBarawa/Freelance-App/pkg/response"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

var ErrInvalidToken = errors.New("invalid token")

type Claims struct {
	UserID string `json:"uid,omitempty"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// AccountID returns the user id, falling back to the standard sub claim.
func (c *Claims) AccountID() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.RegisteredClaims.Subject
}

// Verifier validates access tokens issued by the marketplace auth service.
// Either an HS256 shared secret or an RS256 public key is configured.
type Verifier struct {
	secret []byte
	pub    *rsa.PublicKey
	issuer string
}

func NewVerifier(cfg config.AuthConfig) (*Verifier, error) {
	v := &Verifier{issuer: cfg.Issuer}
	if cfg.JWTPublicKeyPath != "" {
		data, err := os.ReadFile(cfg.JWTPublicKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read JWT public key: %w", err)
		}
		pub, err := jwt.ParseRSAPublicKeyFromPEM(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse JWT public key: %w", err)
		}
		v.pub = pub
	}
	if cfg.JWTSecret != "" {
		v.secret = []byte(cfg.JWTSecret)
	}
	return v, nil
}

func NewHMACVerifier(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer}
}

func (v *Verifier) ParseAndValidate(tokenStr string) (*Claims, error) {
	var methods []string
	if v.pub != nil {
		methods = append(methods, jwt.SigningMethodRS256.Alg())
	}
	if len(v.secret) > 0 {
		methods = append(methods, jwt.SigningMethodHS256.Alg())
	}
	if len(methods) == 0 {
		return nil, ErrInvalidToken
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods(methods), jwt.WithExpirationRequired()}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := new(Claims)
	token, err := jwt.NewParser(opts...).ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); ok {
			return v.pub, nil
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid || claims.AccountID() == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

type AuthMiddleware struct {
	verifier *Verifier
	logger   *zap.Logger
}

func NewAuthMiddleware(verifier *Verifier, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier, logger: logger}
}

// Require authenticates the request and, when roles are given, checks the
// token role against them.
func (am *AuthMiddleware) Require(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractToken(r)
			if token == "" {
				response.Error(w, http.StatusUnauthorized, "No token provided")
				return
			}

			claims, err := am.verifier.ParseAndValidate(token)
			if err != nil {
				am.logger.Debug("rejected token",
					zap.String("path", r.URL.Path),
					zap.Error(err))
				response.Error(w, http.StatusUnauthorized, "Invalid or expired token")
				return
			}

			if len(roles) > 0 && !contains(roles, claims.Role) {
				am.logger.Warn("role not allowed",
					zap.String("user_id", claims.AccountID()),
					zap.String("role", claims.Role),
					zap.String("path", r.URL.Path))
				response.Error(w, http.StatusForbidden, "Insufficient permissions")
				return
			}

			ctx := context.WithValue(r.Context(), ContextUserID, claims.AccountID())
			ctx = context.WithValue(ctx, ContextRole, claims.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractToken(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}
	if cookie, err := r.Cookie("token"); err == nil {
		return cookie.Value
	}
	// browsers cannot set headers on websocket upgrades
	if q := r.URL.Query().Get("token"); q != "" {
		return q
	}
	return ""
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
