package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicbook/booking-api/pkg/response"
)

// AdminSecretHeader carries the shared back-office secret.
const AdminSecretHeader = "X-Admin-Secret"

const tokenIssuer = "booking-api"

// Claims are the claims of an admin session token.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// AdminGate authenticates back-office requests. A request passes with the
// shared secret in X-Admin-Secret or with a bearer token issued by Login.
// Tokens are HS256-signed with the same secret.
type AdminGate struct {
	secret   []byte
	tokenTTL time.Duration
	now      func() time.Time
}

func NewAdminGate(secret string, tokenTTL time.Duration) *AdminGate {
	if tokenTTL <= 0 {
		tokenTTL = 12 * time.Hour
	}
	return &AdminGate{secret: []byte(secret), tokenTTL: tokenTTL, now: time.Now}
}

// Enabled reports whether a secret is configured. Without one every admin
// request is rejected.
func (g *AdminGate) Enabled() bool { return len(g.secret) > 0 }

func (g *AdminGate) checkSecret(candidate string) bool {
	if !g.Enabled() || candidate == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(candidate), g.secret) == 1
}

// IssueToken signs a session token for subject and returns it with its
// expiry.
func (g *AdminGate) IssueToken(subject string) (string, time.Time, error) {
	now := g.now()
	exp := now.Add(g.tokenTTL)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   subject,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Role: "admin",
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign admin token: %w", err)
	}
	return signed, exp, nil
}

// VerifyToken parses and validates a session token.
func (g *AdminGate) VerifyToken(tokenStr string) (*Claims, error) {
	if !g.Enabled() {
		return nil, errors.New("admin access is not configured")
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		return g.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(g.now),
	)
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.Role != "admin" {
		return nil, errors.New("invalid admin token")
	}
	return claims, nil
}

// Middleware rejects requests that carry neither the secret nor a valid
// token with 401.
func (g *AdminGate) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if secret := c.Request().Header.Get(AdminSecretHeader); secret != "" {
				if !g.checkSecret(secret) {
					return unauthorized("invalid admin secret")
				}
			} else {
				authHeader := c.Request().Header.Get("Authorization")
				if authHeader == "" {
					return unauthorized("admin credentials required")
				}
				scheme, tokenStr, ok := strings.Cut(authHeader, " ")
				if !ok || !strings.EqualFold(scheme, "bearer") {
					return unauthorized("invalid authorization format")
				}
				claims, err := g.VerifyToken(strings.TrimSpace(tokenStr))
				if err != nil {
					return unauthorized("invalid token")
				}
				c.Set("admin_subject", claims.Subject)
			}
			return next(c)
		}
	}
}

type loginRequest struct {
	Secret string `json:"secret"`
}

// LoginHandler exchanges the shared secret for a session token.
func (g *AdminGate) LoginHandler(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return response.NewError(http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body")
	}
	if !g.checkSecret(req.Secret) {
		return unauthorized("invalid admin secret")
	}
	token, exp, err := g.IssueToken("admin")
	if err != nil {
		return err
	}
	return response.OK(c, map[string]any{
		"token":     token,
		"expiresAt": exp.UTC(),
	})
}

func unauthorized(msg string) error {
	return response.NewError(http.StatusUnauthorized, "UNAUTHORIZED", msg)
}
