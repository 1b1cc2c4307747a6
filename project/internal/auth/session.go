package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const shopSuffix = ".myshopify.com"

var ErrInvalidShop = errors.New("session token does not name a shop")

// SessionClaims are the claims of an App Bridge session token.
type SessionClaims struct {
	jwt.RegisteredClaims
	Dest string `json:"dest"`
	SID  string `json:"sid,omitempty"`
}

// Shop returns the shop domain carried in the dest claim.
func (c *SessionClaims) Shop() (string, error) {
	u, err := url.Parse(c.Dest)
	if err != nil || u.Host == "" {
		return "", ErrInvalidShop
	}
	shop := strings.ToLower(u.Hostname())
	if !strings.HasSuffix(shop, shopSuffix) || len(shop) == len(shopSuffix) {
		return "", ErrInvalidShop
	}
	return shop, nil
}

type Verifier struct {
	secret []byte
	apiKey string
	leeway time.Duration
}

func NewVerifier(apiSecret, apiKey string) *Verifier {
	return &Verifier{
		secret: []byte(apiSecret),
		apiKey: apiKey,
		leeway: 5 * time.Second,
	}
}

// Verify parses a session token and returns the shop it was issued for.
// Only HS256 is accepted.
func (v *Verifier) Verify(tokenStr string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(v.leeway),
		jwt.WithExpirationRequired(),
	}
	if v.apiKey != "" {
		opts = append(opts, jwt.WithAudience(v.apiKey))
	}

	token, err := jwt.ParseWithClaims(tokenStr, &SessionClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, opts...)
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return "", errors.New("invalid token")
	}
	return claims.Shop()
}

type shopKey struct{}

// WithShop stores the authenticated shop in ctx.
func WithShop(ctx context.Context, shop string) context.Context {
	return context.WithValue(ctx, shopKey{}, shop)
}

// Shop returns the authenticated shop, or "" outside an authenticated request.
func Shop(ctx context.Context) string {
	s, _ := ctx.Value(shopKey{}).(string)
	return s
}

// Middleware rejects requests without a valid bearer session token and puts
// the shop into the request context.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := r.Header.Get("Authorization")
		if len(h) <= 7 || !strings.EqualFold(h[:7], "Bearer ") {
			unauthorized(w)
			return
		}

		shop, err := v.Verify(strings.TrimSpace(h[7:]))
		if err != nil {
			slog.Debug("rejected session token", "path", r.URL.Path, "error", err)
			unauthorized(w)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithShop(r.Context(), shop)))
	})
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   "Unauthorized",
	})
}

// SignSessionToken mints a session token for shop. Used by tests and local
// tooling that call the API outside the admin.
func SignSessionToken(apiSecret, apiKey, shop string, expiry time.Duration) (string, error) {
	now := time.Now()
	claims := &SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "https://" + shop + "/admin",
			Subject:   "1",
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		},
		Dest: "https://" + shop,
	}
	if apiKey != "" {
		claims.Audience = jwt.ClaimStrings{apiKey}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(apiSecret))
}
