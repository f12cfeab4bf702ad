package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"

	"github.com/joao-fontenele/deliveryflow/internal/domain"
)

var ErrUnauthenticated = errors.New("unauthenticated")

type claims struct {
	Roles      []domain.Role `json:"roles"`
	MerchantID string        `json:"merchant_id,omitempty"`
	CourierID  string        `json:"courier_id,omitempty"`
	jwt.StandardClaims
}

// Verifier validates HS256 bearer tokens issued by the identity provider.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

func (v *Verifier) Verify(token string) (domain.Principal, error) {
	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return domain.Principal{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if c.Subject == "" {
		return domain.Principal{}, fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}

	return domain.Principal{
		Subject:    c.Subject,
		Roles:      c.Roles,
		MerchantID: c.MerchantID,
		CourierID:  c.CourierID,
	}, nil
}

// Issue signs a token for p. The services never mint tokens themselves; this
// exists for local tooling and tests.
func (v *Verifier) Issue(p domain.Principal, ttl time.Duration) (string, error) {
	c := claims{
		Roles:      p.Roles,
		MerchantID: p.MerchantID,
		CourierID:  p.CourierID,
		StandardClaims: jwt.StandardClaims{
			Subject:   p.Subject,
			IssuedAt:  time.Now().Unix(),
			ExpiresAt: time.Now().Add(ttl).Unix(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(v.secret)
}

// Require rejects requests without a valid bearer token and stores the
// principal in the request context. Websocket clients that cannot set
// headers may pass the token as the access_token query parameter.
func (v *Verifier) Require(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeUnauthenticated(w, "missing bearer token")
			return
		}

		principal, err := v.Verify(token)
		if err != nil {
			writeUnauthenticated(w, "invalid bearer token")
			return
		}

		next(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	}
}

func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			return ""
		}
		return strings.TrimSpace(token)
	}
	return r.URL.Query().Get("access_token")
}

func writeUnauthenticated(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message, "code": "Unauthenticated"})
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p domain.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func FromContext(ctx context.Context) (domain.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(domain.Principal)
	return p, ok
}
