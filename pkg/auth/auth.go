// Package auth validates bearer tokens and carries the caller's identity and
// selected organization through the request context.
package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/pesio-ai/be-expense-approvals/pkg/errors"
)

// OrganizationHeader selects the organization for a request when the token
// does not pin one.
const OrganizationHeader = "X-Organization-ID"

// UserContext is the authenticated caller.
type UserContext struct {
	UserID         string
	Email          string
	OrganizationID string
}

// Claims is the JWT payload issued by the identity provider.
type Claims struct {
	Email          string `json:"email,omitempty"`
	OrganizationID string `json:"org_id,omitempty"`
	jwt.RegisteredClaims
}

type ctxKey struct{}

// WithUserContext attaches uc to ctx.
func WithUserContext(ctx context.Context, uc *UserContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, uc)
}

// GetUserContext returns the authenticated caller or a NOT_AUTHENTICATED error.
func GetUserContext(ctx context.Context) (*UserContext, error) {
	uc, ok := ctx.Value(ctxKey{}).(*UserContext)
	if !ok || uc == nil || uc.UserID == "" {
		return nil, errors.New(errors.ErrCodeNotAuthenticated, "user is not authenticated")
	}
	return uc, nil
}

// RequireOrganization returns the caller together with a non-empty
// organization ID, or NO_ORGANIZATION_SELECTED.
func RequireOrganization(ctx context.Context) (*UserContext, error) {
	uc, err := GetUserContext(ctx)
	if err != nil {
		return nil, err
	}
	if uc.OrganizationID == "" {
		return nil, errors.New(errors.ErrCodeNoOrganizationSelected, "no organization selected")
	}
	return uc, nil
}

// Verifier parses HMAC-signed tokens.
type Verifier struct {
	secret []byte
	now    func() time.Time
}

// NewVerifier creates a verifier for the given shared secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret), now: time.Now}
}

// Parse validates a raw token and returns its user context.
func (v *Verifier) Parse(raw string) (*UserContext, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.secret, nil
	}, jwt.WithTimeFunc(v.now))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeNotAuthenticated, "invalid token")
	}
	if !token.Valid {
		return nil, errors.New(errors.ErrCodeNotAuthenticated, "invalid token")
	}
	if claims.Subject == "" {
		return nil, errors.New(errors.ErrCodeNotAuthenticated, "token has no subject")
	}
	return &UserContext{
		UserID:         claims.Subject,
		Email:          claims.Email,
		OrganizationID: claims.OrganizationID,
	}, nil
}

// Sign issues a token for uc. Used by tooling and tests.
func (v *Verifier) Sign(uc UserContext, ttl time.Duration) (string, error) {
	now := v.now()
	claims := Claims{
		Email:          uc.Email,
		OrganizationID: uc.OrganizationID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uc.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

func bearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// Middleware authenticates HTTP requests. Paths in public skip authentication.
func (v *Verifier) Middleware(public ...string) func(http.Handler) http.Handler {
	skip := make(map[string]bool, len(public))
	for _, p := range public {
		skip[p] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			raw := bearerToken(r.Header.Get("Authorization"))
			if raw == "" {
				writeUnauthorized(w, "missing bearer token")
				return
			}
			uc, err := v.Parse(raw)
			if err != nil {
				writeUnauthorized(w, "invalid token")
				return
			}
			if org := r.Header.Get(OrganizationHeader); org != "" && uc.OrganizationID == "" {
				uc.OrganizationID = org
			}
			next.ServeHTTP(w, r.WithContext(WithUserContext(r.Context(), uc)))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"code":"NOT_AUTHENTICATED","message":"` + msg + `"}`))
}

// UnaryServerInterceptor authenticates gRPC calls from the "authorization"
// and "x-organization-id" metadata keys. Health checks are not authenticated.
func (v *Verifier) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if strings.HasPrefix(info.FullMethod, "/grpc.health.v1.Health/") {
			return handler(ctx, req)
		}
		md, _ := metadata.FromIncomingContext(ctx)
		raw := ""
		if vals := md.Get("authorization"); len(vals) > 0 {
			raw = bearerToken(vals[0])
		}
		if raw == "" {
			return nil, status.Error(codes.Unauthenticated, "missing bearer token")
		}
		uc, err := v.Parse(raw)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "invalid token")
		}
		if vals := md.Get(strings.ToLower(OrganizationHeader)); len(vals) > 0 && uc.OrganizationID == "" {
			uc.OrganizationID = vals[0]
		}
		return handler(WithUserContext(ctx, uc), req)
	}
}
