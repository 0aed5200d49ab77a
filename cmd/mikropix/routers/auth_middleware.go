package routers

import (
	"context"
	"net/http"
	"strings"

	"github.com/AlexeySalamakhin/mikropix/cmd/mikropix/auth"
	"github.com/AlexeySalamakhin/mikropix/cmd/mikropix/models"
)

const jwtCookie = "jwt"

type TokenParser interface {
	ParseJWT(raw string) (*auth.Claims, error)
}

type ctxKey struct{}

// Principal is the authenticated caller.
type Principal struct {
	AccountID string
	Role      models.Role
}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(Principal)
	return p, ok
}

func tokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(jwtCookie); err == nil && c.Value != "" {
		return c.Value
	}
	h := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	return ""
}

// AuthMiddleware accepts the session cookie or a bearer token.
func AuthMiddleware(tokens TokenParser) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := tokenFromRequest(r)
			if raw == "" {
				http.Error(w, "пользователь не аутентифицирован", http.StatusUnauthorized)
				return
			}
			claims, err := tokens.ParseJWT(raw)
			if err != nil {
				http.Error(w, "пользователь не аутентифицирован", http.StatusUnauthorized)
				return
			}
			ctx := WithPrincipal(r.Context(), Principal{AccountID: claims.Subject, Role: claims.Role})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func AdminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFromContext(r.Context())
		if !ok {
			http.Error(w, "пользователь не аутентифицирован", http.StatusUnauthorized)
			return
		}
		if p.Role != models.RoleAdmin {
			http.Error(w, "доступ запрещён", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
