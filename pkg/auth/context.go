package auth

import (
	"context"
	"net/http"

	"github.com/mihaimyh/goaccess/pkg/access"
)

type ctxKey string

const userKey ctxKey = "authUser"

// WithUser stores the authenticated user in ctx
func WithUser(ctx context.Context, user access.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// UserFromContext returns the authenticated user, if any
func UserFromContext(ctx context.Context) (access.User, bool) {
	u, ok := ctx.Value(userKey).(access.User)
	return u, ok && u.ID != ""
}

// FromRequest verifies the request's bearer token
func (v *Verifier) FromRequest(r *http.Request) (access.User, error) {
	tok, ok := BearerToken(r.Header.Get("Authorization"))
	if !ok {
		return access.User{}, ErrMissingToken
	}
	return v.Verify(tok)
}

// Middleware authenticates requests. With required set, requests without a
// valid token get 401; otherwise they pass through anonymously.
func (v *Verifier) Middleware(required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := v.FromRequest(r)
			if err != nil {
				if required {
					writeUnauthorized(w, err)
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
	w.WriteHeader(http.StatusUnauthorized)
	msg := "unauthorized"
	if err == ErrMissingToken {
		msg = ErrMissingToken.Error()
	}
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
