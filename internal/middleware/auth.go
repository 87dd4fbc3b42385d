package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"offer-chain-api/internal/apierror"
	"offer-chain-api/internal/auth"
	"offer-chain-api/internal/models"
)

// Authenticate verifies the bearer token and attaches the caller to the
// request context. When disabled every request runs as auth.Anonymous.
func Authenticate(verifier *auth.Verifier, enabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled {
				next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), auth.Anonymous)))
				return
			}

			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				writeError(w, apierror.Unauthorized(apierror.CodeUnauthorized, "Authentication required"))
				return
			}

			p, err := verifier.Verify(strings.TrimSpace(token))
			if err != nil {
				writeError(w, apierror.From(err))
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
		})
	}
}

// RequirePermission rejects callers whose capabilities do not cover the
// request method on section.
func RequirePermission(section string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := principalFrom(r)
			if !ok {
				writeError(w, apierror.Unauthorized(apierror.CodeUnauthorized, "Authentication required"))
				return
			}

			action, ok := auth.ActionForMethod(r.Method)
			if !ok {
				writeError(w, apierror.New(http.StatusMethodNotAllowed, apierror.CodeForbidden, "Method not allowed"))
				return
			}
			if err := auth.Authorize(p, section, action); err != nil {
				writeError(w, apierror.From(err))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireAction is RequirePermission with a fixed action, for routes whose
// method does not describe what they do.
func RequireAction(section string, action auth.Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := principalFrom(r)
			if !ok {
				writeError(w, apierror.Unauthorized(apierror.CodeUnauthorized, "Authentication required"))
				return
			}
			if err := auth.Authorize(p, section, action); err != nil {
				writeError(w, apierror.From(err))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func principalFrom(r *http.Request) (auth.Principal, bool) {
	return auth.FromContext(r.Context())
}

func writeError(w http.ResponseWriter, apiErr *apierror.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.Status)
	json.NewEncoder(w).Encode(models.ErrorResponse{
		Success: false,
		Message: apiErr.Message,
		Code:    apiErr.Code,
	})
}
