package handlers

import (
	"net/http"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"

	"github.com/darjeelingmomo/momoshop/internal/auth"
	"github.com/darjeelingmomo/momoshop/internal/logging"
	"github.com/darjeelingmomo/momoshop/internal/observability"
)

// RequireCustomer admits any valid bearer token and stores the principal in
// the request context.
func (h *Handlers) RequireCustomer(next http.Handler) http.Handler {
	return h.requirePrincipal(next, false)
}

// RequireAdmin admits only tokens carrying the admin role.
func (h *Handlers) RequireAdmin(next http.Handler) http.Handler {
	return h.requirePrincipal(next, true)
}

func (h *Handlers) requirePrincipal(next http.Handler, admin bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		meter := observability.MeterFromContext(ctx)

		principal, err := h.authenticator.Authenticate(r)
		if err != nil {
			meter.Count("auth.rejected", 1, sentry.WithAttributes(attribute.String("reason", "invalid_token")))
			h.loggerFromContext(ctx).Info("rejected request without valid token", "error", err)
			writeError(w, http.StatusUnauthorized, "Not authorized, login again")
			return
		}
		if admin && !principal.IsAdmin() {
			meter.Count("auth.rejected", 1, sentry.WithAttributes(attribute.String("reason", "not_admin")))
			h.loggerFromContext(ctx).Warn("rejected non-admin request to admin route", "user_id", principal.Subject)
			writeError(w, http.StatusForbidden, "Admin access required")
			return
		}

		meter.SetAttributes(
			attribute.String("user.id", principal.Subject),
			attribute.String("user.role", string(principal.Role)),
		)
		ctx = logging.WithLogger(ctx, h.loggerFromContext(ctx).With("user_id", principal.Subject))
		ctx = auth.WithPrincipal(ctx, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func principalFromRequest(r *http.Request) *auth.Principal {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		return nil
	}
	return principal
}
