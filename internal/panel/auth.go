package panel

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"regdesk/internal/accesstoken"
	adminmodels "regdesk/internal/admin/models"
	"regdesk/pkg/domain"
	"regdesk/pkg/platform/httputil"
	"regdesk/pkg/requestcontext"
)

// TokenQueryParam carries the access token issued by the bot's /panel
// command.
const TokenQueryParam = "token"

type Authorizer interface {
	Authorize(ctx context.Context, p domain.PrincipalID, role adminmodels.Role) (*adminmodels.Admin, error)
}

// RequireAccessToken resolves the token to a principal, checks it is an
// active moderator and stores it as the request actor. Every failure gets
// the same 403.
func RequireAccessToken(tokens accesstoken.Store, authz Authorizer, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token := r.URL.Query().Get(TokenQueryParam)
			if token == "" {
				denied(w)
				return
			}
			principal, ok, err := tokens.Validate(ctx, token)
			if err != nil {
				log.Error("access token lookup failed",
					zap.String("request_id", requestcontext.RequestID(ctx)),
					zap.Error(err),
				)
				httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "unavailable"})
				return
			}
			if !ok {
				denied(w)
				return
			}
			if _, err := authz.Authorize(ctx, principal, adminmodels.RoleModerator); err != nil {
				log.Info("panel access refused",
					zap.Int64("principal_id", int64(principal)),
					zap.String("client_ip", requestcontext.ClientIP(ctx)),
				)
				denied(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(requestcontext.WithActor(ctx, principal)))
		})
	}
}

func denied(w http.ResponseWriter) {
	httputil.WriteJSON(w, http.StatusForbidden, map[string]string{"error": "access denied"})
}
