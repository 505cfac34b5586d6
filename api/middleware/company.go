package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/lorisconti/drivehub-backend/api/responses"
	pkgerrors "github.com/lorisconti/drivehub-backend/pkg/errors"
	"github.com/lorisconti/drivehub-backend/pkg/logger"
)

const (
	companyIDHeader = "X-Company-Id"
	userIDHeader    = "X-User-Id"
)

// CompanyContext scopes every request to one tenant. The upstream gateway
// authenticates the caller and forwards the resolved identifiers as headers.
func CompanyContext(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get(companyIDHeader))
			if raw == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "company header missing"))
				return
			}
			companyID, err := uuid.Parse(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid company id"))
				return
			}

			ctx := WithCompanyID(r.Context(), companyID)
			if logg != nil {
				ctx = logg.WithCompanyID(ctx, companyID.String())
			}

			if rawUser := strings.TrimSpace(r.Header.Get(userIDHeader)); rawUser != "" {
				userID, err := uuid.Parse(rawUser)
				if err != nil {
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user id"))
					return
				}
				ctx = WithUserID(ctx, userID)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
