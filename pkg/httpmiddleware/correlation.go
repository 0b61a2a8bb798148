package httpmiddleware

import (
	"net/http"

	"github.com/lewisedginton/whatsapp_session_gateway/pkg/logger"
)

// CorrelationID keeps a well-formed X-Correlation-ID from the caller or mints a
// new one, stores it on the request context and echoes it on the response.
func CorrelationID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r, id := logger.EnsureHTTPCorrelationID(r)
			w.Header().Set(logger.CorrelationIDHeader, id)
			next.ServeHTTP(w, r)
		})
	}
}
