package server

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/atlekbai/fhirpath_sql/internal/handler"
	"github.com/atlekbai/fhirpath_sql/internal/middleware"
)

// NewRouter wires the API handlers behind the middleware chain. The chain
// wraps the whole router so unmatched requests are logged too.
func NewRouter(h *handler.Handler, logger *slog.Logger) http.Handler {
	r := mux.NewRouter()
	h.Register(r)
	// mux reports a method mismatch as 404 once NotFoundHandler is set,
	// unless MethodNotAllowedHandler is set as well.
	r.NotFoundHandler = jsonStatus(http.StatusNotFound, `{"error":"Not found","code":"NOT_FOUND"}`)
	r.MethodNotAllowedHandler = jsonStatus(http.StatusMethodNotAllowed, `{"error":"Method not allowed","code":"METHOD_NOT_ALLOWED"}`)

	var root http.Handler = r
	root = middleware.Recovery(logger)(root)
	root = middleware.Logging(logger)(root)
	root = middleware.RequestID(root)
	return root
}

func jsonStatus(status int, body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body + "\n"))
	})
}
