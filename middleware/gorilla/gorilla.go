// Package gorilla adapts the credit gate and the papermatch functions to
// gorilla/mux routers.
package gorilla

import (
	"net/http"

	"github.com/gorilla/mux"

	httpmw "github.com/papermatch/papermatch-functions/middleware/http"
	"github.com/papermatch/papermatch-functions/pkg/functions"
)

// Middleware returns the net/http credit gate as a mux middleware
func Middleware(cfg httpmw.Config) mux.MiddlewareFunc {
	return mux.MiddlewareFunc(httpmw.Middleware(cfg))
}

// Mount routes the /functions/v1 prefix and /healthz to the functions router
func Mount(r *mux.Router, router http.Handler) {
	r.PathPrefix(functions.BasePath + "/").Handler(router)
	r.Handle(functions.HealthPath, router).Methods(http.MethodGet)
}

// FromVar returns a UserIDExtractor that gets user ID from a route variable
func FromVar(name string) httpmw.UserIDExtractor {
	return func(r *http.Request) string {
		return mux.Vars(r)[name]
	}
}
