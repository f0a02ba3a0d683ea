// Package httpapi exposes the gateway's connection/account/payment/
// transaction surface as a JSON API. Grounded on GregMSThompson-finance-
// backend, the only repo in the pack wiring go-chi/chi; this router keeps
// chi's middleware-chain-plus-subrouter idiom but serves the gateway's own
// handlers instead of that project's account/ledger ones.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nexusbank/gateway/internal/clock"
	"github.com/nexusbank/gateway/internal/ebics"
	"github.com/nexusbank/gateway/internal/store"
)

// Deps are the dependencies every handler needs.
type Deps struct {
	Store     store.Store
	Transport ebics.Transport
	Clock     clock.Clock
}

// NewRouter builds the chi router described in the HTTP API surface design:
// connection lifecycle, account management, prepared-payment CRUD, and
// normalized transaction reads.
func NewRouter(deps Deps) http.Handler {
	h := &handlers{deps: deps, registry: newRegistry()}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(AuthStub)

	r.Route("/connections", func(r chi.Router) {
		r.Post("/", h.createConnection)
		r.Route("/{connID}", func(r chi.Router) {
			r.Delete("/", h.deleteConnection)

			r.Route("/ebics", func(r chi.Router) {
				r.Post("/ini", h.sendINI)
				r.Post("/hia", h.sendHIA)
				r.Post("/hpb", h.fetchHPB)
			})

			r.Route("/accounts", func(r chi.Router) {
				r.Post("/", h.createAccount)
				r.Route("/{accountID}", func(r chi.Router) {
					r.Post("/import-htd", h.importHTD)
					r.Get("/transactions", h.listTransactions)

					r.Route("/payments", func(r chi.Router) {
						r.Post("/", h.preparePayment)
						r.Get("/", h.listPayments)
					})
				})
			})
		})
	})

	return r
}

// AuthStub is the extension point for authentication, intentionally a
// no-op: SPEC_FULL.md excludes authentication from this gateway's scope,
// but the middleware slot is kept so a real implementation has somewhere
// to go without reshaping the router.
func AuthStub(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)
	})
}
