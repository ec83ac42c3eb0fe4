package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/beehive-sync/beehive/internal/auth"
	"github.com/beehive-sync/beehive/internal/metrics"
	"github.com/beehive-sync/beehive/internal/repository"
)

// RouterConfig holds all dependencies needed to build the admin HTTP router
// (spec §6.2). It is populated in main.go after all components are
// initialized and passed to NewRouter as a single struct to keep the
// constructor signature manageable as the number of dependencies grows.
type RouterConfig struct {
	Contexts repository.ContextRepository
	Versions repository.SchemaVersionRepository
	Users    repository.UserRepository
	Sessions *auth.Session
	// Registries invalidates a context's cached schema.Registry after
	// publish/revert/delete so the sync server picks up the change without a
	// restart. May be nil in tests that don't exercise LINK/UNLINK.
	Registries RegistryInvalidator
	Logger     *zap.Logger

	// AdminUser/AdminPassword gate the developer-facing /context routes via
	// HTTP Basic (spec §6.2).
	AdminUser     string
	AdminPassword string
}

// NewRouter builds and returns the fully configured Chi router.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", metrics.Handler())

	contextHandler := NewContextHandler(cfg.Contexts, cfg.Versions, cfg.Registries, cfg.Logger)
	userHandler := NewUserHandler(cfg.Users, cfg.Sessions, cfg.Logger)
	synchHandler := NewSynchHandler(cfg.Sessions, cfg.Logger)

	r.Route("/context", func(r chi.Router) {
		// --- Node session routes: credentials are the sync client's own
		// (local password or Google ID token), carried in each request body,
		// not HTTP Basic — so these sit outside RequireBasicAuth.
		r.Route("/{uuid}/synch", func(r chi.Router) {
			r.Post("/signup", synchHandler.SignUp)
			r.Post("/signin", synchHandler.SignIn)
			r.Post("/signout", synchHandler.SignOut)
			r.Post("/signoff", synchHandler.SignOff)
		})

		// --- Developer routes: HTTP Basic against the operator credential.
		r.Group(func(r chi.Router) {
			r.Use(RequireBasicAuth(cfg.AdminUser, cfg.AdminPassword))

			r.Post("/", contextHandler.Create)
			r.Get("/", contextHandler.List)

			r.Route("/{uuid}", func(r chi.Router) {
				r.Get("/", contextHandler.GetByID)
				r.Put("/", contextHandler.Update)
				r.Delete("/", contextHandler.Delete)
				r.Method("LINK", "/", http.HandlerFunc(contextHandler.Link))
				r.Method("UNLINK", "/", http.HandlerFunc(contextHandler.Unlink))

				r.Get("/versions", contextHandler.Versions)
				r.Get("/versions/{n}", contextHandler.Version)

				r.Get("/users", userHandler.List)
				r.Post("/users", userHandler.Create)
				r.Get("/users/{userUuid}", userHandler.GetByID)
				r.Put("/users/{userUuid}", userHandler.Update)
				r.Delete("/users/{userUuid}", userHandler.Delete)
			})
		})
	})

	return r
}
