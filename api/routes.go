package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/garnizeh/initiatives/internal/config"
	"github.com/garnizeh/initiatives/internal/obs"
	"github.com/garnizeh/initiatives/pkg/repository"
)

const maxRequestBody = 1 << 20

// Deps are the collaborators the router wires into its handlers.
type Deps struct {
	Users          repository.UserRepo
	Participations repository.ParticipationRepo
	Catalog        CatalogSource
	DB             Pinger
	Metrics        *obs.Metrics
}

func SetupRoutes(cfg *config.Config, version, buildTime string, deps Deps) *mux.Router {
	r := mux.NewRouter()

	// Middleware chain
	r.Use(LoggingMiddleware)
	r.Use(deps.Metrics.Instrument)
	r.Use(CORSMiddleware)
	r.Use(RecoveryMiddleware)
	r.Use(MaxBodyBytes(maxRequestBody))

	limiter := NewLoginLimiter(cfg.LoginRate.PerMinute, cfg.LoginRate.Burst)

	// Create handlers
	systemHandler := &SystemHandler{DB: deps.DB}
	authHandler := NewAuthHandler(deps.Users, cfg.JWTSecret, cfg.TokenDuration, limiter, deps.Metrics)
	usersHandler := NewUsersHandler(deps.Users, deps.Participations, deps.Catalog)
	catalogHandler := NewCatalogHandler(deps.Catalog)

	// Open endpoints
	r.HandleFunc("/version", systemHandler.VersionHandler(version, buildTime)).Methods(http.MethodGet)
	r.HandleFunc("/health", systemHandler.HealthHandler).Methods(http.MethodGet)
	r.Handle("/metrics", deps.Metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/users", usersHandler.ListUsers).Methods(http.MethodGet)
	r.HandleFunc("/users", usersHandler.CreateUser).Methods(http.MethodPost)
	r.HandleFunc("/users/friends", usersHandler.Friends).Methods(http.MethodGet)
	r.HandleFunc("/users/{id:[0-9]+}", usersHandler.GetUser).Methods(http.MethodGet)
	r.HandleFunc("/catalog.csv", catalogHandler.CSV).Methods(http.MethodGet)
	r.HandleFunc("/catalog/groups", catalogHandler.Groups).Methods(http.MethodGet)
	r.HandleFunc("/v1/auth/signin", authHandler.Signin).Methods(http.MethodPost)

	// API v1 Protected routes
	apiV1 := r.PathPrefix("/v1").Subrouter()
	apiV1.Use(JWTAuthMiddlewareWithSecret(cfg.JWTSecret))

	apiV1.HandleFunc("/auth/signout", authHandler.Signout).Methods(http.MethodPost)
	apiV1.HandleFunc("/users/{id:[0-9]+}", usersHandler.UpdateUser).Methods(http.MethodPatch)
	apiV1.HandleFunc("/users/{id:[0-9]+}/participations", usersHandler.AddParticipation).Methods(http.MethodPost)
	apiV1.HandleFunc("/users/{id:[0-9]+}/dashboard", usersHandler.Dashboard).Methods(http.MethodGet)

	return r
}
