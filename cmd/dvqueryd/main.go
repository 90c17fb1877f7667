// Command dvqueryd is a minimal HTTP surface exposing the Dataverse
// Access Core's SqlQueryService over REST. It is thin: the handler
// only decodes the request, calls the core, and encodes the response.
package main

import (
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/solventis/dataverse-access-core/internal/api/errors"
	"github.com/solventis/dataverse-access-core/internal/api/middleware"
	"github.com/solventis/dataverse-access-core/internal/app"
	"github.com/solventis/dataverse-access-core/internal/config"
	"github.com/solventis/dataverse-access-core/pkg/contracts"
)

// queryRequest is the body of POST /v1/query.
//
// swagger:model queryRequest
type queryRequest struct {
	SQL      string `json:"sql"`
	Confirm  bool   `json:"confirm,omitempty"`
	Estimate bool   `json:"estimate,omitempty"`
	NoLimit  bool   `json:"no_limit,omitempty"`
}

func main() {
	var (
		addr       = flag.String("addr", ":8080", "listen address")
		configPath = flag.String("config", "", "path to a YAML config file")
		storeDSN   = flag.String("store", "file::memory:?cache=shared", "sqlite DSN backing the fake organization")
	)
	flag.Parse()

	cfg, err := resolveConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		return
	}

	a, err := app.New(cfg, *storeDSN, nil)
	if err != nil {
		slog.Error("failed to initialize core", "error", err)
		return
	}
	defer a.Close()

	srv := &server{app: a}

	r := mux.NewRouter()
	r.Use(middleware.RequestIDMiddleware)
	r.Use(middleware.LoggingMiddleware(a.Logger))
	r.Use(middleware.RateLimitMiddleware(600, 50))
	r.HandleFunc("/v1/query", srv.handleQuery).Methods(http.MethodPost)
	r.HandleFunc("/v1/pool/status", srv.handlePoolStatus).Methods(http.MethodGet)
	r.PathPrefix("/swagger/").Handler(httpSwagger.WrapHandler)

	httpServer := &http.Server{
		Addr:         *addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	a.Logger.Info("dvqueryd listening", "addr", *addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		a.Logger.Error("server exited", "error", err)
	}
}

func resolveConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	cfg := &config.Config{
		Pool:     config.DefaultPoolConfig(),
		Throttle: config.DefaultThrottleConfig(),
		DmlGuard: config.DefaultDmlGuardConfig(),
	}
	cfg.Pool.Principals = []config.PrincipalConfig{
		{Name: "local", ResourceURL: "https://local.fakeservice.example.com", CredentialRef: "local-dev", ConfiguredMinimum: 2, HardCeiling: 8},
	}
	cfg.Log.Level = "info"
	cfg.Log.Format = "json"
	cfg.Log.Output = "stdout"
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

type server struct {
	app *app.App
}

// handleQuery godoc
// @Summary     Execute a T-SQL statement
// @Accept      json
// @Produce     json
// @Param       request body queryRequest true "query"
// @Success     200 {object} contracts.SqlResult
// @Router      /v1/query [post]
func (s *server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, err)
		return
	}

	result, err := s.app.SqlService.Execute(r.Context(), req.SQL, contracts.DmlOptions{
		Confirm:  req.Confirm,
		Estimate: req.Estimate,
		NoLimit:  req.NoLimit,
	})
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *server) handlePoolStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.app.Pool.Stats())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := errors.NewAPIError(contracts.CodeValidationError, err.Error()).
		WithRequestID(middleware.GetRequestID(r.Context()))
	errors.WriteError(w, apiErr)
}

func writeCoreError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := errors.FromCoreError(err).WithRequestID(middleware.GetRequestID(r.Context()))
	errors.WriteError(w, apiErr)
}
