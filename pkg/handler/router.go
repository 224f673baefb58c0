package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/resumesite/oidc-gatekeeper/pkg/audit"
	"github.com/resumesite/oidc-gatekeeper/pkg/config"
	"github.com/resumesite/oidc-gatekeeper/pkg/storage"
	"github.com/resumesite/oidc-gatekeeper/pkg/version"
)

// NewRouter builds the protected API surface: /health is open,
// everything else sits behind Authenticate, and uploads additionally
// require an admin group when any are configured.
func NewRouter(cfg *config.Config, registry TokenRegistry, store storage.Store, trail *audit.Trail) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", Health).Methods(http.MethodGet)

	api := r.NewRoute().Subrouter()
	api.Use(Authenticate(registry, trail))

	api.HandleFunc("/userinfo", UserInfo).Methods(http.MethodGet)

	if store != nil && cfg.Assets != nil && cfg.Assets.Bucket != "" {
		var upload http.Handler = NewUploadHandler(store, cfg.Assets)
		if len(cfg.AdminGroups) > 0 {
			upload = RequireGroup(cfg.AdminGroups...)(upload)
		}
		api.Handle("/documents", upload).Methods(http.MethodPost)
	}

	return r
}

// UserInfo returns the verified, normalized claims of the caller.
func UserInfo(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFrom(r.Context())
	if !ok {
		respondError(w, requestIDFrom(r.Context()), startTimeFrom(r.Context()),
			ErrMissingBearer.Error(), http.StatusUnauthorized)
		return
	}

	respondJSON(w, requestIDFrom(r.Context()), startTimeFrom(r.Context()), claims)
}

// Health reports liveness and build information.
func Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"version": version.Get(),
	}); err != nil {
		slog.Error("Error encoding health check response", "error", err)
	}
}
