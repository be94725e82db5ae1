// Package api exposes the daemon's status over HTTP: liveness, readiness
// tied to the initial subscription, and a small JSON status document.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mikaelwills/spacenotes/internal/tracker"
)

// StatusSource reports the remote client's view of the world.
type StatusSource interface {
	Synced() bool
	Counts() (notes, folders int)
}

// Status is the /status response document.
type Status struct {
	Synced       bool   `json:"synced"`
	Notes        int    `json:"notes"`
	Folders      int    `json:"folders"`
	Fingerprints int    `json:"fingerprints"`
	VaultPath    string `json:"vault_path"`
}

// NewRouter builds the status router.
func NewRouter(src StatusSource, tr *tracker.Tracker, vaultPath string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		if !src.Synced() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "waiting for subscription"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		notes, folders := src.Counts()
		writeJSON(w, http.StatusOK, Status{
			Synced:       src.Synced(),
			Notes:        notes,
			Folders:      folders,
			Fingerprints: tr.Len(),
			VaultPath:    vaultPath,
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
