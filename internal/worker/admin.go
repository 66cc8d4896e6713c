// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"net/http"

	"github.com/adiadia/approval-workflow/internal/metrics"
	"github.com/go-chi/chi/v5"
)

// AdminHandler exposes the worker's liveness check and the Prometheus
// registry the sweeper records overdue flags and publish failures on.
func AdminHandler() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", metrics.Handler())

	return r
}
