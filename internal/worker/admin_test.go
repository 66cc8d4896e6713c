// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/adiadia/approval-workflow/internal/metrics"
)

func TestAdminHandlerServesOverdueCounter(t *testing.T) {
	metrics.IncOverdueSteps()

	srv := httptest.NewServer(AdminHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("get /metrics: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 got %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "workflow_overdue_steps_total") {
		t.Fatal("expected overdue counter on the worker metrics endpoint")
	}

	health, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get /healthz: %v", err)
	}
	health.Body.Close()
	if health.StatusCode != http.StatusOK {
		t.Fatalf("expected healthz 200 got %d", health.StatusCode)
	}
}
