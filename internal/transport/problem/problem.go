// SPDX-License-Identifier: Apache-2.0

// Package problem renders RFC 7807 problem documents for the HTTP surface.
package problem

import (
	"encoding/json"
	"net/http"

	"github.com/moogar0880/problems"
)

const ContentType = "application/problem+json"

// Write sends a problem document whose instance is the request path.
func Write(w http.ResponseWriter, r *http.Request, status int, typ, detail string) {
	p := problems.NewStatusProblem(status).
		WithInstance(r.URL.Path).
		WithType(typ).
		WithDetail(detail)

	w.Header().Set("Content-Type", ContentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(p)
}
