// Copyright (C) 2015 The Gravitee team (http://gravitee.io)
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package health

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const (
	// HealthPath is the path of the health endpoint.
	HealthPath = "/_node/health"
	// MetricsPath is the path of the metrics endpoint.
	MetricsPath = "/metrics"
)

// Handler serves the checks and metrics of a node over HTTP.
type Handler struct {
	checker  *Checker
	gatherer prometheus.Gatherer

	logger *logrus.Entry
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	requestLogger := h.logger.WithFields(logrus.Fields{"method": "health", "path": r.URL.Path})

	results, healthy, err := h.checker.Check(r.Context(), ParseChecks(r.URL.Query().Get("checks"))...)
	if err != nil {
		if errors.Is(err, ErrUnknownCheck) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		requestLogger.Errorf("Cannot run checks: %v.", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	encoded, err := json.Marshal(results)
	if err != nil {
		requestLogger.Errorf("Cannot encode check results: %v.", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	status := http.StatusOK
	if !healthy {
		requestLogger.Debugf("Unhealthy: %s.", encoded)
		status = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	if _, err := w.Write(encoded); err != nil {
		requestLogger.Errorf("Cannot write http response: %v.", err)
	}
}

// Register the health and metrics routes.
func (h *Handler) Register(router chi.Router) {
	router.Get(HealthPath, h.health)
	router.Method(http.MethodGet, MetricsPath, promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
}

// NewHandler returns a new HTTP handler of the checks and metrics.
func NewHandler(checker *Checker, gatherer prometheus.Gatherer) *Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	return &Handler{
		checker:  checker,
		gatherer: gatherer,
		logger:   logrus.WithField("component", "health.http"),
	}
}
