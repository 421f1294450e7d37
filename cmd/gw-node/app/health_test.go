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

package app_test

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/gravitee-io/gravitee-api-management-sub106/cmd/gw-node/app"
	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/health"
)

type staticCheck struct {
	id     string
	result health.Result
}

func (p *staticCheck) ID() string {
	return p.id
}

func (p *staticCheck) Check(context.Context) health.Result {
	return p.result
}

func (p *staticCheck) VisibleByDefault() bool {
	return true
}

func TestHealthCommand(t *testing.T) {
	checker := health.NewChecker(
		&staticCheck{id: "up", result: health.Result{Status: health.Healthy}},
		&staticCheck{id: "down", result: health.Result{Status: health.NotReady, Message: "starting"}},
	)

	router := chi.NewRouter()
	health.NewHandler(checker, prometheus.NewRegistry()).Register(router)
	server := httptest.NewServer(router)
	defer server.Close()

	out, err := run(t, "", "health", "--admin-address", server.URL, "--checks", "up")
	require.Nil(t, err)
	require.Equal(t, "up: healthy\n", out)

	out, err = run(t, "", "health", "--admin-address", server.URL)
	require.ErrorIs(t, err, app.ErrUnhealthy)
	require.Equal(t, "down: not_ready (starting)\nup: healthy\n", out)

	_, err = run(t, "", "health", "--admin-address", server.URL, "--checks", "missing")
	require.ErrorIs(t, err, health.ErrUnknownCheck)
}
