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

package rest_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/util/rest"
)

type mapHandler map[string]string

func (h mapHandler) Get(id string) (any, bool) {
	v, ok := h[id]
	return v, ok
}

func (h mapHandler) List() any {
	return h
}

func TestServer(t *testing.T) {
	server := rest.NewServer("test")
	server.AddObjectHandlers(&rest.ServerObjectSpec{
		BasePath: "/objects",
		Handler:  mapHandler{"a": "alpha"},
	})

	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		server.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, http.NoBody))
		return w
	}

	w := get("/objects/a")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
	require.JSONEq(t, `"alpha"`, w.Body.String())

	w = get("/objects/b")
	require.Equal(t, http.StatusNotFound, w.Code)

	w = get("/objects")
	require.Equal(t, http.StatusOK, w.Code)

	var all map[string]string
	require.Nil(t, json.Unmarshal(w.Body.Bytes(), &all))
	require.Equal(t, map[string]string{"a": "alpha"}, all)

	w = httptest.NewRecorder()
	server.Router().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/objects", http.NoBody))
	require.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
