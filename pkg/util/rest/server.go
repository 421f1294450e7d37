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

package rest

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/sirupsen/logrus"

	utilhttp "github.com/gravitee-io/gravitee-api-management-sub106/pkg/util/http"
)

// Server for handling read-only REST-JSON requests.
type Server struct {
	*utilhttp.Server

	logger *logrus.Entry
}

// Handler for object operations.
type Handler interface {
	// Get an object by id. Returns false if the object does not exist.
	Get(id string) (any, bool)
	// List all objects.
	List() any
}

// ServerObjectSpec specifies the server handler of a specific object type.
type ServerObjectSpec struct {
	// BasePath is the server HTTP path of a specific type of objects.
	BasePath string
	// Handler interface for object operations.
	Handler Handler
}

func (s *Server) respond(w http.ResponseWriter, requestLogger *logrus.Entry, result any) {
	encoded, err := json.Marshal(result)
	if err != nil {
		requestLogger.Errorf("Cannot encode object: %v.", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write(encoded); err != nil {
		requestLogger.Errorf("Cannot write http response: %v.", err)
	}
}

func (s *Server) get(spec *ServerObjectSpec, w http.ResponseWriter, r *http.Request) {
	requestLogger := s.logger.WithFields(logrus.Fields{"method": "get", "path": r.URL.Path})
	requestLogger.Debug("Handling request.")

	result, ok := spec.Handler.Get(chi.URLParam(r, "id"))
	if !ok {
		http.Error(w, "object not found", http.StatusNotFound)
		return
	}

	s.respond(w, requestLogger, result)
}

func (s *Server) list(spec *ServerObjectSpec, w http.ResponseWriter, r *http.Request) {
	requestLogger := s.logger.WithFields(logrus.Fields{"method": "list", "path": r.URL.Path})
	requestLogger.Debug("Handling request.")

	s.respond(w, requestLogger, spec.Handler.List())
}

// AddObjectHandlers adds the server handlers for reading a specific object type.
func (s *Server) AddObjectHandlers(spec *ServerObjectSpec) {
	s.Router().Route(spec.BasePath, func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			s.list(spec, w, r)
		})
		r.Get("/{id}", func(w http.ResponseWriter, r *http.Request) {
			s.get(spec, w, r)
		})
	})
}

// NewServer returns a new empty REST-JSON server.
func NewServer(name string, opts ...utilhttp.Option) *Server {
	return &Server{
		Server: utilhttp.NewServer(name, opts...),
		logger: logrus.WithFields(logrus.Fields{
			"component": "rest-server",
			"name":      name,
		}),
	}
}
