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
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultClientTimeout bounds a health request.
const DefaultClientTimeout = 3 * time.Second

// Client queries the health endpoint of a node.
type Client struct {
	client    *http.Client
	serverURL string

	logger *logrus.Entry
}

// Check the selected checks of the node, or its visible checks if none is selected.
// It returns the results by check id, and whether all checks are healthy.
func (c *Client) Check(ctx context.Context, checks ...string) (map[string]Result, bool, error) {
	target := c.serverURL + HealthPath
	if len(checks) > 0 {
		target += "?checks=" + url.QueryEscape(strings.Join(checks, ","))
	}

	requestLogger := c.logger.WithField("url", target)
	requestLogger.Debug("Issuing request.")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return nil, false, fmt.Errorf("unable to create http request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("unable to perform http request: %w", err)
	}

	defer func() {
		if err := resp.Body.Close(); err != nil {
			requestLogger.Warnf("Cannot close response body: %v.", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("unable to read response body: %w", err)
	}

	requestLogger.WithField("body-length", len(body)).Debugf("Received response: %d.", resp.StatusCode)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusInternalServerError:
	case http.StatusBadRequest:
		return nil, false, fmt.Errorf("%w: %s", ErrUnknownCheck, strings.TrimSpace(string(body)))
	default:
		return nil, false, fmt.Errorf("unexpected response status %d: %s", resp.StatusCode, body)
	}

	var results map[string]Result
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, false, fmt.Errorf("unable to decode check results: %w", err)
	}

	return results, resp.StatusCode == http.StatusOK, nil
}

// NewClient returns a new client of the health endpoint served on the given address.
func NewClient(address string, timeout time.Duration) *Client {
	serverURL := address
	if !strings.Contains(address, "://") {
		serverURL = "http://" + address
	}
	serverURL = strings.TrimSuffix(serverURL, "/")

	if timeout <= 0 {
		timeout = DefaultClientTimeout
	}

	return &Client{
		client:    &http.Client{Timeout: timeout},
		serverURL: serverURL,
		logger: logrus.WithFields(logrus.Fields{
			"component":  "health.client",
			"server-url": serverURL,
		}),
	}
}
