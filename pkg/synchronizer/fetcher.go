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

// Package synchronizer keeps the registries of a gateway node in line with the
// central event log through periodic, paged and incremental passes.
package synchronizer

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/eventlog"
)

// DefaultPageSize is the number of events read per page.
const DefaultPageSize = 100

// Fetcher reads the event log page by page.
type Fetcher struct {
	repository eventlog.Repository
	pageSize   int

	logger *logrus.Entry
}

// PageSize returns the number of events read per page.
func (f *Fetcher) PageSize() int {
	return f.pageSize
}

// Fetch pages through the events matching the query, at offsets 0, N, 2N...
// and calls emit for each event, in log order. Fetching stops after a page
// shorter than N. The offset and limit of the query are overridden.
// A fetch or emit error aborts, leaving the already emitted events emitted.
func (f *Fetcher) Fetch(ctx context.Context, q eventlog.Query, emit func(*eventlog.DistributedEvent) error) error {
	q.Limit = f.pageSize
	for offset := 0; ; offset += f.pageSize {
		q.Offset = offset

		page, err := f.repository.FetchPage(ctx, q)
		if err != nil {
			return fmt.Errorf("cannot fetch %s events at offset %d: %w", q.Type, offset, err)
		}

		f.logger.Debugf("Fetched %d %s events at offset %d.", len(page), q.Type, offset)

		for i := range page {
			if err := emit(&page[i]); err != nil {
				return err
			}
		}

		if len(page) < f.pageSize {
			return nil
		}
	}
}

// NewFetcher returns a new event log fetcher.
func NewFetcher(repository eventlog.Repository, pageSize int) *Fetcher {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	return &Fetcher{
		repository: repository,
		pageSize:   pageSize,
		logger:     logrus.WithField("component", "synchronizer.fetcher"),
	}
}
