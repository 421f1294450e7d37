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

package runnable_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/util/runnable"
)

// blocking runs until stopped, or fails immediately if err is set.
type blocking struct {
	name    string
	err     error
	stopCh  chan struct{}
	once    sync.Once
	stopped *[]string
	lock    *sync.Mutex
}

func newBlocking(name string, err error, stopped *[]string, lock *sync.Mutex) *blocking {
	return &blocking{name: name, err: err, stopCh: make(chan struct{}), stopped: stopped, lock: lock}
}

func (b *blocking) Name() string {
	return b.name
}

func (b *blocking) Start() error {
	if b.err != nil {
		return b.err
	}
	<-b.stopCh
	return nil
}

func (b *blocking) Stop() error {
	b.once.Do(func() {
		b.lock.Lock()
		*b.stopped = append(*b.stopped, b.name)
		b.lock.Unlock()
		close(b.stopCh)
	})
	return nil
}

func (b *blocking) GracefulStop() error {
	return b.Stop()
}

func TestRunStopsAllOnFailure(t *testing.T) {
	var stopped []string
	lock := &sync.Mutex{}
	failure := errors.New("failed")

	m := runnable.NewManager()
	m.Add(newBlocking("first", nil, &stopped, lock))
	m.Add(newBlocking("second", nil, &stopped, lock))
	m.Add(newBlocking("failing", failure, &stopped, lock))

	err := m.Run()
	require.ErrorIs(t, err, failure)
	require.Contains(t, stopped, "first")
	require.Contains(t, stopped, "second")
}

func TestGracefulStopOrder(t *testing.T) {
	var stopped []string
	lock := &sync.Mutex{}

	m := runnable.NewManager()
	m.Add(newBlocking("first", nil, &stopped, lock))
	m.Add(newBlocking("second", nil, &stopped, lock))

	errCh := make(chan error, 1)
	go func() { errCh <- m.Run() }()

	require.Nil(t, m.GracefulStop())
	require.Nil(t, <-errCh)
	require.Equal(t, []string{"second", "first"}, stopped)
}

// hanging never completes a graceful stop.
type hanging struct {
	*blocking
}

func (h *hanging) GracefulStop() error {
	select {}
}

func TestGracefulStopWithin(t *testing.T) {
	var stopped []string
	lock := &sync.Mutex{}

	m := runnable.NewManager()
	m.Add(newBlocking("first", nil, &stopped, lock))
	m.Add(&hanging{newBlocking("hanging", nil, &stopped, lock)})

	errCh := make(chan error, 1)
	go func() { errCh <- m.Run() }()

	require.Nil(t, m.GracefulStopWithin(10*time.Millisecond))
	require.Nil(t, <-errCh)
	require.ElementsMatch(t, []string{"first", "hanging"}, stopped)
}
