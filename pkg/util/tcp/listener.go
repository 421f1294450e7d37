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

package tcp

import (
	"context"
	"net"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultKeepAlive is the keep-alive period of accepted connections.
const DefaultKeepAlive = 30 * time.Second

// Listener is a wrapper of a TCP listener.
type Listener struct {
	name      string
	address   string
	keepAlive time.Duration
	listener  net.Listener

	logger *logrus.Entry
}

// SetKeepAlive sets the keep-alive period of accepted connections.
// A negative period disables keep-alives. Applies to later calls to Listen.
func (l *Listener) SetKeepAlive(period time.Duration) {
	l.keepAlive = period
}

// Listen starts the listener.
func (l *Listener) Listen(address string) error {
	lc := net.ListenConfig{KeepAlive: l.keepAlive}
	lis, err := lc.Listen(context.Background(), "tcp", address)
	if err != nil {
		return err
	}

	l.address = lis.Addr().String()
	l.listener = lis
	l.logger.Infof("Listening on %s.", l.address)
	return nil
}

// GetAddress returns the listening address, with the actual port if listening on port 0.
func (l *Listener) GetAddress() string {
	return l.address
}

// GetListener returns the wrapped listener.
func (l *Listener) GetListener() net.Listener {
	return l.listener
}

// Name returns the name of listener.
func (l *Listener) Name() string {
	return l.name
}

// Close the listener. Closing a listener that never listened is a no-op.
func (l *Listener) Close() error {
	if l.listener == nil {
		return nil
	}

	l.logger.Info("Closing listener.")
	return l.listener.Close()
}

// NewListener returns a new listener.
func NewListener(name string) Listener {
	return Listener{
		name:      name,
		keepAlive: DefaultKeepAlive,
		logger: logrus.WithFields(logrus.Fields{
			"component": "listener",
			"name":      name,
		}),
	}
}
