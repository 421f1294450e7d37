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

package properties

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// KeyConsumer represents a consumer of the property encryption key.
type KeyConsumer interface {
	SetKey(key []byte) error
}

// KeyWatcher watches the property key file and reloads it on change.
type KeyWatcher struct {
	keyPath string

	stopCh    chan struct{}
	consumers []KeyConsumer

	logger *logrus.Entry
}

// Name of the watcher.
func (w *KeyWatcher) Name() string {
	return "property-key-watcher"
}

// AddConsumer adds a new key consumer.
// This function is not thread-safe.
func (w *KeyWatcher) AddConsumer(consumer KeyConsumer) {
	w.consumers = append(w.consumers, consumer)
}

// ReadKeyAndUpdateConsumers reads the key file and updates the consumers.
func (w *KeyWatcher) ReadKeyAndUpdateConsumers() error {
	w.logger.Info("Updating property key.")

	key, err := os.ReadFile(w.keyPath)
	if err != nil {
		return fmt.Errorf("cannot read property key file '%s': %w", w.keyPath, err)
	}

	key = bytes.TrimSpace(key)
	for _, consumer := range w.consumers {
		if err := consumer.SetKey(key); err != nil {
			return fmt.Errorf("error setting property key on %v: %w", consumer, err)
		}
	}

	return nil
}

// Start the key watcher.
func (w *KeyWatcher) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("cannot initialize file watcher: %w", err)
	}

	defer func() {
		if err := watcher.Close(); err != nil {
			w.logger.Warnf("Cannot close watcher: %v", err)
		}
	}()

	dir := path.Dir(w.keyPath)
	w.logger.Infof("Watching: %s.", dir)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("cannot watch directory '%s': %w", dir, err)
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	keyModified := false
	for {
		select {
		case <-w.stopCh:
			return nil
		case event := <-watcher.Events:
			w.logger.Debugf("Event: %v", event)
			if path.Clean(event.Name) == path.Clean(w.keyPath) {
				keyModified = true
			}
		case err := <-watcher.Errors:
			w.logger.Errorf("Error: %v", err)
			return err
		case <-ticker.C:
			if !keyModified {
				continue
			}

			w.logger.Info("Property key modified.")
			keyModified = false

			// keep the previous key on a bad update
			if err := w.ReadKeyAndUpdateConsumers(); err != nil {
				w.logger.Errorf("Error reloading property key: %v.", err)
			}
		}
	}
}

// Stop the watcher.
func (w *KeyWatcher) Stop() error {
	close(w.stopCh)
	return nil
}

// GracefulStop does a graceful stop of the watcher.
func (w *KeyWatcher) GracefulStop() error {
	return w.Stop()
}

// NewKeyWatcher returns a new property key file watcher.
func NewKeyWatcher(keyPath string) *KeyWatcher {
	return &KeyWatcher{
		keyPath: keyPath,
		stopCh:  make(chan struct{}),
		logger:  logrus.WithField("component", "definition.properties.key-watcher"),
	}
}
