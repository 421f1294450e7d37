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
	"errors"
	"fmt"
	"sync"

	"github.com/lestrrat-go/jwx/jwa"
	"github.com/lestrrat-go/jwx/jwe"
	"github.com/sirupsen/logrus"

	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/definition"
)

const (
	// KeyEncryption is the key management algorithm of encrypted property values.
	KeyEncryption = jwa.A256KW
	// ContentEncryption is the content encryption algorithm of encrypted property values.
	ContentEncryption = jwa.A256GCM
	// KeySize is the required size of the property encryption key, in bytes.
	KeySize = 32
)

// ErrNoKey is returned when decrypting before any key was set.
var ErrNoKey = errors.New("no property encryption key")

// Decrypter decrypts encrypted API properties.
type Decrypter struct {
	lock sync.RWMutex
	key  []byte

	logger *logrus.Entry
}

// SetKey replaces the key used for decryption.
func (d *Decrypter) SetKey(key []byte) error {
	if len(key) != KeySize {
		return fmt.Errorf("invalid property key size %d, expected: %d", len(key), KeySize)
	}

	d.lock.Lock()
	defer d.lock.Unlock()

	d.key = append([]byte(nil), key...)
	d.logger.Info("Property key updated.")
	return nil
}

func (d *Decrypter) currentKey() []byte {
	d.lock.RLock()
	defer d.lock.RUnlock()
	return d.key
}

// Decrypt decrypts a compact JWE property value.
func (d *Decrypter) Decrypt(value string) (string, error) {
	key := d.currentKey()
	if key == nil {
		return "", ErrNoKey
	}

	plain, err := jwe.Decrypt([]byte(value), KeyEncryption, key)
	if err != nil {
		return "", fmt.Errorf("cannot decrypt property: %w", err)
	}

	return string(plain), nil
}

// Encrypt encrypts a property value into a compact JWE.
func (d *Decrypter) Encrypt(value string) (string, error) {
	key := d.currentKey()
	if key == nil {
		return "", ErrNoKey
	}

	encrypted, err := jwe.Encrypt([]byte(value), KeyEncryption, key, ContentEncryption, jwa.NoCompress)
	if err != nil {
		return "", fmt.Errorf("cannot encrypt property: %w", err)
	}

	return string(encrypted), nil
}

// DecryptAll returns a copy of the properties with every encrypted value decrypted.
func (d *Decrypter) DecryptAll(props []definition.Property) ([]definition.Property, error) {
	if len(props) == 0 {
		return props, nil
	}

	decrypted := make([]definition.Property, len(props))
	for i, prop := range props {
		if prop.Encrypted {
			value, err := d.Decrypt(prop.Value)
			if err != nil {
				return nil, fmt.Errorf("property '%s': %w", prop.Key, err)
			}

			prop.Value = value
			prop.Encrypted = false
		}
		decrypted[i] = prop
	}

	return decrypted, nil
}

// NewDecrypter returns a new property decrypter without a key.
func NewDecrypter() *Decrypter {
	return &Decrypter{
		logger: logrus.WithField("component", "definition.properties"),
	}
}
