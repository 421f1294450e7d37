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

package tls

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

// ErrMissingFile is returned when only one of the certificate and private key files is set.
var ErrMissingFile = errors.New("certificate and private key files must be set together")

// ParseFiles parses a PEM certificate and private key, and an optional client CA.
func ParseFiles(cert, key, clientCA string) (*ParsedCertData, error) {
	if cert == "" || key == "" {
		return nil, ErrMissingFile
	}

	certificate, err := tls.LoadX509KeyPair(cert, key)
	if err != nil {
		return nil, fmt.Errorf("unable to parse certificate keypair: %w", err)
	}

	x509cert, err := x509.ParseCertificate(certificate.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("unable to parse x509 certificate: %w", err)
	}

	data := &ParsedCertData{
		certificate: certificate,
		x509cert:    x509cert,
	}

	if clientCA != "" {
		rawCA, err := os.ReadFile(clientCA)
		if err != nil {
			return nil, fmt.Errorf("unable to read client CA file '%s': %w", clientCA, err)
		}

		data.clientCAs = x509.NewCertPool()
		if !data.clientCAs.AppendCertsFromPEM(rawCA) {
			return nil, fmt.Errorf("unable to parse client CA file '%s'", clientCA)
		}
	}

	return data, nil
}

// ParsedCertData contains a parsed server certificate and client CA.
type ParsedCertData struct {
	certificate tls.Certificate
	x509cert    *x509.Certificate
	clientCAs   *x509.CertPool
}

// ServerConfig returns a TLS configuration for a server.
// Client certificates are required when a client CA is set.
func (c *ParsedCertData) ServerConfig() *tls.Config {
	config := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{c.certificate},
	}

	if c.clientCAs != nil {
		config.ClientCAs = c.clientCAs
		config.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return config
}

// DNSNames returns the certificate DNS names.
func (c *ParsedCertData) DNSNames() []string {
	return c.x509cert.DNSNames
}
