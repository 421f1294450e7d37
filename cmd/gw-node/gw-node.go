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

// The gw-node binary runs a gateway node.
// It synchronizes API definitions from the event log and proxies the
// traffic of the deployed APIs. It also serves health and metrics
// endpoints on an administrative HTTP server, and the gRPC health protocol.
package main

import (
	"os"

	"github.com/gravitee-io/gravitee-api-management-sub106/cmd/gw-node/app"
	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/versioninfo"
)

func main() {
	command := app.NewGWNodeCommand()
	command.Version = versioninfo.Short()
	if err := command.Execute(); err != nil {
		os.Exit(1)
	}
}
