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

package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/health"
)

// ErrUnhealthy is returned by the health command when a check is not healthy.
var ErrUnhealthy = errors.New("node is not healthy")

// HealthOptions contains the options of the health command.
type HealthOptions struct {
	// AdminAddress is the address of the node health server.
	AdminAddress string
	// Checks are the ids of the checks to run, the visible checks if empty.
	Checks []string
	// Timeout bounds the health request.
	Timeout time.Duration
}

// AddFlags adds flags to fs and binds them to options.
func (o *HealthOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.AdminAddress, "admin-address", adminAddress,
		"Address of the node health server.")
	fs.StringSliceVar(&o.Checks, "checks", nil,
		"Checks to run. The checks visible by default if empty.")
	fs.DurationVar(&o.Timeout, "timeout", health.DefaultClientTimeout,
		"Timeout of the health request.")
}

// Run the health command.
func (o *HealthOptions) Run(ctx context.Context, out io.Writer) error {
	results, healthy, err := health.NewClient(o.AdminAddress, o.Timeout).Check(ctx, o.Checks...)
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	for _, id := range ids {
		result := results[id]
		if result.Message != "" {
			fmt.Fprintf(out, "%s: %s (%s)\n", id, result.Status, result.Message)
			continue
		}
		fmt.Fprintf(out, "%s: %s\n", id, result.Status)
	}

	if !healthy {
		return ErrUnhealthy
	}
	return nil
}

// NewHealthCommand creates the health command, running the checks of a running node.
func NewHealthCommand() *cobra.Command {
	opts := &HealthOptions{}

	cmd := &cobra.Command{
		Use:          "health",
		Short:        "Run the health checks of a running gateway node",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.Run(cmd.Context(), cmd.OutOrStdout())
		},
	}

	opts.AddFlags(cmd.Flags())
	return cmd
}
