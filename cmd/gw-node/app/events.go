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
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/eventlog"
	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/eventlog/bolt"
)

// EventsOptions contains the options of the events sub-commands.
type EventsOptions struct {
	// EventLogFile is the path to the bolt event log.
	EventLogFile string
}

// AddFlags adds flags to fs and binds them to options.
func (o *EventsOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.EventLogFile, "event-log", EventLogFile,
		"Path to the event log file. The file cannot be used by a running gateway node.")
}

func (o *EventsOptions) withRepository(do func(repository *bolt.Repository) error) error {
	repository, err := bolt.Open(o.EventLogFile)
	if err != nil {
		return err
	}

	defer func() {
		if err := repository.Close(); err != nil {
			log.Warnf("Cannot close event log: %v.", err)
		}
	}()

	return do(repository)
}

// ImportOptions contains the options of the events import command.
type ImportOptions struct {
	EventsOptions
	// File holds a JSON array of events, "-" for stdin.
	File string
}

// AddFlags adds flags to fs and binds them to options.
func (o *ImportOptions) AddFlags(fs *pflag.FlagSet) {
	o.EventsOptions.AddFlags(fs)
	fs.StringVar(&o.File, "file", "-",
		"File holding a JSON array of events, '-' for stdin.")
}

// readEvents decodes a JSON array of events.
// Events missing an id or a creation time are assigned one.
func readEvents(r io.Reader, now time.Time) ([]eventlog.DistributedEvent, error) {
	var events []eventlog.DistributedEvent
	if err := json.NewDecoder(r).Decode(&events); err != nil {
		return nil, fmt.Errorf("cannot decode events: %w", err)
	}

	for i := range events {
		event := &events[i]
		if event.Type == "" || event.SyncAction == "" || event.EntityID == "" {
			return nil, fmt.Errorf("event #%d: type, syncAction and entityId are required", i)
		}

		if event.ID == "" {
			event.ID = uuid.New().String()
		}
		if event.CreatedAt.IsZero() {
			event.CreatedAt = now
		}
	}

	return events, nil
}

// Run the import command.
func (o *ImportOptions) Run(in io.Reader, out io.Writer) error {
	if o.File != "-" {
		f, err := os.Open(o.File)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	events, err := readEvents(in, time.Now().UTC())
	if err != nil {
		return err
	}

	return o.withRepository(func(repository *bolt.Repository) error {
		if err := repository.Append(context.Background(), events...); err != nil {
			return err
		}

		fmt.Fprintf(out, "Imported %d events.\n", len(events))
		return nil
	})
}

// ListOptions contains the options of the events list command.
type ListOptions struct {
	EventsOptions
	// Type of the listed events.
	Type string
	// Latest lists only the newest event of each entity.
	Latest bool
}

// AddFlags adds flags to fs and binds them to options.
func (o *ListOptions) AddFlags(fs *pflag.FlagSet) {
	o.EventsOptions.AddFlags(fs)
	fs.StringVar(&o.Type, "type", string(eventlog.TypeApi),
		fmt.Sprintf("Type of the listed events. One of %s, %s, %s, %s.",
			eventlog.TypeApi, eventlog.TypeOrganization,
			eventlog.TypeSharedPolicyGroup, eventlog.TypeDictionary))
	fs.BoolVar(&o.Latest, "latest", false,
		"List only the newest event of each entity.")
}

// Run the list command.
func (o *ListOptions) Run(out io.Writer) error {
	q := eventlog.Query{
		Type:   eventlog.EventType(strings.ToUpper(o.Type)),
		Latest: o.Latest,
	}

	return o.withRepository(func(repository *bolt.Repository) error {
		events, err := repository.FetchPage(context.Background(), q)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tACTION\tENTITY\tENVIRONMENTS\tCREATED")
		for i := range events {
			event := &events[i]
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				event.ID, event.SyncAction, event.EntityID,
				strings.Join(event.Environments, ","),
				event.CreatedAt.Format(time.RFC3339Nano))
		}
		return w.Flush()
	})
}

// NewEventsCommand creates the events command, managing a local event log.
func NewEventsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Manage a local event log",
		Long:  `Manage a local event log. The event log must not be opened by a running gateway node.`,
	}

	importOpts := &ImportOptions{}
	importCmd := &cobra.Command{
		Use:          "import",
		Short:        "Append events to the event log",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return importOpts.Run(cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	importOpts.AddFlags(importCmd.Flags())

	listOpts := &ListOptions{}
	listCmd := &cobra.Command{
		Use:          "list",
		Short:        "List the events of a type",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return listOpts.Run(cmd.OutOrStdout())
		},
	}
	listOpts.AddFlags(listCmd.Flags())

	cmd.AddCommand(importCmd, listCmd)
	return cmd
}
