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


// Package versioninfo exposes the build information of the gateway node binary.
package versioninfo

import (
	"runtime/debug"
	"strings"
	"time"
)

const unknown = "unknown"

// GitTag is set at build time with -ldflags "-X .../versioninfo.GitTag=<tag>".
var GitTag = ""

// Info is the build information of a binary.
type Info struct {
	// GitTag is the release tag, if set at build time.
	GitTag string `json:"gitTag,omitempty"`
	// Version is the main module version, "(devel)" for local builds.
	Version string `json:"version"`
	// Revision is the VCS revision.
	Revision string `json:"revision"`
	// LastCommit is the time of the VCS revision.
	LastCommit time.Time `json:"lastCommit,omitempty"`
	// Dirty is set when the working tree had local modifications.
	Dirty bool `json:"dirty"`
}

// FromBuildInfo extracts the information embedded by the Go toolchain.
func FromBuildInfo(info *debug.BuildInfo) Info {
	i := Info{
		GitTag:   GitTag,
		Version:  unknown,
		Revision: unknown,
		Dirty:    true,
	}
	if info == nil {
		return i
	}

	i.Version = info.Main.Version
	for _, kv := range info.Settings {
		switch kv.Key {
		case "vcs.revision":
			i.Revision = kv.Value
		case "vcs.time":
			if t, err := time.Parse(time.RFC3339, kv.Value); err == nil {
				i.LastCommit = t
			}
		case "vcs.modified":
			i.Dirty = kv.Value == "true"
		}
	}
	return i
}

// Get returns the build information of the running binary.
func Get() Info {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return FromBuildInfo(nil)
	}
	return FromBuildInfo(info)
}

// Short summarizes the information as <tag>-<version>-rev-<short revision>[-dirty],
// or "devel" when nothing is known.
func (i Info) Short() string {
	var parts []string
	if i.GitTag != "" {
		parts = append(parts, i.GitTag)
	}
	if i.Version != unknown && i.Version != "(devel)" && i.Version != "" {
		parts = append(parts, i.Version)
	}
	if i.Revision != unknown && i.Revision != "" {
		revision := i.Revision
		if len(revision) > 7 {
			revision = revision[:7]
		}
		parts = append(parts, "rev", revision)
		if i.Dirty {
			parts = append(parts, "dirty")
		}
	}

	if len(parts) == 0 {
		return "devel"
	}
	return strings.Join(parts, "-")
}

// Short summarizes the build information of the running binary.
func Short() string {
	return Get().Short()
}
