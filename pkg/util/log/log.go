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

package log

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/sirupsen/logrus"
)

const (
	logrusFieldStack = 6

	// FormatText is the human-readable log format.
	FormatText = "text"
	// FormatJSON is the structured log format.
	FormatJSON = "json"
)

// Set logrus logger (level, file, format).
// Returns the log file, if any, which the caller should close.
func Set(logLevel, logFileName, logFormat string) (*os.File, error) {
	var logfile *os.File

	if logFileName != "" {
		if err := os.MkdirAll(filepath.Dir(logFileName), 0o755); err != nil {
			return nil, fmt.Errorf("error creating log directory: %w", err)
		}

		var err error
		logfile, err = os.OpenFile(logFileName, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o600)
		if err != nil {
			return nil, fmt.Errorf("error opening log file: %w", err)
		}
		// assign it to the standard logger
		logrus.SetOutput(logfile)
	}

	ll, err := logrus.ParseLevel(logLevel)
	if err != nil {
		ll = logrus.ErrorLevel
	}
	logrus.SetLevel(ll)

	switch logFormat {
	case FormatJSON:
		logrus.SetFormatter(&formatter{Formatter: &logrus.JSONFormatter{}})
	case FormatText, "":
		logrus.SetFormatter(&formatter{
			Formatter: &logrus.TextFormatter{
				ForceColors:     logfile == nil,
				FullTimestamp:   true,
				TimestampFormat: "2006-01-02 15:04:05",
				PadLevelText:    true,
				DisableQuote:    true,
			},
		})
	default:
		return logfile, fmt.Errorf("unknown log format '%s'", logFormat)
	}

	return logfile, nil
}

type formatter struct {
	logrus.Formatter
}

// Format sets the line number and file for errors and fatal.
func (f *formatter) Format(entry *logrus.Entry) ([]byte, error) {
	if entry.Level <= logrus.ErrorLevel {
		_, file, line, _ := runtime.Caller(logrusFieldStack)
		entry.Data["file"] = file
		entry.Data["line"] = fmt.Sprintf("%d", line)
	}

	return f.Formatter.Format(entry)
}
