// Copyright (c) 2025 Bob Vawter (bob@vawter.org)
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.
//
// SPDX-License-Identifier: MIT

// Package logging constructs the process logger.
//
// The logger itself passes every entry through; each sink is a logrus hook
// that applies its own severity threshold, so the console and file sinks
// filter independently.
package logging

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// Options describe the sinks to attach. The zero value is not useful;
// callers populate it from the log.* configuration keys.
type Options struct {
	// Silent suppresses all output on every sink.
	Silent bool
	// NoFile disables the file sink.
	NoFile bool
	// Directory receives the log file and any rotated files.
	Directory string
	// Filename is the active log file name.
	Filename string
	// Format is the Go time layout applied to entry timestamps.
	Format string
	// ConsoleSeverity and FileSeverity are the per-sink thresholds.
	ConsoleSeverity string
	FileSeverity    string

	// Rotate enables size-based rotation of the file sink.
	Rotate bool
	// RotateSize is the size in bytes at which the active file rotates.
	RotateSize uint64
	// RotateFilename is a Go time layout producing rotated file names.
	RotateFilename string
	// AllFilesMaxSize caps the total size of rotated files kept on disk.
	AllFilesMaxSize uint64
	// MinFreeSpace is the free disk space below which rotated files are
	// collected early.
	MinFreeSpace uint64
}

// New builds a logger with a console sink and, unless disabled, a file
// sink. The returned closer flushes and releases the file sink and is
// non-nil even when no file sink exists.
func New(opts Options) (*logrus.Logger, io.Closer, error) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.DebugLevel)

	if opts.Silent {
		return logger, nopCloser{}, nil
	}

	consoleLevel, err := ParseSeverity(opts.ConsoleSeverity)
	if err != nil {
		return nil, nil, err
	}
	logger.AddHook(newConsoleHook(consoleLevel, opts.Format))

	if opts.NoFile {
		return logger, nopCloser{}, nil
	}

	fileLevel, err := ParseSeverity(opts.FileSeverity)
	if err != nil {
		return nil, nil, err
	}
	fh, err := newFileHook(fileLevel, opts)
	if err != nil {
		return nil, nil, err
	}
	logger.AddHook(fh)
	return logger, fh, nil
}

// ParseSeverity maps a configured severity name to a logrus level.
func ParseSeverity(name string) (logrus.Level, error) {
	switch name {
	case "debug":
		return logrus.DebugLevel, nil
	case "info":
		return logrus.InfoLevel, nil
	case "warning":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	case "fatal":
		return logrus.FatalLevel, nil
	}
	return 0, fmt.Errorf("invalid log severity: %q", name)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func newFormatter(layout string) logrus.Formatter {
	return &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: layout,
		DisableColors:   true,
	}
}
