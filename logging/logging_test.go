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

package logging

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func fileOptions(t *testing.T) Options {
	return Options{
		Directory:       t.TempDir(),
		Filename:        "tcptun.log",
		Format:          "15:04:05.000",
		ConsoleSeverity: "fatal",
		FileSeverity:    "info",
		RotateSize:      1048576,
		RotateFilename:  "20060102_150405-tcptun.log",
		AllFilesMaxSize: 1073741824,
	}
}

func TestConsoleSeverityFilter(t *testing.T) {
	r := require.New(t)

	var buf bytes.Buffer
	hook := newConsoleHook(logrus.WarnLevel, "15:04:05.000")
	hook.out = &buf

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.DebugLevel)
	logger.AddHook(hook)

	logger.Debugf("quiet")
	logger.Infof("also quiet")
	logger.Warnf("loud")
	logger.Errorf("louder")

	out := buf.String()
	r.NotContains(out, "quiet")
	r.Contains(out, "loud")
	r.Contains(out, "louder")
}

func TestFileSinkHonorsSeverity(t *testing.T) {
	r := require.New(t)
	opts := fileOptions(t)

	logger, closer, err := New(opts)
	r.NoError(err)

	logger.Debugf("below threshold")
	logger.Infof("recorded line")
	r.NoError(closer.Close())

	data, err := os.ReadFile(filepath.Join(opts.Directory, opts.Filename))
	r.NoError(err)
	r.Contains(string(data), "recorded line")
	r.NotContains(string(data), "below threshold")
}

func TestFileRotation(t *testing.T) {
	r := require.New(t)
	opts := fileOptions(t)
	opts.Rotate = true
	opts.RotateSize = 256

	logger, closer, err := New(opts)
	r.NoError(err)

	line := strings.Repeat("x", 64)
	for i := 0; i < 32; i++ {
		logger.Infof("%s", line)
	}
	r.NoError(closer.Close())

	entries, err := os.ReadDir(opts.Directory)
	r.NoError(err)
	r.Greater(len(entries), 1, "expected rotated files alongside the active log")

	active, err := os.Stat(filepath.Join(opts.Directory, opts.Filename))
	r.NoError(err)
	r.LessOrEqual(uint64(active.Size()), opts.RotateSize)
}

func TestRotationCollector(t *testing.T) {
	r := require.New(t)
	opts := fileOptions(t)
	opts.Rotate = true
	opts.RotateSize = 256
	opts.AllFilesMaxSize = 512

	logger, closer, err := New(opts)
	r.NoError(err)

	line := strings.Repeat("y", 64)
	for i := 0; i < 64; i++ {
		logger.Infof("%s", line)
	}
	r.NoError(closer.Close())

	var rotatedTotal uint64
	entries, err := os.ReadDir(opts.Directory)
	r.NoError(err)
	for _, e := range entries {
		if e.Name() == opts.Filename {
			continue
		}
		info, err := e.Info()
		r.NoError(err)
		rotatedTotal += uint64(info.Size())
	}
	r.LessOrEqual(rotatedTotal, opts.AllFilesMaxSize)
}

func TestSilentDropsEverything(t *testing.T) {
	r := require.New(t)
	opts := fileOptions(t)
	opts.Silent = true

	logger, closer, err := New(opts)
	r.NoError(err)
	logger.Errorf("nobody hears this")
	r.NoError(closer.Close())

	_, err = os.Stat(filepath.Join(opts.Directory, opts.Filename))
	r.True(os.IsNotExist(err))
}

func TestNoFileSkipsSink(t *testing.T) {
	r := require.New(t)
	opts := fileOptions(t)
	opts.NoFile = true

	logger, closer, err := New(opts)
	r.NoError(err)
	logger.Infof("console only")
	r.NoError(closer.Close())

	_, err = os.Stat(filepath.Join(opts.Directory, opts.Filename))
	r.True(os.IsNotExist(err))
}

func TestParseSeverity(t *testing.T) {
	r := require.New(t)
	for name, want := range map[string]logrus.Level{
		"debug":   logrus.DebugLevel,
		"info":    logrus.InfoLevel,
		"warning": logrus.WarnLevel,
		"error":   logrus.ErrorLevel,
		"fatal":   logrus.FatalLevel,
	} {
		got, err := ParseSeverity(name)
		r.NoError(err)
		r.Equal(want, got)
	}

	_, err := ParseSeverity("verbose")
	r.Error(err)
}
