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
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// fileHook writes formatted entries at or above its severity threshold to
// the configured log file. When rotation is enabled, the active file is
// renamed once it would exceed the configured size, and older rotated
// files are collected to honor the total-size and free-space limits.
type fileHook struct {
	min  logrus.Level
	fmt  logrus.Formatter
	opts Options
	path string

	mu struct {
		sync.Mutex
		f    *os.File
		size uint64
	}
}

func newFileHook(min logrus.Level, opts Options) (*fileHook, error) {
	if err := os.MkdirAll(opts.Directory, 0o755); err != nil {
		return nil, fmt.Errorf("could not create log directory %s: %w", opts.Directory, err)
	}
	h := &fileHook{
		min:  min,
		fmt:  newFormatter(opts.Format),
		opts: opts,
		path: filepath.Join(opts.Directory, opts.Filename),
	}
	if err := h.openLocked(); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *fileHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *fileHook) Fire(entry *logrus.Entry) error {
	if entry.Level > h.min {
		return nil
	}
	b, err := h.fmt.Format(entry)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.mu.f == nil {
		return nil
	}
	if h.opts.Rotate && h.mu.size > 0 && h.mu.size+uint64(len(b)) > h.opts.RotateSize {
		if err := h.rotateLocked(); err != nil {
			return err
		}
	}
	n, err := h.mu.f.Write(b)
	h.mu.size += uint64(n)
	return err
}

// Close releases the active file. The hook silently drops entries fired
// after Close.
func (h *fileHook) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.mu.f == nil {
		return nil
	}
	err := h.mu.f.Close()
	h.mu.f = nil
	return err
}

func (h *fileHook) openLocked() error {
	f, err := os.OpenFile(h.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("could not open log file %s: %w", h.path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}
	h.mu.f = f
	h.mu.size = uint64(info.Size())
	return nil
}

func (h *fileHook) rotateLocked() error {
	_ = h.mu.f.Close()
	h.mu.f = nil
	h.mu.size = 0

	target := filepath.Join(h.opts.Directory, time.Now().Format(h.opts.RotateFilename))
	// Disambiguate rotations within one layout tick.
	for seq := 1; ; seq++ {
		if _, err := os.Stat(target); os.IsNotExist(err) {
			break
		}
		target = filepath.Join(h.opts.Directory,
			fmt.Sprintf("%d_%s", seq, time.Now().Format(h.opts.RotateFilename)))
	}
	if err := os.Rename(h.path, target); err != nil {
		return err
	}
	h.collectLocked()
	return h.openLocked()
}

// collectLocked deletes rotated files, oldest first, until the total size
// drops under AllFilesMaxSize and the log volume regains MinFreeSpace.
func (h *fileHook) collectLocked() {
	entries, err := os.ReadDir(h.opts.Directory)
	if err != nil {
		return
	}

	type rotated struct {
		path string
		size uint64
		mod  time.Time
	}
	var files []rotated
	var total uint64
	for _, e := range entries {
		if e.IsDir() || e.Name() == h.opts.Filename {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, rotated{
			path: filepath.Join(h.opts.Directory, e.Name()),
			size: uint64(info.Size()),
			mod:  info.ModTime(),
		})
		total += uint64(info.Size())
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mod.Before(files[j].mod) })

	for _, f := range files {
		if total <= h.opts.AllFilesMaxSize && diskFree(h.opts.Directory) >= h.opts.MinFreeSpace {
			return
		}
		if os.Remove(f.path) == nil {
			total -= f.size
		}
	}
}
