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

// Package config loads and validates the tunneler configuration.
//
// Configuration files use flat dotted keys at the top level, for example:
//
//	mode: proxy
//	mode.proxy.local_host: ["127.0.0.1"]
//	mode.proxy.local_port: [18080]
//	mode.proxy.remote_host: ["127.0.0.1"]
//	mode.proxy.remote_port: [19090]
//	log.severity.console: debug
//	log.rotate: true
//	log.rotate.size: 1048576
//
// The four mode.proxy vectors are parallel: index i across them defines
// forwarding rule i.
package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// DefaultFilename is consulted when no --config flag is given.
const DefaultFilename = "tcptun.yaml"

// Config is the validated configuration consumed by the rest of the
// process. It is immutable after Load returns.
type Config struct {
	Mode  string `validate:"required,oneof=proxy"`
	Proxy Proxy
	Log   Log
}

// Proxy holds the parallel forwarding-rule vectors. The engine validates
// that the four vectors have equal length; the per-element constraints
// live here.
type Proxy struct {
	LocalHost  []string `validate:"dive,required"`
	LocalPort  []uint16 `validate:"dive,gte=1"`
	RemoteHost []string `validate:"dive,required"`
	RemotePort []uint16 `validate:"dive,gte=1"`
}

// Log mirrors the log.* configuration keys.
type Log struct {
	Silent          bool
	NoFile          bool
	Directory       string `validate:"required"`
	Filename        string `validate:"required"`
	Format          string `validate:"required"`
	ConsoleSeverity string `validate:"oneof=debug info warning error fatal"`
	FileSeverity    string `validate:"oneof=debug info warning error fatal"`
	Rotate          bool
	RotateSize      uint64 `validate:"gte=1"`
	RotateFilename  string `validate:"required"`
	AllFilesMaxSize uint64 `validate:"gte=1"`
	MinFreeSpace    uint64
}

// Rule is one expanded (local, remote) endpoint pair.
type Rule struct {
	LocalHost  string
	LocalPort  uint16
	RemoteHost string
	RemotePort uint16
}

// Rules zips the parallel vectors. Callers must have checked that the
// vectors have equal length.
func (c *Config) Rules() []Rule {
	rules := make([]Rule, len(c.Proxy.LocalHost))
	for i := range rules {
		rules[i] = Rule{
			LocalHost:  c.Proxy.LocalHost[i],
			LocalPort:  c.Proxy.LocalPort[i],
			RemoteHost: c.Proxy.RemoteHost[i],
			RemotePort: c.Proxy.RemotePort[i],
		}
	}
	return rules
}

// Load reads the configuration file at path, applies defaults, and
// validates the result. An empty path loads DefaultFilename from the
// working directory if it exists; a missing default file yields a
// defaults-only configuration.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path == "" {
		v.SetConfigFile(DefaultFilename)
		if err := v.ReadInConfig(); err != nil {
			// Defaults only; mirrors running without a config file.
			v = viper.New()
		}
	} else {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("could not read configuration file %s: %w", path, err)
		}
	}
	return FromViper(v)
}

// FromViper decodes and validates a configuration from an already
// populated viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Mode: getString(v, "mode", "proxy"),
		Proxy: Proxy{
			LocalHost:  getStringSlice(v, "mode.proxy.local_host"),
			LocalPort:  getPortSlice(v, "mode.proxy.local_port"),
			RemoteHost: getStringSlice(v, "mode.proxy.remote_host"),
			RemotePort: getPortSlice(v, "mode.proxy.remote_port"),
		},
		Log: Log{
			Silent:          getBool(v, "log.silent", false),
			NoFile:          getBool(v, "log.nofile", false),
			Directory:       getString(v, "log.directory", "logs"),
			Filename:        getString(v, "log.filename", "tcptun.log"),
			Format:          getString(v, "log.format", "15:04:05.000"),
			ConsoleSeverity: getString(v, "log.severity.console", "info"),
			FileSeverity:    getString(v, "log.severity.file", "info"),
			Rotate:          getBool(v, "log.rotate", false),
			RotateSize:      getUint64(v, "log.rotate.size", 1048576),
			RotateFilename:  getString(v, "log.rotate.filename", "20060102_150405-tcptun.log"),
			AllFilesMaxSize: getUint64(v, "log.rotate.all_files_max_size", 1073741824),
			MinFreeSpace:    getUint64(v, "log.rotate.min_free_space", 1073741824),
		},
	}

	if err := validator.New().Struct(cfg); err != nil {
		var errs validator.ValidationErrors
		if errors.As(err, &errs) {
			all := make([]error, len(errs))
			for i, fe := range errs {
				all[i] = fmt.Errorf("configuration field %s rejected by constraint %s",
					fe.Namespace(), fe.ActualTag())
			}
			return nil, errors.Join(all...)
		}
		return nil, err
	}
	return cfg, nil
}

// The mode.proxy.* and log.rotate.* keys share path prefixes with the
// scalar mode and log.rotate keys, so the viper defaults mechanism cannot
// hold both shapes at once. Defaults are applied here instead.

func getString(v *viper.Viper, key, def string) string {
	if raw := v.Get(key); raw != nil {
		return cast.ToString(raw)
	}
	return def
}

func getBool(v *viper.Viper, key string, def bool) bool {
	if raw := v.Get(key); raw != nil {
		return cast.ToBool(raw)
	}
	return def
}

func getUint64(v *viper.Viper, key string, def uint64) uint64 {
	if raw := v.Get(key); raw != nil {
		return cast.ToUint64(raw)
	}
	return def
}

func getStringSlice(v *viper.Viper, key string) []string {
	if raw := v.Get(key); raw != nil {
		return cast.ToStringSlice(raw)
	}
	return nil
}

func getPortSlice(v *viper.Viper, key string) []uint16 {
	raw := v.Get(key)
	if raw == nil {
		return nil
	}
	var ports []uint16
	for _, n := range cast.ToIntSlice(raw) {
		if n < 0 || n > 65535 {
			// Out-of-range entries become 0 and fail validation.
			ports = append(ports, 0)
			continue
		}
		ports = append(ports, uint16(n))
	}
	return ports
}
