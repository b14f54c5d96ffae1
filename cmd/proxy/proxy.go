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

// Package proxy is the entrypoint for the tunneling engine.
package proxy

import (
	"fmt"

	"github.com/spf13/cobra"
	"vawter.tech/stopper"
	"vawter.tech/tcptun/config"
	"vawter.tech/tcptun/logging"
	"vawter.tech/tcptun/proxy"
)

// Command is the entrypoint for starting the tunneler.
func Command() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Args:  cobra.NoArgs,
		Use:   "proxy",
		Short: "Start the connection tunneler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if cfg.Mode != "proxy" {
				return fmt.Errorf("unknown mode %q", cfg.Mode)
			}

			logger, closer, err := logging.New(logging.Options{
				Silent:          cfg.Log.Silent,
				NoFile:          cfg.Log.NoFile,
				Directory:       cfg.Log.Directory,
				Filename:        cfg.Log.Filename,
				Format:          cfg.Log.Format,
				ConsoleSeverity: cfg.Log.ConsoleSeverity,
				FileSeverity:    cfg.Log.FileSeverity,
				Rotate:          cfg.Log.Rotate,
				RotateSize:      cfg.Log.RotateSize,
				RotateFilename:  cfg.Log.RotateFilename,
				AllFilesMaxSize: cfg.Log.AllFilesMaxSize,
				MinFreeSpace:    cfg.Log.MinFreeSpace,
			})
			if err != nil {
				return err
			}
			defer func() { _ = closer.Close() }()

			ctx := stopper.From(cmd.Context())
			if _, err := proxy.New(ctx, cfg, logger); err != nil {
				return err
			}
			return ctx.Wait()
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "configuration file")
	return cmd
}
