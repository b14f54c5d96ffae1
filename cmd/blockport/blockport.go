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

// Package blockport holds a local TCP endpoint open so that bind-in-use
// failures can be provoked on demand.
package blockport

import (
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"
	"vawter.tech/stopper"
)

// Command is the entrypoint for the port-blocker utility.
func Command() *cobra.Command {
	var port uint16
	cmd := &cobra.Command{
		Use:   "blockport",
		Args:  cobra.NoArgs,
		Short: "bind and hold a local port",
		RunE: func(cmd *cobra.Command, args []string) error {
			if port == 0 {
				return fmt.Errorf("a non-zero --port is required")
			}
			ctx := stopper.From(cmd.Context())
			ctx.Go(func(ctx *stopper.Context) error {
				run(ctx, port)
				return nil
			})
			return ctx.Wait()
		},
	}
	cmd.Flags().Uint16VarP(&port, "port", "p", 0, "local port to hold")
	return cmd
}

// run re-acquires the port after transient failures until the context
// stops. Accepted connections are held open and otherwise ignored.
func run(ctx *stopper.Context, port uint16) {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	for !ctx.IsStopping() {
		listener, err := net.Listen("tcp", addr)
		if err != nil {
			time.Sleep(time.Second)
			continue
		}

		ctx.Go(func(ctx *stopper.Context) error {
			<-ctx.Stopping()
			_ = listener.Close()
			return nil
		})
		for {
			conn, err := listener.Accept()
			if err != nil {
				break
			}
			ctx.Go(func(ctx *stopper.Context) error {
				<-ctx.Stopping()
				_ = conn.Close()
				return nil
			})
		}
	}
}
