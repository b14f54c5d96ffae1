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

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"vawter.tech/stopper"
	"vawter.tech/tcptun/cmd/blockport"
	"vawter.tech/tcptun/cmd/echo"
	"vawter.tech/tcptun/cmd/proxy"
)

func main() {
	var drainTime time.Duration
	root := &cobra.Command{
		Use: "tcptun",
	}
	root.PersistentFlags().DurationVar(&drainTime, "drain", time.Minute, "connection drain time")
	root.AddCommand(proxy.Command())
	root.AddCommand(echo.Command())
	root.AddCommand(blockport.Command())

	ctx := stopper.WithContext(context.Background())
	ctx.Go(func(ctx *stopper.Context) error {
		ch := make(chan os.Signal, 1)
		defer close(ch)

		signal.Notify(ch, os.Interrupt)
		defer signal.Stop(ch)

		select {
		case <-ch:
			ctx.Stop(drainTime)
		case <-ctx.Stopping():
		}
		return nil
	})

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
	os.Exit(0)
}
