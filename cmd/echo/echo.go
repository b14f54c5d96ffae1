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

package echo

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"vawter.tech/stopper"
	"vawter.tech/tcptun/echo"
)

// Command is the entrypoint for the demo echo backend.
func Command() *cobra.Command {
	var bind string
	cmd := &cobra.Command{
		Use:   "echo",
		Args:  cobra.NoArgs,
		Short: "start an echo backend for demo purposes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := stopper.From(cmd.Context())
			if _, err := echo.New(ctx, logrus.StandardLogger(), bind); err != nil {
				return err
			}
			return ctx.Wait()
		},
	}
	cmd.Flags().StringVarP(&bind, "bind", "b", "127.0.0.1:12948", "bind address")
	return cmd
}
