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

// Package echo implements a byte-echo TCP backend used by the test suite
// and runnable as a demo target for the tunneler.
package echo

import (
	"io"
	"net"

	"github.com/sirupsen/logrus"
	"vawter.tech/stopper"
)

// Server echoes every received byte back to the sender.
type Server struct {
	listener net.Listener
}

// New runs an echo server within the context.
func New(ctx *stopper.Context, log *logrus.Logger, bind string) (*Server, error) {
	listener, err := net.Listen("tcp", bind)
	if err != nil {
		return nil, err
	}
	log.Infof("Echo server listening on %s.", listener.Addr())

	ctx.Go(func(ctx *stopper.Context) error {
		<-ctx.Stopping()
		_ = listener.Close()
		return nil
	})

	s := &Server{listener: listener}
	ctx.Go(func(ctx *stopper.Context) error {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return nil
			}
			ctx.Go(func(ctx *stopper.Context) error {
				defer func() { _ = conn.Close() }()
				if _, err := io.Copy(conn, conn); err != nil {
					log.Debugf("Echo handler exiting: %v.", err)
				}
				return nil
			})
		}
	})
	return s, nil
}

// Addr returns the address to which the server is bound.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}
