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

package proxy

import (
	"errors"
	"io"
	"net"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"
	"vawter.tech/stopper"
)

// bufferSize is the per-direction splice buffer size.
const bufferSize = 8192

// Session owns one accepted client connection and its paired outbound
// connection, splicing the two until either side terminates.
type Session struct {
	log        *logrus.Logger
	remoteHost string
	remotePort uint16

	clientHost string
	clientPort uint16

	mu struct {
		sync.Mutex
		clientConn net.Conn
		remoteConn net.Conn
		closed     bool
	}

	started bool
	// done is invoked exactly once, after both directions have wound
	// down, so the owning Listener can drop the session immediately.
	done func()
}

func newSession(log *logrus.Logger, remoteHost string, remotePort uint16, clientConn net.Conn) *Session {
	s := &Session{
		log:        log,
		remoteHost: remoteHost,
		remotePort: remotePort,
	}
	s.mu.clientConn = clientConn
	return s
}

// HasStarted reports whether Start has been invoked.
func (s *Session) HasStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// IsClosed reports whether both connections have been released.
func (s *Session) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mu.closed
}

// ClientAddr identifies the accepted peer. Only valid after Start.
func (s *Session) ClientAddr() (string, uint16) {
	return s.clientHost, s.clientPort
}

// Start records the client peer address and begins the outbound connect.
// It does not block; a second invocation is a no-op.
func (s *Session) Start(ctx *stopper.Context, listenHost string, listenPort uint16) {
	s.mu.Lock()
	if s.started || s.mu.closed {
		s.mu.Unlock()
		return
	}
	s.started = true
	if addr, ok := s.mu.clientConn.RemoteAddr().(*net.TCPAddr); ok {
		s.clientHost = addr.IP.String()
		s.clientPort = uint16(addr.Port)
	}
	s.mu.Unlock()

	s.log.Infof("Accepted client %s:%d with listener %s:%d. Redirecting connection to %s:%d.",
		s.clientHost, s.clientPort, listenHost, listenPort, s.remoteHost, s.remotePort)

	ctx.Go(func(ctx *stopper.Context) error {
		s.run(ctx)
		return nil
	})
}

// Close releases both connections. It is idempotent and safe to call
// while reads or writes are pending; those unblock with an error their
// handlers treat as a normal close.
func (s *Session) Close() {
	s.log.Debugf("Closing sockets for client %s:%d.", s.clientHost, s.clientPort)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mu.clientConn != nil {
		_ = s.mu.clientConn.Close()
		s.mu.clientConn = nil
	}
	if s.mu.remoteConn != nil {
		_ = s.mu.remoteConn.Close()
		s.mu.remoteConn = nil
	}
	s.mu.closed = true
}

// run dials the remote endpoint and splices the two connections. A hard
// failure in either direction closes both connections, which unblocks the
// sibling; an orderly end-of-stream propagates as a half-close so the
// other direction can drain first.
func (s *Session) run(ctx *stopper.Context) {
	defer s.finish()

	remote, err := net.Dial("tcp", net.JoinHostPort(s.remoteHost, strconv.Itoa(int(s.remotePort))))
	if err != nil {
		s.log.Errorf("Cannot create tunnel for client %s:%d to remote endpoint %s:%d. Error: %v",
			s.clientHost, s.clientPort, s.remoteHost, s.remotePort, err)
		s.Close()
		return
	}

	s.mu.Lock()
	if s.mu.closed {
		// Close raced the connect; release the fresh connection.
		s.mu.Unlock()
		_ = remote.Close()
		return
	}
	s.mu.remoteConn = remote
	client := s.mu.clientConn
	s.mu.Unlock()

	s.log.Warnf("Tunnel for client %s:%d to remote endpoint %s:%d is now up and running.",
		s.clientHost, s.clientPort, s.remoteHost, s.remotePort)

	var wg sync.WaitGroup
	wg.Add(1)
	ctx.Go(func(*stopper.Context) error {
		defer wg.Done()
		s.spliceClientToRemote(client, remote)
		return nil
	})
	s.spliceRemoteToClient(remote, client)
	wg.Wait()
	s.Close()
}

func (s *Session) finish() {
	s.log.Infof("Releasing client %s:%d.", s.clientHost, s.clientPort)
	if s.done != nil {
		s.done()
	}
}

func (s *Session) spliceClientToRemote(client, remote net.Conn) {
	buf := make([]byte, bufferSize)
	for {
		n, err := client.Read(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				// Orderly shutdown from the client. Propagate the
				// half-close and let the sibling direction drain.
				s.log.Warnf("Client %s:%d cannot read data from client endpoint, because: %v",
					s.clientHost, s.clientPort, err)
				halfClose(remote)
				return
			}
			if !localClose(err) {
				s.log.Warnf("Client %s:%d cannot read data from client endpoint, because: %v",
					s.clientHost, s.clientPort, err)
			}
			s.Close()
			return
		}
		s.log.Debugf("[Client %s:%d] Read %d bytes from client endpoint.", s.clientHost, s.clientPort, n)
		if _, err := remote.Write(buf[:n]); err != nil {
			if !localClose(err) {
				s.log.Warnf("Client %s:%d cannot write data to remote endpoint %s:%d, because: %v",
					s.clientHost, s.clientPort, s.remoteHost, s.remotePort, err)
			}
			s.Close()
			return
		}
	}
}

func (s *Session) spliceRemoteToClient(remote, client net.Conn) {
	buf := make([]byte, bufferSize)
	for {
		n, err := remote.Read(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.log.Warnf("Client %s:%d cannot read data from remote endpoint %s:%d, because: %v",
					s.clientHost, s.clientPort, s.remoteHost, s.remotePort, err)
				halfClose(client)
				return
			}
			if !localClose(err) {
				s.log.Warnf("Client %s:%d cannot read data from remote endpoint %s:%d, because: %v",
					s.clientHost, s.clientPort, s.remoteHost, s.remotePort, err)
			}
			s.Close()
			return
		}
		s.log.Debugf("[Client %s:%d] Read %d bytes from remote endpoint.", s.clientHost, s.clientPort, n)
		if _, err := client.Write(buf[:n]); err != nil {
			if !localClose(err) {
				s.log.Warnf("Client %s:%d cannot write data to client endpoint, because: %v",
					s.clientHost, s.clientPort, err)
			}
			s.Close()
			return
		}
	}
}

// halfClose signals end-of-stream to the destination without tearing the
// whole session down, so bytes still in flight the other way are not
// discarded.
func halfClose(conn net.Conn) {
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.CloseWrite()
	}
}

// localClose reports whether the error is the echo of our own Close
// tearing down the sibling direction.
func localClose(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
