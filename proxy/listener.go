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
	"net"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"
	"vawter.tech/notify"
	"vawter.tech/stopper"
)

// Listener owns the passive socket for one forwarding rule and the set of
// sessions it has originated.
type Listener struct {
	log        *logrus.Logger
	listenHost string
	listenPort uint16
	remoteHost string
	remotePort uint16

	acceptor *net.TCPListener

	mu struct {
		sync.Mutex
		sessions map[*Session]struct{}
		dead     bool
	}

	// changed pulses on each session-set membership change.
	changed notify.Var[struct{}]
}

// NewListener binds the passive socket to (listenHost, listenPort). The
// hosts must already be resolved IP literals. A bind failure is returned
// to the caller, which treats it as fatal.
func NewListener(log *logrus.Logger, listenHost string, listenPort uint16, remoteHost string, remotePort uint16) (*Listener, error) {
	log.Debugf("Creating listener %s:%d.", listenHost, listenPort)

	addr, err := net.ResolveTCPAddr("tcp", net.JoinHostPort(listenHost, strconv.Itoa(int(listenPort))))
	if err != nil {
		return nil, err
	}
	acceptor, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return nil, err
	}

	l := &Listener{
		log:        log,
		listenHost: listenHost,
		listenPort: listenPort,
		remoteHost: remoteHost,
		remotePort: remotePort,
		acceptor:   acceptor,
	}
	l.mu.sessions = make(map[*Session]struct{})
	return l, nil
}

// ListenAddr returns the endpoint the acceptor is bound to.
func (l *Listener) ListenAddr() (string, uint16) {
	return l.listenHost, l.listenPort
}

// RemoteAddr returns the endpoint sessions are tunneled to.
func (l *Listener) RemoteAddr() (string, uint16) {
	return l.remoteHost, l.remotePort
}

// AsyncListen arms the accept loop. Accepts are self-perpetuating until
// the listener dies or the context stops.
func (l *Listener) AsyncListen(ctx *stopper.Context) {
	// Closing the acceptor on stop unblocks the pending accept.
	ctx.Go(func(ctx *stopper.Context) error {
		<-ctx.Stopping()
		_ = l.acceptor.Close()
		return nil
	})
	ctx.Go(func(ctx *stopper.Context) error {
		for {
			conn, err := l.acceptor.AcceptTCP()
			if err != nil {
				l.retire(ctx, err)
				return nil
			}

			s := newSession(l.log, l.remoteHost, l.remotePort, conn)
			s.done = func() { l.forget(s) }

			// The session joins the live set before it starts so it
			// always has an owner.
			l.mu.Lock()
			l.mu.sessions[s] = struct{}{}
			l.mu.Unlock()
			l.changed.Notify()

			s.Start(ctx, l.listenHost, l.listenPort)
		}
	})
}

// SessionCount returns the number of live sessions and a channel that
// closes on the next membership change.
func (l *Listener) SessionCount() (int, <-chan struct{}) {
	_, ch := l.changed.Get()
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.mu.sessions), ch
}

// IsDead reports whether the accept loop has terminated. The engine's
// reaper removes dead listeners.
func (l *Listener) IsDead() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mu.dead
}

// RemoveDeadSessions drops every session that has started and released
// both of its connections. Sessions normally remove themselves the moment
// they terminate; this scan is the reaper's safety net.
func (l *Listener) RemoveDeadSessions() {
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := false
	for s := range l.mu.sessions {
		if s.HasStarted() && s.IsClosed() {
			host, port := s.ClientAddr()
			l.log.Warnf("Removing dead session %s:%d.", host, port)
			delete(l.mu.sessions, s)
			removed = true
		}
	}
	if removed {
		l.changed.Notify()
	}
}

// Close shuts the acceptor and every live session. Pending accepts and
// session I/O unblock with errors their handlers treat as normal closes.
func (l *Listener) Close() {
	_ = l.acceptor.Close()

	l.mu.Lock()
	sessions := make([]*Session, 0, len(l.mu.sessions))
	for s := range l.mu.sessions {
		sessions = append(sessions, s)
	}
	l.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}

// retire marks the listener dead after an accept failure. Sessions that
// are already running continue until they terminate naturally.
func (l *Listener) retire(ctx *stopper.Context, err error) {
	l.mu.Lock()
	l.mu.dead = true
	l.mu.Unlock()
	_ = l.acceptor.Close()

	if ctx.IsStopping() {
		l.log.Debugf("Listener at %s:%d no longer accepting connections.", l.listenHost, l.listenPort)
		return
	}
	l.log.Errorf("Listener at %s:%d which redirects to %s:%d could not accept connection. "+
		"No more connections will be accepted by this listener. Error: %v",
		l.listenHost, l.listenPort, l.remoteHost, l.remotePort, err)
}

func (l *Listener) forget(s *Session) {
	l.mu.Lock()
	_, ok := l.mu.sessions[s]
	delete(l.mu.sessions, s)
	l.mu.Unlock()
	if ok {
		host, port := s.ClientAddr()
		l.log.Warnf("Removing dead session %s:%d.", host, port)
		l.changed.Notify()
	}
}
