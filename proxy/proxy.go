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

// Package proxy implements the connection-tunneling engine: a set of
// listeners, one per forwarding rule, each splicing accepted clients to a
// remote endpoint byte-for-byte.
package proxy

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"vawter.tech/notify"
	"vawter.tech/stopper"
	"vawter.tech/tcptun/config"
)

// reapInterval paces the background sweep of dead sessions and
// listeners. Sessions remove themselves on termination; the sweep is a
// diagnostic safety net.
var reapInterval = 10 * time.Second

// Proxy owns all listeners for one engine run.
type Proxy struct {
	log *logrus.Logger

	mu struct {
		sync.Mutex
		listeners []*Listener
	}

	// reaped pulses after every reaper pass.
	reaped notify.Var[struct{}]
}

// New validates the configuration, resolves every rule's endpoints, binds
// one listener per rule, and starts the accept loops and the reaper. The
// engine then runs until the context stops; callers typically follow New
// with ctx.Wait.
func New(ctx *stopper.Context, cfg *config.Config, log *logrus.Logger) (*Proxy, error) {
	log.Infof("Initialized mode 'proxy'.")

	p := &Proxy{log: log}
	if err := p.validate(cfg); err != nil {
		return nil, err
	}

	// Listeners bound before a later rule fails are released again; a
	// startup failure leaves nothing running.
	fail := func(err error) (*Proxy, error) {
		for _, l := range p.Listeners() {
			l.Close()
		}
		return nil, err
	}

	for _, rule := range cfg.Rules() {
		localIP, err := resolveFirstIP(ctx, rule.LocalHost)
		if err != nil {
			log.Logf(logrus.FatalLevel, "Cannot resolve local_host %s: %v", rule.LocalHost, err)
			return fail(err)
		}
		log.Debugf("Resolved local_ip: %s from local_host: %s.", localIP, rule.LocalHost)

		remoteIP, err := resolveFirstIP(ctx, rule.RemoteHost)
		if err != nil {
			log.Logf(logrus.FatalLevel, "Cannot resolve remote_host %s: %v", rule.RemoteHost, err)
			return fail(err)
		}
		log.Debugf("Resolved remote_ip: %s from remote_host: %s.", remoteIP, rule.RemoteHost)

		l, err := NewListener(log, localIP, rule.LocalPort, remoteIP, rule.RemotePort)
		if err != nil {
			log.Logf(logrus.FatalLevel,
				"Cannot start listener using given address and port: (%s) %s:%d. Error: %v",
				rule.LocalHost, localIP, rule.LocalPort, err)
			return fail(fmt.Errorf("cannot start listener (%s) %s:%d: %w",
				rule.LocalHost, localIP, rule.LocalPort, err))
		}
		p.addListener(ctx, l)
	}

	// Shut every listener (and its sessions) when the engine stops, so
	// pending accepts and reads fail cleanly and the tasks drain.
	ctx.Go(func(ctx *stopper.Context) error {
		<-ctx.Stopping()
		for _, l := range p.Listeners() {
			l.Close()
		}
		return nil
	})

	ctx.Go(p.reapLoop)
	return p, nil
}

// Listeners returns a snapshot of the live listeners.
func (p *Proxy) Listeners() []*Listener {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Listener(nil), p.mu.listeners...)
}

// Reaped returns a channel that closes after the next reaper pass.
func (p *Proxy) Reaped() <-chan struct{} {
	_, ch := p.reaped.Get()
	return ch
}

// validate checks the parallel rule vectors: all four must have equal
// length, and privileged local ports draw a warning. Zero ports are
// rejected at the config layer.
func (p *Proxy) validate(cfg *config.Config) error {
	lh := len(cfg.Proxy.LocalHost)
	lp := len(cfg.Proxy.LocalPort)
	rh := len(cfg.Proxy.RemoteHost)
	rp := len(cfg.Proxy.RemotePort)
	max := lh
	for _, n := range []int{lp, rh, rp} {
		if n > max {
			max = n
		}
	}

	if lh != max || lp != max || rh != max || rp != max {
		report := func(field string, actual int) {
			if actual != max {
				p.log.Logf(logrus.FatalLevel,
					"There is a problem with the configuration field '%s'. "+
						"Since it's a set, it should have %d entries (repeats) - while it only has %d.",
					field, max, actual)
			}
		}
		report("mode.proxy.local_host", lh)
		report("mode.proxy.local_port", lp)
		report("mode.proxy.remote_host", rh)
		report("mode.proxy.remote_port", rp)
		return errors.New("mode.proxy rule vectors have unequal lengths")
	}

	for _, port := range cfg.Proxy.LocalPort {
		if port <= 1023 {
			p.log.Warnf("One of supplied mode.proxy.local_port: %d is a 'well-known port' "+
				"(its value is <= 1023). It means that the program might need additional "+
				"privileges to run correctly.", port)
		}
	}
	return nil
}

func (p *Proxy) addListener(ctx *stopper.Context, l *Listener) {
	host, port := l.ListenAddr()
	rhost, rport := l.RemoteAddr()
	p.log.Infof("Registering listener at %s:%d which will redirect to %s:%d.",
		host, port, rhost, rport)

	p.mu.Lock()
	p.mu.listeners = append(p.mu.listeners, l)
	p.mu.Unlock()
	l.AsyncListen(ctx)
}

// reapLoop periodically sweeps dead sessions out of every listener and
// dead listeners out of the engine.
func (p *Proxy) reapLoop(ctx *stopper.Context) error {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Stopping():
			return nil
		case <-ticker.C:
		}

		p.mu.Lock()
		live := p.mu.listeners[:0]
		for _, l := range p.mu.listeners {
			l.RemoveDeadSessions()
			if l.IsDead() {
				host, port := l.ListenAddr()
				p.log.Infof("Removing dead listener %s:%d.", host, port)
				p.log.Infof("Releasing listener %s:%d.", host, port)
				continue
			}
			live = append(live, l)
		}
		p.mu.listeners = live
		p.mu.Unlock()

		p.reaped.Notify()
	}
}
