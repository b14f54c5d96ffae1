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
	"bytes"
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"vawter.tech/tcptun/config"
	"vawter.tech/tcptun/internal/tcptest"
)

func ruleConfig(rules ...config.Rule) *config.Config {
	cfg := &config.Config{Mode: "proxy"}
	for _, rule := range rules {
		cfg.Proxy.LocalHost = append(cfg.Proxy.LocalHost, rule.LocalHost)
		cfg.Proxy.LocalPort = append(cfg.Proxy.LocalPort, rule.LocalPort)
		cfg.Proxy.RemoteHost = append(cfg.Proxy.RemoteHost, rule.RemoteHost)
		cfg.Proxy.RemotePort = append(cfg.Proxy.RemotePort, rule.RemotePort)
	}
	return cfg
}

func TestEngineTwoRules(t *testing.T) {
	r := require.New(t)
	ctx := tcptest.NewStopperForTest(t)
	logger, hook := tcptest.NewLogger(t)

	host1, rport1 := echoBackend(t, ctx)
	host2, rport2 := echoBackend(t, ctx)
	lport1 := tcptest.FreePort(t)
	lport2 := tcptest.FreePort(t)

	cfg := ruleConfig(
		config.Rule{LocalHost: "127.0.0.1", LocalPort: lport1, RemoteHost: host1, RemotePort: rport1},
		config.Rule{LocalHost: "127.0.0.1", LocalPort: lport2, RemoteHost: host2, RemotePort: rport2},
	)

	p, err := New(ctx, cfg, logger)
	r.NoError(err)
	r.Len(p.Listeners(), 2)

	// Each client pushes its own random payload and must get exactly it
	// back, with no bytes crossing between the sessions.
	var wg sync.WaitGroup
	for _, port := range []uint16{lport1, lport2} {
		wg.Add(1)
		go func(port uint16) {
			defer wg.Done()
			payload := make([]byte, 1<<20)
			if _, err := rand.Read(payload); err != nil {
				t.Errorf("rand: %v", err)
				return
			}

			client, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
			if err != nil {
				t.Errorf("dial %d: %v", port, err)
				return
			}
			defer func() { _ = client.Close() }()

			go func() {
				_, _ = client.Write(payload)
				_ = client.(*net.TCPConn).CloseWrite()
			}()

			got := make([]byte, len(payload))
			if _, err := io.ReadFull(client, got); err != nil {
				t.Errorf("read %d: %v", port, err)
				return
			}
			if !bytes.Equal(payload, got) {
				t.Errorf("payload corrupted through port %d", port)
			}
		}(port)
	}
	wg.Wait()

	r.True(tcptest.HasEntry(hook, logrus.InfoLevel, "Registering listener"))
	r.True(tcptest.HasEntry(hook, logrus.InfoLevel, "Accepted client"))
	r.True(tcptest.HasEntry(hook, logrus.WarnLevel, "is now up and running"))
}

func TestEngineBindInUse(t *testing.T) {
	r := require.New(t)
	ctx := tcptest.NewStopperForTest(t)
	logger, hook := tcptest.NewLogger(t)

	holder, err := net.Listen("tcp", "127.0.0.1:0")
	r.NoError(err)
	defer func() { _ = holder.Close() }()
	port := uint16(holder.Addr().(*net.TCPAddr).Port)

	cfg := ruleConfig(config.Rule{
		LocalHost: "127.0.0.1", LocalPort: port,
		RemoteHost: "127.0.0.1", RemotePort: 9,
	})
	_, err = New(ctx, cfg, logger)
	r.Error(err)
	r.Contains(err.Error(), fmt.Sprintf("127.0.0.1:%d", port))
	r.True(tcptest.HasEntry(hook, logrus.FatalLevel, "Cannot start listener"))
}

func TestEngineVectorMismatch(t *testing.T) {
	r := require.New(t)
	ctx := tcptest.NewStopperForTest(t)
	logger, hook := tcptest.NewLogger(t)

	cfg := &config.Config{Mode: "proxy"}
	cfg.Proxy.LocalHost = []string{"127.0.0.1", "127.0.0.1"}
	cfg.Proxy.LocalPort = []uint16{18080}
	cfg.Proxy.RemoteHost = []string{"127.0.0.1", "127.0.0.1"}
	cfg.Proxy.RemotePort = []uint16{19090, 19091}

	_, err := New(ctx, cfg, logger)
	r.Error(err)
	r.True(tcptest.HasEntry(hook, logrus.FatalLevel, "mode.proxy.local_port"))
	// Only the deviating vector is reported.
	r.False(tcptest.HasEntry(hook, logrus.FatalLevel, "mode.proxy.local_host"))
}

func TestEngineReservedPortWarning(t *testing.T) {
	r := require.New(t)
	logger, hook := tcptest.NewLogger(t)

	cfg := ruleConfig(config.Rule{
		LocalHost: "127.0.0.1", LocalPort: 80,
		RemoteHost: "127.0.0.1", RemotePort: 9,
	})
	p := &Proxy{log: logger}
	r.NoError(p.validate(cfg))
	r.True(tcptest.HasEntry(hook, logrus.WarnLevel, "well-known port"))
}

func TestEngineRemoteUnreachableKeepsAccepting(t *testing.T) {
	r := require.New(t)
	ctx := tcptest.NewStopperForTest(t)
	logger, _ := tcptest.NewLogger(t)

	lport := tcptest.FreePort(t)
	cfg := ruleConfig(config.Rule{
		LocalHost: "127.0.0.1", LocalPort: lport,
		RemoteHost: "127.0.0.1", RemotePort: tcptest.FreePort(t),
	})
	p, err := New(ctx, cfg, logger)
	r.NoError(err)

	for i := 0; i < 2; i++ {
		client, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", lport))
		r.NoError(err)
		// The connection is accepted, then dropped once the outbound
		// connect fails.
		_ = client.SetReadDeadline(time.Now().Add(10 * time.Second))
		_, err = client.Read(make([]byte, 1))
		r.Error(err)
		_ = client.Close()
	}

	r.False(p.Listeners()[0].IsDead())
}

func TestEngineReaper(t *testing.T) {
	old := reapInterval
	reapInterval = 50 * time.Millisecond
	defer func() { reapInterval = old }()

	r := require.New(t)
	ctx := tcptest.NewStopperForTest(t)
	logger, hook := tcptest.NewLogger(t)

	host, rport := echoBackend(t, ctx)
	cfg := ruleConfig(config.Rule{
		LocalHost: "127.0.0.1", LocalPort: tcptest.FreePort(t),
		RemoteHost: host, RemotePort: rport,
	})
	p, err := New(ctx, cfg, logger)
	r.NoError(err)

	l := p.Listeners()[0]
	l.Close()

	deadline := time.Now().Add(10 * time.Second)
	for len(p.Listeners()) > 0 {
		if time.Now().After(deadline) {
			t.Fatal("dead listener never reaped")
		}
		<-p.Reaped()
	}
	r.True(tcptest.HasEntry(hook, logrus.InfoLevel, "Removing dead listener"))
}

func TestEngineCleanShutdown(t *testing.T) {
	r := require.New(t)
	ctx := tcptest.NewStopperForTest(t)
	logger, hook := tcptest.NewLogger(t)

	cfg := ruleConfig(config.Rule{
		LocalHost: "127.0.0.1", LocalPort: tcptest.FreePort(t),
		RemoteHost: "127.0.0.1", RemotePort: tcptest.FreePort(t),
	})
	_, err := New(ctx, cfg, logger)
	r.NoError(err)
	r.True(tcptest.HasEntry(hook, logrus.InfoLevel, "Initialized mode 'proxy'"))
	// The test rig stops the context and verifies that every task
	// drains without error.
}
