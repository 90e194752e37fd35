package proxy

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tcproxy/ruleproxy/rule"
	"github.com/tcproxy/ruleproxy/store"
)

func startEchoUpstream(t *testing.T) (addr string, received chan []byte) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	received = make(chan []byte, 8)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		buf := make([]byte, 4096)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				got := make([]byte, n)
				copy(got, buf[:n])
				received <- got
			}
			if err != nil {
				return
			}
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return ln.Addr().String(), received
}

func newTestProxy(t *testing.T, destAddr string) (*Proxy, string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ln.Close() // release the port, Proxy.ListenAndServe rebinds it

	cell := store.NewCell()
	reg := prometheus.NewRegistry()
	p := &Proxy{
		BindAddr: ln.Addr().String(),
		DestAddr: destAddr,
		Cell:     cell,
		Logger:   zap.NewNop(),
		Metrics:  NewMetrics(reg),
	}

	ctx, cancel := context.WithCancel(context.Background())
	go p.ListenAndServe(ctx)
	t.Cleanup(cancel)
	time.Sleep(20 * time.Millisecond) // let the listener bind
	return p, ln.Addr().String()
}

func TestRewriteActionAppliedOnRelay(t *testing.T) {
	destAddr, received := startEchoUpstream(t)
	p, bindAddr := newTestProxy(t, destAddr)

	prog, err := rule.Compile(`(def-rule rw (REWRITE "AAA" "BBB"))`)
	require.NoError(t, err)
	p.Cell.Install(prog)

	conn, err := net.Dial("tcp", bindAddr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("AAA"))
	require.NoError(t, err)

	select {
	case got := <-received:
		require.Equal(t, "BBB", string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for rewritten chunk")
	}
}

func TestDropActionDiscardsChunk(t *testing.T) {
	destAddr, received := startEchoUpstream(t)
	p, bindAddr := newTestProxy(t, destAddr)

	prog, err := rule.Compile(`(def-rule d DROP)`)
	require.NoError(t, err)
	p.Cell.Install(prog)

	conn, err := net.Dial("tcp", bindAddr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("should not arrive"))
	require.NoError(t, err)

	select {
	case got := <-received:
		t.Fatalf("expected no forwarded bytes, got %q", got)
	case <-time.After(200 * time.Millisecond):
		// expected: nothing arrived
	}
}
