// Package proxy implements the interception data plane (spec.md §4.G):
// accept client connections, dial upstream, relay bytes in both
// directions, invoke the rule VM on inbound chunks, and act on the
// result.
package proxy

import (
	"context"
	"fmt"
	"net"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tcproxy/ruleproxy/store"
)

// Proxy binds one listener and relays every accepted connection to a
// single, statically configured upstream, filtering inbound chunks
// through the active-program cell.
type Proxy struct {
	BindAddr string
	DestAddr string
	Cell     *store.Cell
	Logger   *zap.Logger
	Metrics  *Metrics
}

// ListenAndServe binds BindAddr and accepts connections until ctx is
// canceled. Grounded in nicolar-ldap-proxy/ldap-proxy.go's accept loop
// and original_source/redirector/src/redirector/mod.rs's bind/accept/dial
// shape.
//
// Bind failure is unrecoverable at startup (spec.md §4.G.1): the caller
// is expected to treat a non-nil return here as fatal.
func (p *Proxy) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", p.BindAddr)
	if err != nil {
		return fmt.Errorf("proxy: bind %s: %w", p.BindAddr, err)
	}
	defer ln.Close()

	p.Logger.Info("forwarding",
		zap.String("bind", p.BindAddr),
		zap.String("dest", p.DestAddr),
	)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.Logger.Warn("accept error", zap.Error(err))
			continue
		}
		go p.handleConn(ctx, conn)
	}
}

// handleConn dials the upstream and relays bytes in both directions; it
// returns only after both forwarders have finished. Dial failure is logged and the connection is
// dropped; it does not affect the listener (spec.md §4.G.2).
func (p *Proxy) handleConn(ctx context.Context, client net.Conn) {
	defer client.Close()
	p.Metrics.Connections.Inc()

	connID := uuid.New().String()
	log := p.Logger.With(zap.String("conn", connID))

	upstream, err := net.Dial("tcp", p.DestAddr)
	if err != nil {
		p.Metrics.DialErrors.Inc()
		log.Warn("dial upstream failed", zap.String("dest", p.DestAddr), zap.Error(err))
		return
	}
	defer upstream.Close()

	srcIP, srcPort, err := splitIPv4Port(client.RemoteAddr().String())
	if err != nil {
		log.Warn("could not parse client address", zap.Error(err))
		return
	}
	dstIP, dstPort, err := splitIPv4Port(upstream.RemoteAddr().String())
	if err != nil {
		log.Warn("could not parse upstream address", zap.Error(err))
		return
	}

	log.Debug("connection established",
		zap.String("client", client.RemoteAddr().String()),
		zap.String("upstream", upstream.RemoteAddr().String()),
	)

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.forwardFiltered(log, client, upstream, srcIP, srcPort, dstIP, dstPort)
	})
	g.Go(func() error {
		return forwardPlain(client, upstream)
	})
	_ = g.Wait()
}

func splitIPv4Port(hostport string) ([4]byte, uint16, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return [4]byte{}, 0, err
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return [4]byte{}, 0, fmt.Errorf("proxy: invalid address %q", host)
	}
	v4 := ip.To4()
	if v4 == nil {
		return [4]byte{}, 0, fmt.Errorf("proxy: not an IPv4 address %q", host)
	}
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return [4]byte{}, 0, fmt.Errorf("proxy: invalid port %q", portStr)
	}
	return [4]byte{v4[0], v4[1], v4[2], v4[3]}, uint16(port), nil
}
