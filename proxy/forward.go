package proxy

import (
	"bytes"
	"io"
	"net"

	"go.uber.org/zap"

	"github.com/tcproxy/ruleproxy/rule"
)

// forwardFiltered is the inbound filtered path (spec.md §4.G.4): read
// chunks from the client, evaluate the active program against each one,
// and apply the resulting action. Terminates cleanly on EOF or a read
// error from its read half.
func (p *Proxy) forwardFiltered(log *zap.Logger, client, upstream net.Conn, srcIP [4]byte, srcPort uint16, dstIP [4]byte, dstPort uint16) error {
	buf := make([]byte, 32*1024)
	for {
		n, readErr := client.Read(buf)
		if n > 0 {
			if err := p.applyChunk(log, buf[:n], upstream, srcIP, srcPort, dstIP, dstPort); err != nil {
				return nil
			}
		}
		if readErr != nil {
			return nil
		}
	}
}

func (p *Proxy) applyChunk(log *zap.Logger, chunk []byte, upstream net.Conn, srcIP [4]byte, srcPort uint16, dstIP [4]byte, dstPort uint16) error {
	packet := &rule.Packet{
		SourceIP:   srcIP,
		SourcePort: srcPort,
		DestIP:     dstIP,
		DestPort:   dstPort,
		Content:    chunk,
	}

	prog := p.Cell.Snapshot()
	action, err := rule.Run(prog, packet)
	if err != nil {
		// VM errors on a given chunk default to DROP; the connection
		// continues (spec.md §7).
		log.Warn("vm evaluation failed, dropping chunk", zap.Error(err))
		p.Metrics.ChunksActed.WithLabelValues("drop").Inc()
		return nil
	}

	switch action.Kind {
	case rule.ActionDrop:
		p.Metrics.ChunksActed.WithLabelValues("drop").Inc()
		return nil

	case rule.ActionReject:
		p.Metrics.ChunksActed.WithLabelValues("reject").Inc()
		return nil

	case rule.ActionRedirect:
		// Resolved Open Question (spec.md §9): REDIRECT is advisory here.
		// The chunk is forwarded unchanged to the statically configured
		// upstream; the target endpoint is only recorded for operators,
		// not redialed.
		log.Info("redirect action (advisory)",
			zap.String("target", action.RedirectAddr.String()+":"+action.RedirectPort.String()))
		p.Metrics.ChunksActed.WithLabelValues("redirect").Inc()
		_, werr := upstream.Write(chunk)
		return werr

	case rule.ActionRewrite:
		rewritten := bytes.ReplaceAll(chunk, action.RewriteFind.Data, action.RewriteRepl.Data)
		p.Metrics.ChunksActed.WithLabelValues("rewrite").Inc()
		_, werr := upstream.Write(rewritten)
		return werr

	default:
		p.Metrics.ChunksActed.WithLabelValues("unknown").Inc()
		return nil
	}
}

// forwardPlain is the return path (spec.md §4.G.4): bytes read from
// upstream are forwarded to the client unmodified, with no VM
// evaluation.
func forwardPlain(client, upstream net.Conn) error {
	_, err := io.Copy(client, upstream)
	_ = err
	return nil
}
