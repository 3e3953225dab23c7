package plc

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Gateway is a TagBus over the fieldbus gateway's ASCII protocol: one
// "GET <tag>" or "SET <tag> <value>" request per line, one reply line per
// request. The gateway serializes access to the controller, so a single
// connection with one request in flight is the intended use.
type Gateway struct {
	addr    string
	timeout time.Duration
	logger  *zap.Logger

	mu   sync.Mutex
	conn net.Conn
	br   *bufio.Reader
}

func NewGateway(addr string, timeout time.Duration, logger *zap.Logger) *Gateway {
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	return &Gateway{addr: addr, timeout: timeout, logger: logger}
}

// ReadTag returns the integer value of a tag.
func (g *Gateway) ReadTag(ctx context.Context, name string) (int, error) {
	line, err := g.roundTrip(ctx, "GET "+name)
	if err != nil {
		return 0, fmt.Errorf("read tag %s: %w", name, err)
	}
	if rest, ok := strings.CutPrefix(line, "ERR"); ok {
		return 0, fmt.Errorf("read tag %s: gateway: %s", name, strings.TrimSpace(rest))
	}
	v, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil {
		return 0, fmt.Errorf("read tag %s: bad reply %q", name, line)
	}
	return v, nil
}

// WriteTag sets a tag to value.
func (g *Gateway) WriteTag(ctx context.Context, name string, value int) error {
	line, err := g.roundTrip(ctx, fmt.Sprintf("SET %s %d", name, value))
	if err != nil {
		return fmt.Errorf("write tag %s: %w", name, err)
	}
	if rest, ok := strings.CutPrefix(line, "ERR"); ok {
		return fmt.Errorf("write tag %s: gateway: %s", name, strings.TrimSpace(rest))
	}
	if strings.TrimSpace(line) != "OK" {
		return fmt.Errorf("write tag %s: bad reply %q", name, line)
	}
	return nil
}

// Close drops the gateway connection. The next call redials.
func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dropLocked()
}

func (g *Gateway) roundTrip(ctx context.Context, req string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.conn == nil {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", g.addr)
		if err != nil {
			return "", fmt.Errorf("dial gateway: %w", err)
		}
		g.conn = conn
		g.br = bufio.NewReader(conn)
		g.logger.Debug("plc.gateway.connected", zap.String("addr", g.addr))
	}

	deadline := time.Now().Add(g.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := g.conn.SetDeadline(deadline); err != nil {
		_ = g.dropLocked()
		return "", err
	}

	if _, err := g.conn.Write([]byte(req + "\n")); err != nil {
		_ = g.dropLocked()
		return "", fmt.Errorf("send: %w", err)
	}
	line, err := g.br.ReadString('\n')
	if err != nil {
		_ = g.dropLocked()
		return "", fmt.Errorf("receive: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (g *Gateway) dropLocked() error {
	if g.conn == nil {
		return nil
	}
	err := g.conn.Close()
	g.conn = nil
	g.br = nil
	return err
}
