package scanner

import (
	"bufio"
	"context"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pvpedge/verifier/internal/entity"
	"github.com/pvpedge/verifier/internal/metrics"
)

// Read is one line from the reader feed. Scan is nil when the reader
// reported a failed decode or the payload did not parse; either way the
// line counts as a read attempt for the open window.
type Read struct {
	At   time.Time
	Raw  string
	Scan *entity.ScanEvent
}

// Config holds the reader feed settings.
type Config struct {
	Addr           string
	Separator      string
	NoReadToken    string
	ReconnectDelay time.Duration
}

// Client keeps a TCP connection to the label reader and turns its line
// protocol into Read values. The reader pushes one line per decode attempt.
type Client struct {
	cfg    Config
	dial   func(ctx context.Context) (net.Conn, error)
	out    chan Read
	logger *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Separator == "" {
		cfg.Separator = ";"
	}
	if cfg.NoReadToken == "" {
		cfg.NoReadToken = "NOREAD"
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 2 * time.Second
	}
	c := &Client{
		cfg:    cfg,
		out:    make(chan Read, 16),
		logger: logger,
	}
	c.dial = func(ctx context.Context) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", cfg.Addr)
	}
	return c
}

// Reads is the feed of decode attempts, in arrival order.
func (c *Client) Reads() <-chan Read { return c.out }

// Run connects, consumes lines and reconnects until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			c.logger.Warn("scanner.connect.failed", zap.String("addr", c.cfg.Addr), zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(c.cfg.ReconnectDelay):
			}
			continue
		}
		c.logger.Info("scanner.connected", zap.String("addr", c.cfg.Addr))
		c.serve(ctx, conn)
		if ctx.Err() == nil {
			c.logger.Warn("scanner.disconnected", zap.String("addr", c.cfg.Addr))
			select {
			case <-ctx.Done():
			case <-time.After(c.cfg.ReconnectDelay):
			}
		}
	}
	return ctx.Err()
}

func (c *Client) serve(ctx context.Context, conn net.Conn) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		_ = conn.Close()
	}()

	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			continue
		}
		at := time.Now()

		var read Read
		switch {
		case line == c.cfg.NoReadToken:
			metrics.ScannerReadsTotal.WithLabelValues("no_read").Inc()
			read = Read{At: at, Raw: line}
		default:
			ev, err := ParseLabel(line, c.cfg.Separator, at)
			if err != nil {
				metrics.ScannerReadsTotal.WithLabelValues("malformed").Inc()
				c.logger.Warn("scanner.read.malformed", zap.String("raw", line), zap.Error(err))
				read = Read{At: at, Raw: line}
			} else {
				metrics.ScannerReadsTotal.WithLabelValues("decoded").Inc()
				read = Read{At: at, Raw: line, Scan: ev}
			}
		}

		select {
		case c.out <- read:
		case <-ctx.Done():
			return
		}
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		c.logger.Warn("scanner.read.error", zap.Error(err))
	}
}
