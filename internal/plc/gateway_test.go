package plc

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type tagTable struct {
	mu   sync.Mutex
	tags map[string]int
}

func (tt *tagTable) set(name string, v int) {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	tt.tags[name] = v
}

func (tt *tagTable) get(name string) (int, bool) {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	v, ok := tt.tags[name]
	return v, ok
}

// fakeGateway answers the ASCII tag protocol with an in-memory tag table.
func fakeGateway(t *testing.T) (addr string, tags *tagTable) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	tags = &tagTable{tags: map[string]int{}}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer func() { _ = conn.Close() }()
				sc := bufio.NewScanner(conn)
				for sc.Scan() {
					parts := strings.Fields(sc.Text())
					switch {
					case len(parts) == 2 && parts[0] == "GET":
						v, ok := tags.get(parts[1])
						if !ok {
							fmt.Fprintf(conn, "ERR no such tag\n")
							continue
						}
						fmt.Fprintf(conn, "%d\n", v)
					case len(parts) == 3 && parts[0] == "SET":
						var v int
						_, _ = fmt.Sscanf(parts[2], "%d", &v)
						tags.set(parts[1], v)
						fmt.Fprintf(conn, "OK\n")
					default:
						fmt.Fprintf(conn, "ERR bad request\n")
					}
				}
			}(conn)
		}
	}()
	return ln.Addr().String(), tags
}

func TestGatewayReadWrite(t *testing.T) {
	addr, tags := fakeGateway(t)
	tags.set("PaletPosition", 1)

	g := NewGateway(addr, time.Second, zap.NewNop())
	defer func() { _ = g.Close() }()
	ctx := context.Background()

	v, err := g.ReadTag(ctx, "PaletPosition")
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	require.NoError(t, g.WriteTag(ctx, "LabelOk", 1))
	v, err = g.ReadTag(ctx, "LabelOk")
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestGatewayUnknownTag(t *testing.T) {
	addr, _ := fakeGateway(t)
	g := NewGateway(addr, time.Second, zap.NewNop())
	defer func() { _ = g.Close() }()

	_, err := g.ReadTag(context.Background(), "Bogus")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such tag")
}

func TestGatewayRedialsAfterClose(t *testing.T) {
	addr, tags := fakeGateway(t)
	tags.set("T", 7)

	g := NewGateway(addr, time.Second, zap.NewNop())
	ctx := context.Background()

	_, err := g.ReadTag(ctx, "T")
	require.NoError(t, err)

	require.NoError(t, g.Close())

	v, err := g.ReadTag(ctx, "T")
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestGatewayTimeout(t *testing.T) {
	// A listener that accepts but never answers.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() { time.Sleep(5 * time.Second); _ = conn.Close() }()
		}
	}()

	g := NewGateway(ln.Addr().String(), 50*time.Millisecond, zap.NewNop())
	defer func() { _ = g.Close() }()

	_, err = g.ReadTag(context.Background(), "T")
	require.Error(t, err)
	var nerr net.Error
	require.ErrorAs(t, err, &nerr)
	assert.True(t, nerr.Timeout())
}
