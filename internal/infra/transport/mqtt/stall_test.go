package mqtt

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"reactorboard/internal/role"
	"reactorboard/pkg/domain"
)

// stalledBroker accepts one connection, answers CONNECT with a successful
// CONNACK and then never reads again.
func stalledBroker(t *testing.T) *net.TCPAddr {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("listen: %v", err)
	}
	conns := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conns <- conn
		r := bufio.NewReader(conn)
		if _, err := r.ReadByte(); err != nil {
			return
		}
		var length, mult int = 0, 1
		for {
			b, err := r.ReadByte()
			if err != nil {
				return
			}
			length += int(b&0x7f) * mult
			if b&0x80 == 0 {
				break
			}
			mult *= 128
		}
		if _, err := io.CopyN(io.Discard, r, int64(length)); err != nil {
			return
		}
		_, _ = conn.Write([]byte{0x20, 0x02, 0x00, 0x00})
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		select {
		case conn := <-conns:
			_ = conn.Close()
		default:
		}
	})
	return ln.Addr().(*net.TCPAddr)
}

func TestPublishDoesNotBlockOnStalledBroker(t *testing.T) {
	addr := stalledBroker(t)
	c := New(Config{
		BrokerAddress:  addr.IP.String(),
		BrokerPort:     addr.Port,
		ConnectTimeout: 2 * time.Second,
		WriteTimeout:   200 * time.Millisecond,
		QueueSize:      4,
	}, role.Leader("leader1"))
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()

	payload := make([]byte, 256<<10)
	var worst time.Duration
	full := 0
	for i := 0; i < 512; i++ {
		start := time.Now()
		err := c.Publish("pioreactor/leader1/exp/logs/ui/info", payload)
		if d := time.Since(start); d > worst {
			worst = d
		}
		if err != nil {
			if !errors.Is(err, domain.ErrTransport) {
				t.Fatalf("publish %d: %v", i, err)
			}
			full++
		}
	}
	if worst > 500*time.Millisecond {
		t.Fatalf("Publish blocked the caller for %s", worst)
	}
	if full == 0 {
		t.Fatal("expected the bounded queue to reject messages while the broker is stalled")
	}
}
