package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/shadowdhcp/shadowdhcpd/internal/agh"
)

// maxDatagramSize bounds the buffer a udpTask reads into. DHCPv4/v6
// datagrams relayed over UDP never legitimately exceed this.
const maxDatagramSize = 8192

// type check
var _ agh.Service = (*udpTask)(nil)

// udpTask owns one protocol's UDP socket: read a datagram, hand it to
// handle, and — if handle produced a reply — write it back to whichever
// address the datagram arrived from (spec.md §5: "one task per protocol,
// each consuming from its UDP socket in order"; processing within a task
// is sequential, never fanned out across goroutines per packet).
type udpTask struct {
	addr   string
	handle func(raw []byte, now time.Time) (reply []byte)
	logger *slog.Logger
	name   string

	conn *net.UDPConn
	done chan struct{}
}

func newUDPTask(addr, name string, handle func([]byte, time.Time) []byte, logger *slog.Logger) *udpTask {
	return &udpTask{addr: addr, name: name, handle: handle, logger: logger}
}

// Start implements the [agh.Service] interface for udpTask.
func (t *udpTask) Start() (err error) {
	laddr, err := net.ResolveUDPAddr("udp", t.addr)
	if err != nil {
		return err
	}

	t.conn, err = net.ListenUDP("udp", laddr)
	if err != nil {
		return err
	}

	t.done = make(chan struct{})

	go t.run()

	return nil
}

// Shutdown implements the [agh.Service] interface for udpTask.
func (t *udpTask) Shutdown(ctx context.Context) (err error) {
	if t.conn == nil {
		return nil
	}

	if err = t.conn.Close(); err != nil {
		return err
	}

	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the task's sequential read-handle-reply loop, until the socket
// is closed by [udpTask.Shutdown].
func (t *udpTask) run() {
	defer close(t.done)

	buf := make([]byte, maxDatagramSize)

	for {
		n, peer, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}

			t.logger.Warn(t.name+": reading datagram", slogutil.KeyError, err)

			continue
		}

		raw := make([]byte, n)
		copy(raw, buf[:n])

		reply := t.handle(raw, time.Now())
		if reply == nil {
			continue
		}

		if _, err = t.conn.WriteToUDP(reply, peer); err != nil {
			t.logger.Warn(t.name+": writing reply", slogutil.KeyError, err)
		}
	}
}
