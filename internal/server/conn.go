package server

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/russellromney/redlite-sub002/internal/kv"
	"github.com/russellromney/redlite-sub002/internal/pubsub"
	"github.com/russellromney/redlite-sub002/internal/resp"
)

// connState is the connection's mode. A connection is in exactly one state
// at any moment.
type connState int

const (
	stateNormal connState = iota
	stateSubscribed
	stateTransaction
)

func (s connState) String() string {
	switch s {
	case stateSubscribed:
		return "subscribe"
	case stateTransaction:
		return "multi"
	default:
		return "normal"
	}
}

// pollInterval bounds how long a subscribed connection blocks on the socket
// before draining its receivers.
const pollInterval = 50 * time.Millisecond

// queuedCommand buffers one command during MULTI, as-is.
type queuedCommand struct {
	name string
	args [][]byte
}

type conn struct {
	id  string
	nc  net.Conn
	r   *resp.Reader
	w   *resp.Writer
	log *zap.Logger
	srv *Server

	db    *kv.DB
	state connState

	// Subscribed-state bookkeeping: receiver per channel and per pattern.
	channels map[string]*pubsub.Receiver
	patterns map[string]*pubsub.Receiver

	// Transaction-state bookkeeping.
	queue   []queuedCommand
	txDirty bool
}

func newConn(nc net.Conn, srv *Server) *conn {
	id := uuid.NewString()
	db, _ := srv.store.DB(0)
	return &conn{
		id:  id,
		nc:  nc,
		r:   resp.NewReader(nc),
		w:   resp.NewWriter(nc),
		log: srv.log.With(zap.String("conn", id[:8]), zap.String("remote", nc.RemoteAddr().String())),
		srv: srv,
		db:  db,
	}
}

// serve reads commands until the peer goes away or ctx is canceled. Panics
// terminate only this connection; the server stays up.
func (c *conn) serve(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("connection panic", zap.Any("panic", r))
		}
		c.teardown()
	}()

	// Unblock the read loop on shutdown.
	stop := context.AfterFunc(ctx, func() { _ = c.nc.Close() })
	defer stop()

	c.log.Debug("connected")

	for {
		if ctx.Err() != nil {
			return
		}

		if c.state == stateSubscribed {
			if !c.serveSubscribed(ctx) {
				return
			}
			continue
		}

		args, err := c.r.ReadCommand()
		if err != nil {
			c.readFailed(err)
			return
		}
		if !c.handle(args) {
			return
		}
	}
}

// serveSubscribed interleaves inbound commands with message delivery.
// Returns false when the connection should close.
func (c *conn) serveSubscribed(ctx context.Context) bool {
	// Peek under a deadline so a timeout can never split a frame; the full
	// command is then read without one.
	_ = c.nc.SetReadDeadline(time.Now().Add(pollInterval))
	err := c.r.Peek()
	_ = c.nc.SetReadDeadline(time.Time{})

	if err != nil {
		if isTimeout(err) {
			if ctx.Err() != nil {
				return false
			}
			return c.deliverPending()
		}
		c.readFailed(err)
		return false
	}

	args, err := c.r.ReadCommand()
	if err != nil {
		c.readFailed(err)
		return false
	}
	if !c.handle(args) {
		return false
	}
	return c.deliverPending()
}

// deliverPending drains every receiver without blocking, framing messages as
// ["message", channel, payload] / ["pmessage", pattern, channel, payload].
func (c *conn) deliverPending() bool {
	wrote := false
	for channel, r := range c.channels {
		for {
			msg, ok := r.TryRecv()
			if !ok {
				break
			}
			frame := resp.Array(
				resp.BulkString("message"),
				resp.BulkString(channel),
				resp.Bulk(msg.Payload),
			)
			if err := c.w.Write(frame); err != nil {
				return false
			}
			wrote = true
		}
	}
	for pattern, r := range c.patterns {
		for {
			msg, ok := r.TryRecv()
			if !ok {
				break
			}
			frame := resp.Array(
				resp.BulkString("pmessage"),
				resp.BulkString(pattern),
				resp.BulkString(msg.Channel),
				resp.Bulk(msg.Payload),
			)
			if err := c.w.Write(frame); err != nil {
				return false
			}
			wrote = true
		}
	}
	if wrote {
		return c.w.Flush() == nil
	}
	return true
}

// handle dispatches one command and writes its reply. Returns false when the
// connection should close (QUIT or write failure).
func (c *conn) handle(args [][]byte) bool {
	if len(args) == 0 {
		return c.reply(resp.Error("ERR empty command"))
	}
	name := strings.ToUpper(string(args[0]))

	if name == "QUIT" {
		_ = c.reply(resp.OK)
		return false
	}

	reply := c.dispatch(name, args[1:])
	return c.reply(reply)
}

func (c *conn) reply(v resp.Value) bool {
	if err := c.w.Write(v); err != nil {
		return false
	}
	return c.w.Flush() == nil
}

func (c *conn) readFailed(err error) {
	switch {
	case err == io.EOF:
		c.log.Debug("disconnected")
	case errors.Is(err, resp.ErrProtocol):
		c.log.Warn("protocol error", zap.Error(err))
		_ = c.reply(resp.Error("ERR Protocol error"))
	case errors.Is(err, net.ErrClosed):
	default:
		c.log.Debug("read failed", zap.Error(err))
	}
}

// teardown releases subscriptions and closes the socket. Runs on every exit
// path so broker state never leaks.
func (c *conn) teardown() {
	for _, r := range c.channels {
		c.srv.broker.Unsubscribe(r)
	}
	for _, r := range c.patterns {
		c.srv.broker.Unsubscribe(r)
	}
	c.channels = nil
	c.patterns = nil
	_ = c.nc.Close()
}

func (c *conn) subscriptionCount() int {
	return len(c.channels) + len(c.patterns)
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
