// Package server is the RESP front-end: TCP accept loop, per-connection
// state machine (normal, subscribed, transaction), and the command dispatch
// table over the data engine.
package server

import (
	"context"
	"errors"
	"net"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/russellromney/redlite-sub002/internal/kv"
	"github.com/russellromney/redlite-sub002/internal/pubsub"
)

// Server accepts RESP connections and serves them against a shared store.
type Server struct {
	store  *kv.Store
	broker *pubsub.Broker
	log    *zap.Logger

	started time.Time
	ln      net.Listener
}

// New wires a server over an open store.
func New(store *kv.Store, broker *pubsub.Broker, log *zap.Logger) *Server {
	return &Server{
		store:  store,
		broker: broker,
		log:    log.Named("server"),
	}
}

// Broker exposes the pub/sub fan-out (admin surface, tests).
func (s *Server) Broker() *pubsub.Broker { return s.broker }

// Listen binds the address without serving yet, so callers learn the
// resolved port before the first connection.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.started = time.Now()
	s.log.Info("listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address; nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve runs the accept loop until ctx is canceled. Each connection is its
// own goroutine; a dropped connection only cancels itself.
func (s *Server) Serve(ctx context.Context) error {
	if s.ln == nil {
		return errors.New("server: Serve before Listen")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return s.ln.Close()
	})
	g.Go(func() error {
		for {
			nc, err := s.ln.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			c := newConn(nc, s)
			g.Go(func() error {
				c.serve(ctx)
				return nil
			})
		}
	})

	err := g.Wait()
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
