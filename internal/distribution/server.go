// Package distribution serves buffered hashes, metrics and control
// commands to downstream consumers over short-lived TCP connections.
package distribution

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	"chimera/internal/bridge"
	"chimera/internal/logging"
	"chimera/pkg/hashing/core"
)

const (
	DefaultListen     = "0.0.0.0:4028"
	DefaultBurstLimit = 1000
	ReadTimeout       = time.Second
	WriteTimeout      = 5 * time.Second

	DefaultMaxCommandLength = 64 * 1024

	readChunk        = 1024
	continuationIdle = 100 * time.Millisecond
)

var (
	replyOK      = []byte("OK")
	replyErr     = []byte("ERR")
	replyUnknown = []byte("UNKNOWN_CMD")
)

// Config controls the distribution endpoint.
type Config struct {
	Listen           string
	BurstLimit       int
	MaxCommandLength int
}

// Server answers one command per connection.
type Server struct {
	cfg   Config
	state *bridge.State
	log   *logging.Logger

	listener net.Listener
	wg       sync.WaitGroup
	closed   atomic.Bool
	served   atomic.Uint64
}

// NewServer creates the endpoint over state.
func NewServer(cfg Config, state *bridge.State, log *logging.Logger) *Server {
	if cfg.Listen == "" {
		cfg.Listen = DefaultListen
	}
	if cfg.BurstLimit <= 0 {
		cfg.BurstLimit = DefaultBurstLimit
	}
	if cfg.MaxCommandLength <= 0 {
		cfg.MaxCommandLength = DefaultMaxCommandLength
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Server{cfg: cfg, state: state, log: log.Named("Distribution")}
}

// Listen binds the configured address.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("distribution listen %s: %w", s.cfg.Listen, err)
	}
	s.listener = ln
	s.log.Info("Listening on %s", ln.Addr())
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Run listens and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	return s.Serve(ctx)
}

// Serve accepts connections until ctx is done or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return errors.New("distribution: Serve called before Listen")
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-stop:
		}
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.closed.Load() {
				s.wg.Wait()
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("distribution accept: %w", err)
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(conn)
		}()
	}
}

// Close stops accepting connections.
func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

// Served reports how many requests were answered.
func (s *Server) Served() uint64 {
	return s.served.Load()
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	defer func() {
		if e := recover(); e != nil {
			s.log.Error("Request from %s panicked: %v", conn.RemoteAddr(), e)
		}
	}()

	raw, oversize, err := readCommand(conn, s.cfg.MaxCommandLength)
	if err != nil {
		s.log.Debug("No command from %s: %v", conn.RemoteAddr(), err)
		return
	}

	var reply []byte
	if oversize {
		s.log.Warn("Rejected command from %s: longer than %d bytes", conn.RemoteAddr(), s.cfg.MaxCommandLength)
		reply = replyErr
	} else {
		reply = s.Execute(ParseCommand(string(raw)))
	}

	if err := conn.SetWriteDeadline(time.Now().Add(WriteTimeout)); err != nil {
		return
	}
	if len(reply) > 0 {
		if _, err := conn.Write(reply); err != nil {
			s.log.Debug("Reply to %s failed: %v", conn.RemoteAddr(), err)
			return
		}
	}
	s.served.Add(1)
}

// readCommand reads one command within ReadTimeout. A command that fits one
// segment arrives in the first read; while reads keep filling the chunk
// without a newline, more is read until a short idle gap. Bytes past limit
// are drained and the command is reported as oversize.
func readCommand(conn net.Conn, limit int) ([]byte, bool, error) {
	deadline := time.Now().Add(ReadTimeout)
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, false, err
	}

	var data []byte
	chunk := make([]byte, readChunk)
	oversize := false
	for {
		n, err := conn.Read(chunk)
		if !oversize {
			data = append(data, chunk[:n]...)
			if len(data) > limit {
				oversize = true
				data = nil
			}
		}
		if err != nil {
			if oversize || len(data) > 0 {
				return data, oversize, nil
			}
			return nil, false, err
		}
		if n < len(chunk) || bytes.IndexByte(chunk[:n], '\n') >= 0 {
			if !oversize && len(data) == 0 {
				return nil, false, io.ErrUnexpectedEOF
			}
			return data, oversize, nil
		}

		idle := time.Now().Add(continuationIdle)
		if idle.After(deadline) {
			idle = deadline
		}
		if err := conn.SetReadDeadline(idle); err != nil {
			return data, oversize, nil
		}
	}
}

// Execute runs cmd against the bridge state and returns the raw reply.
func (s *Server) Execute(cmd Command) []byte {
	switch c := cmd.(type) {
	case GetMetrics:
		b, err := json.Marshal(s.state.Snapshot())
		if err != nil {
			s.log.Error("Metrics encode failed: %v", err)
			return replyErr
		}
		return b

	case RecentHashes:
		hashes := s.state.Ring.Drain()
		out := make([]string, len(hashes))
		for i, h := range hashes {
			out[i] = core.EncodeHex(h[:])
		}
		b, err := json.Marshal(out)
		if err != nil {
			return replyErr
		}
		return b

	case InjectSeed:
		s.state.SetSeed(c.Seed)
		s.log.Info("Seed injected: %q", c.Seed)
		return replyOK

	case SetFrequency:
		s.state.Pending.SetFrequency(c.MHz)
		s.log.Info("Frequency %d MHz staged", c.MHz)
		return replyOK

	case SetVoltage:
		s.state.Pending.SetVoltage(c.MV)
		s.log.Info("Voltage %d mV staged", c.MV)
		return replyOK

	case Burst:
		n := c.Count
		if n > s.cfg.BurstLimit {
			n = s.cfg.BurstLimit
		}
		return s.state.Ring.PopBytes(n)

	case Invalid:
		s.log.Warn("Rejected %s: %v", c.Command, bridge.NewError(bridge.ErrCodeInvalidCommand, "invalid command", c.Reason))
		return replyErr

	case Unknown:
		s.log.Warn("Unknown command %q", c.Raw)
		return replyUnknown

	default:
		return replyUnknown
	}
}
