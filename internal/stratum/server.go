// Package stratum serves the Stratum V1 pool side to mining devices. Every
// share is acknowledged; the point is the stream of hashes, not payouts.
package stratum

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"chimera/internal/bridge"
	"chimera/internal/logging"
)

const (
	DefaultListen          = "0.0.0.0:3333"
	DefaultExtranonce1     = "08000002"
	DefaultExtranonce2Size = 4
	DefaultJobInterval     = 10 * time.Second
	DefaultWriteTimeout    = 10 * time.Second

	maxLineLength  = 64 * 1024
	readBufferSize = 4096
)

// Config controls the gateway.
type Config struct {
	Listen           string
	Difficulty       float64
	Extranonce1      string
	Extranonce2Size  int
	JobInterval      time.Duration
	WriteTimeout     time.Duration
	WakeFrequencyMHz int
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.Difficulty <= 0 {
		c.Difficulty = 1
	}
	if c.Extranonce1 == "" {
		c.Extranonce1 = DefaultExtranonce1
	}
	if c.Extranonce2Size <= 0 {
		c.Extranonce2Size = DefaultExtranonce2Size
	}
	if c.JobInterval <= 0 {
		c.JobInterval = DefaultJobInterval
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
}

// HostNotifier learns the device address from authorized connections.
type HostNotifier interface {
	SetTargetHost(host string) bool
}

// Server accepts device connections and feeds their shares into the
// bridge state.
type Server struct {
	cfg   Config
	state *bridge.State
	hosts HostNotifier
	log   *logging.Logger

	listener   net.Listener
	extranonce atomic.Uint32

	sessionsLock sync.RWMutex
	sessions     map[string]*Session

	wg     sync.WaitGroup
	done   chan struct{}
	closed atomic.Bool
}

// NewServer creates a gateway. hosts may be nil.
func NewServer(cfg Config, state *bridge.State, hosts HostNotifier, log *logging.Logger) (*Server, error) {
	cfg.applyDefaults()
	if log == nil {
		log = logging.Discard()
	}

	start, err := strconv.ParseUint(cfg.Extranonce1, 16, 32)
	if err != nil || len(cfg.Extranonce1) != 8 {
		return nil, fmt.Errorf("extranonce1 %q must be 8 hex characters", cfg.Extranonce1)
	}

	s := &Server{
		cfg:      cfg,
		state:    state,
		hosts:    hosts,
		log:      log.Named("Stratum"),
		sessions: make(map[string]*Session),
		done:     make(chan struct{}),
	}
	s.extranonce.Store(uint32(start))
	return s, nil
}

// Listen binds the configured address.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("stratum listen %s: %w", s.cfg.Listen, err)
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

// Serve accepts connections and rebroadcasts jobs until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return errors.New("stratum: Serve called before Listen")
	}

	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.rebroadcastLoop(ctx)
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
			return fmt.Errorf("stratum accept: %w", err)
		}

		en1 := fmt.Sprintf("%08x", s.extranonce.Add(1)-1)
		session := newSession(conn, en1, s.cfg.WriteTimeout)
		s.addSession(session)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(session)
		}()
	}
}

func (s *Server) rebroadcastLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.JobInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			if n := s.Broadcast(); n > 0 {
				s.log.Debug("Rebroadcast fresh job to %d sessions", n)
			}
		}
	}
}

// Broadcast pushes a fresh job to every authorized session and returns how
// many received one. Sends run concurrently so a device that stopped reading
// only delays its own push.
func (s *Server) Broadcast() int {
	var (
		wg   sync.WaitGroup
		sent atomic.Int64
	)
	for _, session := range s.snapshotSessions() {
		if !session.Authorized() {
			continue
		}
		wg.Add(1)
		go func(session *Session) {
			defer wg.Done()
			if err := session.send(notifyFor(s.state.EmitJob())); err != nil {
				s.log.Warn("Job push to %s failed: %v", session.RemoteAddr, err)
				return
			}
			sent.Add(1)
		}(session)
	}
	wg.Wait()
	return int(sent.Load())
}

// Sessions reports the number of connected devices.
func (s *Server) Sessions() int {
	s.sessionsLock.RLock()
	defer s.sessionsLock.RUnlock()
	return len(s.sessions)
}

// SessionList returns the connected sessions.
func (s *Server) SessionList() []*Session {
	return s.snapshotSessions()
}

func (s *Server) snapshotSessions() []*Session {
	s.sessionsLock.RLock()
	defer s.sessionsLock.RUnlock()
	out := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, session)
	}
	return out
}

func (s *Server) addSession(session *Session) {
	s.sessionsLock.Lock()
	defer s.sessionsLock.Unlock()
	s.sessions[session.ID] = session
}

func (s *Server) removeSession(session *Session) {
	session.close()
	s.sessionsLock.Lock()
	defer s.sessionsLock.Unlock()
	delete(s.sessions, session.ID)
}

// Close stops accepting and drops every session.
func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(s.done)
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for _, session := range s.snapshotSessions() {
		session.close()
	}
	return err
}

// handle runs one session's read loop. Lines are processed in order.
func (s *Server) handle(session *Session) {
	s.log.Info("Device connected from %s (session %s, extranonce1 %s)", session.RemoteAddr, session.ID, session.Extranonce1)

	var err error
	defer s.removeSession(session)
	defer func() {
		if err != nil {
			s.log.Info("Connection %s closed with error: %v", session.RemoteAddr, err)
		} else {
			s.log.Info("Connection %s closed", session.RemoteAddr)
		}
	}()
	defer func() {
		if e := recover(); e != nil {
			err = fmt.Errorf("panic in session: %v", e)
		}
	}()

	reader := bufio.NewReaderSize(session.conn, readBufferSize)
	for {
		line, oversize, readErr := readLine(reader, maxLineLength)
		arrival := time.Now().UnixNano()
		if oversize {
			s.log.Warn("Dropping line from %s: %v", session.RemoteAddr, ErrLineTooLong)
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) && !s.closed.Load() {
				err = readErr
			}
			return
		}
		if oversize || len(line) == 0 {
			continue
		}

		msg, decodeErr := Decode(line)
		if decodeErr != nil {
			s.log.Warn("Dropping line from %s: %v", session.RemoteAddr, decodeErr)
			continue
		}
		s.dispatch(session, msg, arrival)
	}
}

// readLine returns the next line without its terminator. A line longer than
// limit is consumed up to its newline and reported as oversize, so the stream
// stays aligned on the following line. A final unterminated line is returned
// before io.EOF.
func readLine(r *bufio.Reader, limit int) ([]byte, bool, error) {
	var line []byte
	oversize := false
	for {
		chunk, err := r.ReadSlice('\n')
		if !oversize {
			if len(line)+len(bytes.TrimRight(chunk, "\r\n")) > limit {
				oversize = true
				line = nil
			} else {
				line = append(line, chunk...)
			}
		}

		switch {
		case err == nil:
			if oversize {
				return nil, true, nil
			}
			return bytes.TrimRight(line, "\r\n"), false, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && len(line) > 0:
			return bytes.TrimRight(line, "\r\n"), false, nil
		default:
			return nil, oversize, err
		}
	}
}

func (s *Server) dispatch(session *Session, msg Message, arrival int64) {
	switch m := msg.(type) {
	case Subscribe:
		session.subscribed.Store(true)
		s.reply(session, m, subscribeResult(session.Extranonce1, s.cfg.Extranonce2Size))

	case ExtranonceSubscribe:
		s.reply(session, m, true)

	case Configure:
		s.reply(session, m, configureResult())

	case SuggestDifficulty:
		s.reply(session, m, true)

	case Authorize:
		s.authorize(session, m)

	case Submit:
		s.submit(session, m, arrival)

	case Ignored:
		s.log.Warn("Ignoring unknown method %q from %s", m.Method, session.RemoteAddr)
	}
}

func (s *Server) reply(session *Session, msg Message, result interface{}) {
	if err := session.send(newResponse(msg.RequestID(), result)); err != nil {
		s.log.Debug("Reply to %s failed: %v", session.RemoteAddr, err)
	}
}

func (s *Server) push(session *Session, n Notification) {
	if err := session.send(n); err != nil {
		s.log.Debug("Push %s to %s failed: %v", n.Method, session.RemoteAddr, err)
	}
}

func (s *Server) authorize(session *Session, m Authorize) {
	session.setWorker(m.Worker)
	session.authorized.Store(true)
	s.reply(session, m, true)

	s.state.Rhythm.Reset()
	if s.hosts != nil {
		s.hosts.SetTargetHost(session.Host)
	}
	s.log.Info("Worker %q authorized from %s", m.Worker, session.RemoteAddr)

	s.push(session, newNotification(MethodSetDifficulty, s.cfg.Difficulty))
	if s.cfg.WakeFrequencyMHz > 0 {
		s.push(session, newNotification(MethodSetFrequency, strconv.Itoa(s.cfg.WakeFrequencyMHz)))
	}
	s.push(session, notifyFor(s.state.EmitJob()))
}

// submit buffers the share's hash before acknowledging so that a consumer
// reading after the ACK finds it.
func (s *Server) submit(session *Session, m Submit, arrival int64) {
	session.shares.Add(1)

	if metric, ok := s.state.RecordArrival(arrival); ok {
		s.log.Info("Rhythm: CV=%.4f entropy=%.4f (%s)", metric.CV, metric.TimeEntropy, metric.Burstiness())
	}

	if _, err := s.state.RecordShare(bridge.Share{
		Worker:      m.Worker,
		JobID:       m.JobID,
		Extranonce1: session.Extranonce1,
		Extranonce2: m.Extranonce2,
		NTime:       m.NTime,
		Nonce:       m.Nonce,
	}); err != nil {
		s.log.Warn("Share from %s skipped: %v", session.RemoteAddr, err)
	}

	s.reply(session, m, true)
}
