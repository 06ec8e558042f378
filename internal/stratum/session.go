package stratum

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Session is one device connection.
type Session struct {
	ID          string
	Extranonce1 string
	RemoteAddr  string
	Host        string
	ConnectedAt time.Time

	conn         net.Conn
	writeTimeout time.Duration
	writeMu      sync.Mutex

	subscribed atomic.Bool
	authorized atomic.Bool
	shares     atomic.Uint64

	mu     sync.RWMutex
	worker string

	closeOnce sync.Once
}

func newSession(conn net.Conn, extranonce1 string, writeTimeout time.Duration) *Session {
	remote := conn.RemoteAddr().String()
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		host = remote
	}
	return &Session{
		ID:           uuid.NewString(),
		Extranonce1:  extranonce1,
		RemoteAddr:   remote,
		Host:         host,
		ConnectedAt:  time.Now(),
		conn:         conn,
		writeTimeout: writeTimeout,
	}
}

// Worker returns the name the device authorized with.
func (s *Session) Worker() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.worker
}

func (s *Session) setWorker(w string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.worker = w
}

// Authorized reports whether mining.authorize has been answered.
func (s *Session) Authorized() bool {
	return s.authorized.Load()
}

// Shares reports how many submits this session sent.
func (s *Session) Shares() uint64 {
	return s.shares.Load()
}

// send writes one JSON line. A failed write closes the connection, which
// ends the session's read loop.
func (s *Session) send(v interface{}) error {
	line, err := encodeLine(v)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.writeTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			s.close()
			return err
		}
	}
	if _, err := s.conn.Write(line); err != nil {
		s.close()
		return err
	}
	return nil
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		_ = s.conn.Close()
	})
}
