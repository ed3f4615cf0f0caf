package hexsim

import (
	"bufio"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Server exposes a Device on a TCP port using the GCS line protocol
type Server struct {
	Device *Device
	Log    logrus.FieldLogger

	mu         sync.Mutex
	ln         net.Listener
	conns      map[net.Conn]struct{}
	replyDelay time.Duration
	mute       bool
	closed     bool

	wg sync.WaitGroup
}

// NewServer returns a server for d
func NewServer(d *Device) *Server {
	return &Server{
		Device: d,
		Log:    logrus.StandardLogger(),
		conns:  make(map[net.Conn]struct{})}
}

// SetReplyDelay delays every reply by dur
func (s *Server) SetReplyDelay(dur time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replyDelay = dur
}

// SetMute suppresses every reply while still executing commands
func (s *Server) SetMute(mute bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mute = mute
}

func (s *Server) replyPolicy() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replyDelay, s.mute
}

// Listen binds addr, use ":0" or "127.0.0.1:0" for an ephemeral port
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listening on %s", addr)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	s.Log.WithField("addr", ln.Addr().String()).Info("simulator listening")
	return nil
}

// Addr returns the bound address, empty before Listen
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Serve accepts connections until Close is called
func (s *Server) Serve() error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return errors.New("Serve called before Listen")
	}
	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			return err
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return nil
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()
		go s.serveConn(conn)
	}
}

// ListenAndServe is Listen followed by Serve
func (s *Server) ListenAndServe(addr string) error {
	if err := s.Listen(addr); err != nil {
		return err
	}
	return s.Serve()
}

// Start listens on addr and serves in the background
func (s *Server) Start(addr string) error {
	if err := s.Listen(addr); err != nil {
		return err
	}
	go s.Serve()
	return nil
}

// Close stops accepting, drops every connection, and waits for their
// goroutines to finish
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	var err error
	if s.ln != nil {
		err = s.ln.Close()
	}
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return err
}

func (s *Server) serveConn(conn net.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
		s.wg.Done()
	}()
	l := s.Log.WithField("remote", conn.RemoteAddr().String())
	l.Debug("client connected")
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			l.WithError(err).Debug("client gone")
			return
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}
		reply, err := s.Device.Handle(line)
		if err != nil {
			l.WithError(err).Warn("rejected command")
			continue
		}
		if len(reply) == 0 {
			continue
		}
		delay, mute := s.replyPolicy()
		if mute {
			continue
		}
		if delay > 0 {
			time.Sleep(delay)
		}
		if _, err := conn.Write(frame(reply)); err != nil {
			l.WithError(err).Debug("write failed")
			return
		}
	}
}

// frame joins reply lines the way PI does: every line but the last ends in
// a blank before the linefeed
func frame(lines []string) []byte {
	var b strings.Builder
	for i, l := range lines {
		b.WriteString(l)
		if i < len(lines)-1 {
			b.WriteByte(' ')
		}
		b.WriteByte('\n')
	}
	return []byte(b.String())
}
