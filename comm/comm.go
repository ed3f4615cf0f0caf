/*Package comm provides the serialized line-oriented exchange used to talk to
lab hardware over a single stream connection.

Most usages of this package will boil down to:
	1.  create a Client with NewClient and adjust Timeout, ConnectTimeout,
		and Terminators if the defaults do not suit the hardware.
	2.  Connect it.
	3.  build Commands that declare how many reply lines the hardware sends,
		and pass them to WriteCommand.  The reply line count is a property of
		the wire protocol, the client does not try to infer it.

A minimal example for a device that answers "POS? X" with one line:

	c := comm.NewClient("192.168.100.10:50000", false)
	if err := c.Connect(ctx); err != nil {
		return err
	}
	defer c.Disconnect()
	lines, err := c.WriteCommand(ctx, comm.Command{Text: "POS? X", Response: true, Lines: 1})

The client is concurrent-safe.  Exactly one exchange (write plus all of its
reply reads) is on the wire at any instant; other callers block until it
completes.  There are no request identifiers on the wire, so this is the
only thing preventing one caller from reading another's reply.
*/
package comm

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultTimeout is the default per-line read timeout
	DefaultTimeout = 3 * time.Second

	// DefaultConnectTimeout bounds the total time spent dialing
	DefaultConnectTimeout = 3 * time.Second
)

var (
	// ErrNotConnected is generated when there is no live session and an
	// exchange is attempted, or the session is torn down mid-exchange
	ErrNotConnected = errors.New("not connected to remote")

	// ErrAlreadyConnected is generated when Connect is called on a connected client
	ErrAlreadyConnected = errors.New("already connected to remote")

	// ErrTimeout is generated when an expected reply line is not received
	// within the per-read timeout
	ErrTimeout = errors.New("timeout waiting for reply")

	// ErrBadLineCount is generated when a Command expects a response but
	// declares fewer than one line
	ErrBadLineCount = errors.New("command expects a response but declares no reply lines")
)

// ConnectionError is returned by Connect when the remote cannot be reached
// within ConnectTimeout
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("unable to connect to %s: %v", e.Addr, e.Err)
}

// Unwrap returns the last dial error
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Terminators holds the line termination bytes for each direction
type Terminators struct {
	Rx byte
	Tx byte
}

// Command is one outgoing line and the shape of its reply
type Command struct {
	// Text is the command, without terminator
	Text string

	// Response is true if the remote replies to the command
	Response bool

	// Lines is the exact number of reply lines, ignored if !Response
	Lines int
}

// Query returns a Command expecting lines reply lines
func Query(text string, lines int) Command {
	return Command{Text: text, Response: true, Lines: lines}
}

// Write returns a Command with no reply
func Write(text string) Command {
	return Command{Text: text}
}

// session is one live connection
type session struct {
	rwc    io.ReadWriteCloser
	r      *bufio.Reader
	serial bool

	// owed is the number of reply lines the remote still has to send for
	// exchanges that gave up early
	owed int

	done      chan struct{}
	closeOnce sync.Once
}

func newSession(rwc io.ReadWriteCloser, serial bool) *session {
	return &session{
		rwc:    rwc,
		r:      bufio.NewReader(rwc),
		serial: serial,
		done:   make(chan struct{})}
}

func (s *session) close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.rwc.Close()
	})
	return err
}

func (s *session) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Client has an address and owns at most one live connection to it
type Client struct {
	// Addr is host:port for TCP, or a device path for serial
	Addr string

	// Serial selects RS-232 transport instead of TCP
	Serial bool

	// Baud is the serial baud rate, unused for TCP
	Baud int

	// Timeout bounds each reply line read
	Timeout time.Duration

	// ConnectTimeout bounds all dial attempts in Connect
	ConnectTimeout time.Duration

	Terminators Terminators

	// Log receives exchange and connection events
	Log logrus.FieldLogger

	// sem is the exclusive section, one slot
	sem chan struct{}

	mu      sync.Mutex // guards sess and dialing
	sess    *session
	dialing bool
}

// NewClient creates a new Client with '\n' terminators and default timeouts
func NewClient(addr string, serial bool) *Client {
	return &Client{
		Addr:           addr,
		Serial:         serial,
		Baud:           115200,
		Timeout:        DefaultTimeout,
		ConnectTimeout: DefaultConnectTimeout,
		Terminators:    Terminators{Rx: '\n', Tx: '\n'},
		Log:            logrus.StandardLogger(),
		sem:            make(chan struct{}, 1)}
}

func (c *Client) log() logrus.FieldLogger {
	if c.Log == nil {
		return logrus.StandardLogger()
	}
	return c.Log.WithField("addr", c.Addr)
}

// Connected returns true if there is a live session
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess != nil
}

// Connect opens the connection.  Dialing is retried with an exponential
// backoff until ConnectTimeout has elapsed, after which a *ConnectionError
// is returned.  The client is not locked while dialing.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.sess != nil || c.dialing {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.dialing = true
	c.mu.Unlock()

	rwc, err := c.dialRetry(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.dialing = false
	if err != nil {
		return err
	}
	c.sess = newSession(rwc, c.Serial)
	c.log().Info("connected")
	return nil
}

func (c *Client) dialRetry(ctx context.Context) (io.ReadWriteCloser, error) {
	var (
		rwc     io.ReadWriteCloser
		lastErr error
	)
	op := func() error {
		var err error
		rwc, err = c.dial(ctx)
		if err != nil {
			lastErr = err
			c.log().WithError(err).Debug("dial failed, retrying")
		}
		return err
	}
	limit := c.ConnectTimeout
	if limit <= 0 {
		limit = DefaultConnectTimeout
	}
	// some controllers do not like being connection thrashed, back off
	b := &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      limit,
		Clock:               backoff.SystemClock}
	b.Reset()
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		if lastErr == nil {
			lastErr = err
		}
		return nil, &ConnectionError{Addr: c.Addr, Err: lastErr}
	}
	return rwc, nil
}

func (c *Client) dial(ctx context.Context) (io.ReadWriteCloser, error) {
	if c.Serial {
		return openSerial(c.Addr, c.Baud, c.Timeout)
	}
	d := net.Dialer{Timeout: DefaultConnectTimeout}
	if c.ConnectTimeout > 0 {
		d.Timeout = c.ConnectTimeout
	}
	return d.DialContext(ctx, "tcp", c.Addr)
}

// Disconnect closes the connection.  An exchange blocked on a read is
// released and returns ErrNotConnected.  Disconnect on a disconnected client
// is a no-op, including while Connect is still dialing.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	sess := c.sess
	c.sess = nil
	c.mu.Unlock()
	if sess == nil {
		return nil
	}
	c.log().Info("disconnected")
	return sess.close()
}

// drop tears down sess if it is still the live session
func (c *Client) drop(sess *session) {
	c.mu.Lock()
	if c.sess == sess {
		c.sess = nil
	}
	c.mu.Unlock()
	sess.close()
}

func (c *Client) session() *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

// acquire takes the exclusive section, or fails if ctx is done first
func (c *Client) acquire(ctx context.Context) error {
	select {
	case c.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) release() {
	<-c.sem
}

// WriteCommand performs one exchange: it writes cmd.Text plus the Tx
// terminator and, if cmd.Response, reads exactly cmd.Lines reply lines.
// Each line is returned without its terminator and surrounding blanks.
func (c *Client) WriteCommand(ctx context.Context, cmd Command) ([]string, error) {
	if cmd.Response && cmd.Lines < 1 {
		return nil, ErrBadLineCount
	}
	if c.session() == nil {
		return nil, ErrNotConnected
	}
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()
	// the session may have been torn down while we waited
	sess := c.session()
	if sess == nil {
		return nil, ErrNotConnected
	}
	if sess.owed > 0 {
		if err := c.resync(ctx, sess); err != nil {
			return nil, err
		}
	}
	l := c.log().WithField("cmd", printable(cmd.Text))
	buf := append([]byte(cmd.Text), c.Terminators.Tx)
	if _, err := sess.rwc.Write(buf); err != nil {
		if sess.closed() {
			return nil, ErrNotConnected
		}
		return nil, errors.Wrapf(err, "writing %q", printable(cmd.Text))
	}
	if !cmd.Response {
		l.Debug("sent")
		return nil, nil
	}
	lines := make([]string, 0, cmd.Lines)
	for i := 0; i < cmd.Lines; i++ {
		line, err := c.readLine(ctx, sess)
		if err != nil {
			if err != ErrNotConnected {
				// whatever is left of this reply must not answer the next command
				sess.owed += cmd.Lines - len(lines)
				l.WithError(err).WithField("lines", len(lines)).Warn("incomplete reply")
			}
			return nil, err
		}
		lines = append(lines, line)
	}
	l.WithField("lines", len(lines)).Debug("exchanged")
	return lines, nil
}

// Raw performs an exchange on free-form text and joins the reply lines with
// newlines.  lines == 0 sends without reading.
func (c *Client) Raw(ctx context.Context, text string, lines int) (string, error) {
	resp, err := c.WriteCommand(ctx, Command{Text: text, Response: lines > 0, Lines: lines})
	if err != nil {
		return "", err
	}
	return strings.Join(resp, "\n"), nil
}

func (c *Client) readLine(ctx context.Context, sess *session) (string, error) {
	deadline := time.Now().Add(c.Timeout)
	ctxDeadline, hasDeadline := ctx.Deadline()
	if hasDeadline && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if conn, ok := sess.rwc.(net.Conn); ok {
		conn.SetReadDeadline(deadline)
	}
	raw, err := sess.r.ReadString(c.Terminators.Rx)
	if err != nil {
		if sess.closed() {
			return "", ErrNotConnected
		}
		if isTimeout(err, sess.serial) {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			if hasDeadline && !time.Now().Before(ctxDeadline) {
				return "", context.DeadlineExceeded
			}
			return "", ErrTimeout
		}
		return "", errors.Wrap(err, "reading reply")
	}
	return trimLine(raw, c.Terminators.Rx), nil
}

// resync reads and discards the reply lines still owed by exchanges that
// gave up early.  Each line gets the usual Timeout.  If one does not arrive
// the wire can no longer be trusted to line up replies with commands, so the
// session is dropped and ErrNotConnected returned; the caller must Connect
// again.
func (c *Client) resync(ctx context.Context, sess *session) error {
	n := sess.owed
	for sess.owed > 0 {
		_, err := c.readLine(ctx, sess)
		if err == nil {
			sess.owed--
			continue
		}
		if err == ErrNotConnected || err == context.Canceled || err == context.DeadlineExceeded {
			return err
		}
		c.log().WithError(err).WithField("owed", sess.owed).Error("late reply never arrived, dropping connection")
		c.drop(sess)
		return ErrNotConnected
	}
	c.log().WithField("discarded", n).Warn("discarded late reply")
	return nil
}

func isTimeout(err error, serial bool) bool {
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return true
	}
	// tarm/serial surfaces an expired ReadTimeout as a zero byte read
	return serial && err == io.EOF
}

// trimLine strips the terminator and surrounding blanks.  Bytes above 0x7f
// are left alone, PI uses them as sentinels.
func trimLine(s string, term byte) string {
	s = strings.TrimSuffix(s, string([]byte{term}))
	return strings.Trim(s, " \t\r\n")
}

// printable renders control characters as #N, the way PI documents them
func printable(s string) string {
	if len(s) == 1 && s[0] < 0x20 {
		return fmt.Sprintf("#%d", s[0])
	}
	return s
}
