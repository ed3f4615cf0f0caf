package hexsim_test

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.jpl.nasa.gov/bdube/hexapod/comm"
	"github.jpl.nasa.gov/bdube/hexapod/hexsim"
	"github.jpl.nasa.gov/bdube/hexapod/pi"
)

func startServer(t *testing.T) *hexsim.Server {
	s := hexsim.NewServer(hexsim.NewDevice(hexsim.DefaultConfig()))
	require.NoError(t, s.Start("127.0.0.1:0"))
	t.Cleanup(func() { s.Close() })
	return s
}

func TestServerFramesMultiLineReplies(t *testing.T) {
	s := startServer(t)
	conn, err := net.Dial("tcp", s.Addr())
	require.NoError(t, err)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))

	_, err = fmt.Fprint(conn, "POS? X Y\n")
	require.NoError(t, err)
	r := bufio.NewReader(conn)
	l1, err := r.ReadString('\n')
	require.NoError(t, err)
	l2, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "X=0.000000 \n", l1)
	assert.Equal(t, "Y=0.000000\n", l2)
}

func TestServerWithClient(t *testing.T) {
	s := startServer(t)
	c := comm.NewClient(s.Addr(), false)
	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()

	lines, err := c.WriteCommand(context.Background(), comm.Query("VLS?", 1))
	require.NoError(t, err)
	assert.Equal(t, []string{"10"}, lines)

	// an unknown command is logged by the server and answered with nothing
	_, err = c.WriteCommand(context.Background(), comm.Write("HELLO"))
	require.NoError(t, err)
	lines, err = c.WriteCommand(context.Background(), comm.Query("ERR?", 1))
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, lines)
}

func TestMutedServerTimesOut(t *testing.T) {
	s := startServer(t)
	c := comm.NewClient(s.Addr(), false)
	c.Timeout = 100 * time.Millisecond
	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()

	s.SetMute(true)
	start := time.Now()
	_, err := c.WriteCommand(context.Background(), comm.Query(pi.CmdRealPosition, 6))
	assert.True(t, errors.Is(err, comm.ErrTimeout), "%v", err)
	assert.Less(t, int64(time.Since(start)), int64(time.Second))

	// the swallowed reply never comes, so the connection is given up
	s.SetMute(false)
	_, err = c.WriteCommand(context.Background(), comm.Query(pi.CmdRealPosition, 6))
	assert.Equal(t, comm.ErrNotConnected, err)

	require.NoError(t, c.Connect(context.Background()))
	lines, err := c.WriteCommand(context.Background(), comm.Query(pi.CmdRealPosition, 6))
	require.NoError(t, err)
	assert.Len(t, lines, 6)
}

func TestSlowReplyIsNotMisattributed(t *testing.T) {
	s := startServer(t)
	c := comm.NewClient(s.Addr(), false)
	c.Timeout = 100 * time.Millisecond
	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()

	s.SetReplyDelay(150 * time.Millisecond)
	_, err := c.WriteCommand(context.Background(), comm.Query("VLS?", 1))
	assert.True(t, errors.Is(err, comm.ErrTimeout), "%v", err)

	s.SetReplyDelay(0)
	lines, err := c.WriteCommand(context.Background(), comm.Query("ERR?", 1))
	require.NoError(t, err)
	assert.Equal(t, []string{"0"}, lines)
	lines, err = c.WriteCommand(context.Background(), comm.Query("VLS?", 1))
	require.NoError(t, err)
	assert.Equal(t, []string{"10"}, lines)
}

func TestConcurrentQueriesAgainstSimulator(t *testing.T) {
	s := startServer(t)
	c := comm.NewClient(s.Addr(), false)
	c.Timeout = 2 * time.Second
	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()

	queries := []struct {
		text string
		keys []string
	}{
		{pi.CmdRealPosition, []string{"X", "Y", "Z", "U", "V", "W"}},
		{"ERR?", nil},
		{"SPI?", []string{"X", "Y", "Z"}},
	}
	const N = 60
	var wg sync.WaitGroup
	errs := make(chan error, N)
	for i := 0; i < N; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q := queries[i%len(queries)]
			n := len(q.keys)
			if n == 0 {
				n = 1
			}
			lines, err := c.WriteCommand(context.Background(), comm.Query(q.text, n))
			if err != nil {
				errs <- err
				return
			}
			if len(lines) != n {
				errs <- fmt.Errorf("%q: got %d lines, expected %d", q.text, len(lines), n)
				return
			}
			if q.keys == nil {
				if lines[0] != "0" {
					errs <- fmt.Errorf("ERR? answered %q", lines[0])
				}
				return
			}
			for j, l := range lines {
				if !strings.HasPrefix(l, q.keys[j]+"=") {
					errs <- fmt.Errorf("%q: line %d was %q", q.text, j, l)
					return
				}
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestCloseDropsClients(t *testing.T) {
	s := hexsim.NewServer(hexsim.NewDevice(hexsim.DefaultConfig()))
	require.NoError(t, s.Start("127.0.0.1:0"))
	conn, err := net.Dial("tcp", s.Addr())
	require.NoError(t, err)
	defer conn.Close()
	// make sure the connection is registered before closing
	fmt.Fprint(conn, "VLS?\n")
	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, err = bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)

	require.NoError(t, s.Close())
	_, err = bufio.NewReader(conn).ReadString('\n')
	assert.Error(t, err)
}

