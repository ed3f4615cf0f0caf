package comm_test

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.jpl.nasa.gov/bdube/hexapod/comm"
)

// lineServer answers each line with the output of reply, which may sleep.
// A nil return sends nothing.
func lineServer(t *testing.T, reply func(string) []string) string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				sc := bufio.NewScanner(conn)
				for sc.Scan() {
					for _, l := range reply(sc.Text()) {
						fmt.Fprintf(conn, "%s\n", l)
					}
				}
			}(conn)
		}
	}()
	return ln.Addr().String()
}

// echoN replies to "ECHO <id> <n>" with n lines "<id>-<i>", each with a
// leading blank like the PI controllers emit
func echoN(line string) []string {
	parts := strings.Fields(line)
	if len(parts) != 3 || parts[0] != "ECHO" {
		return []string{"?"}
	}
	n, _ := strconv.Atoi(parts[2])
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("  %s-%d", parts[1], i)
	}
	return out
}

func connected(t *testing.T, addr string) *comm.Client {
	c := comm.NewClient(addr, false)
	c.Timeout = 200 * time.Millisecond
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { c.Disconnect() })
	return c
}

func TestWriteCommandNotConnected(t *testing.T) {
	c := comm.NewClient("127.0.0.1:1", false)
	_, err := c.WriteCommand(context.Background(), comm.Query("ERR?", 1))
	assert.True(t, errors.Is(err, comm.ErrNotConnected))
}

func TestConnectTwiceIsUsageError(t *testing.T) {
	c := connected(t, lineServer(t, echoN))
	err := c.Connect(context.Background())
	assert.Equal(t, comm.ErrAlreadyConnected, err)
}

func TestConnectUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	c := comm.NewClient(addr, false)
	c.ConnectTimeout = 150 * time.Millisecond
	start := time.Now()
	err = c.Connect(context.Background())
	var ce *comm.ConnectionError
	require.True(t, errors.As(err, &ce), "expected ConnectionError, got %v", err)
	assert.Equal(t, addr, ce.Addr)
	assert.Less(t, int64(time.Since(start)), int64(2*time.Second))
	assert.False(t, c.Connected())
}

func TestConnectDoesNotLockClient(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	c := comm.NewClient(addr, false)
	c.ConnectTimeout = 500 * time.Millisecond
	done := make(chan error, 1)
	go func() { done <- c.Connect(context.Background()) }()
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	assert.False(t, c.Connected())
	assert.NoError(t, c.Disconnect())
	assert.Equal(t, comm.ErrAlreadyConnected, c.Connect(context.Background()), "a dial is in progress")
	assert.Less(t, int64(time.Since(start)), int64(100*time.Millisecond))

	var ce *comm.ConnectionError
	assert.True(t, errors.As(<-done, &ce))
}

func TestDisconnectIsIdempotent(t *testing.T) {
	c := connected(t, lineServer(t, echoN))
	assert.NoError(t, c.Disconnect())
	assert.NoError(t, c.Disconnect())
	assert.False(t, c.Connected())
	_, err := c.WriteCommand(context.Background(), comm.Query("ECHO a 1", 1))
	assert.Equal(t, comm.ErrNotConnected, err)
}

func TestMultiLineReplyTrimmed(t *testing.T) {
	c := connected(t, lineServer(t, echoN))
	lines, err := c.WriteCommand(context.Background(), comm.Query("ECHO abc 6", 6))
	require.NoError(t, err)
	assert.Equal(t, []string{"abc-0", "abc-1", "abc-2", "abc-3", "abc-4", "abc-5"}, lines)
}

func TestWriteOnlyReadsNothing(t *testing.T) {
	c := connected(t, lineServer(t, func(s string) []string {
		if s == "MOV X 1" {
			return nil
		}
		return echoN(s)
	}))
	lines, err := c.WriteCommand(context.Background(), comm.Write("MOV X 1"))
	require.NoError(t, err)
	assert.Nil(t, lines)
	// the next exchange must not see anything from the write
	lines, err = c.WriteCommand(context.Background(), comm.Query("ECHO z 1", 1))
	require.NoError(t, err)
	assert.Equal(t, []string{"z-0"}, lines)
}

func TestBadLineCount(t *testing.T) {
	c := connected(t, lineServer(t, echoN))
	_, err := c.WriteCommand(context.Background(), comm.Command{Text: "ERR?", Response: true})
	assert.Equal(t, comm.ErrBadLineCount, err)
}

func TestTimeoutThenRecover(t *testing.T) {
	c := connected(t, lineServer(t, func(s string) []string {
		if s == "SLOW" {
			time.Sleep(150 * time.Millisecond)
			return []string{"late-0", "late-1"}
		}
		return echoN(s)
	}))
	c.Timeout = 100 * time.Millisecond
	start := time.Now()
	lines, err := c.WriteCommand(context.Background(), comm.Query("SLOW", 2))
	assert.Equal(t, comm.ErrTimeout, err)
	assert.Nil(t, lines)
	assert.Less(t, int64(time.Since(start)), int64(time.Second))

	// the late reply is still in flight; neither exchange may see it
	lines, err = c.WriteCommand(context.Background(), comm.Query("ECHO ok 2", 2))
	require.NoError(t, err)
	assert.Equal(t, []string{"ok-0", "ok-1"}, lines)
	lines, err = c.WriteCommand(context.Background(), comm.Query("ECHO next 1", 1))
	require.NoError(t, err)
	assert.Equal(t, []string{"next-0"}, lines)
}

func TestMissingLateReplyDropsSession(t *testing.T) {
	c := connected(t, lineServer(t, func(s string) []string {
		if s == "LOST" {
			return nil
		}
		return echoN(s)
	}))
	c.Timeout = 50 * time.Millisecond
	_, err := c.WriteCommand(context.Background(), comm.Query("LOST", 1))
	assert.Equal(t, comm.ErrTimeout, err)

	_, err = c.WriteCommand(context.Background(), comm.Query("ECHO a 1", 1))
	assert.Equal(t, comm.ErrNotConnected, err)
	assert.False(t, c.Connected())

	require.NoError(t, c.Connect(context.Background()))
	lines, err := c.WriteCommand(context.Background(), comm.Query("ECHO b 1", 1))
	require.NoError(t, err)
	assert.Equal(t, []string{"b-0"}, lines)
}

func TestPartialReplyTimesOut(t *testing.T) {
	c := connected(t, lineServer(t, func(s string) []string {
		return []string{"only-one"}
	}))
	c.Timeout = 100 * time.Millisecond
	_, err := c.WriteCommand(context.Background(), comm.Query("POS?", 6))
	assert.Equal(t, comm.ErrTimeout, err)
}

func TestConcurrentExchangesDoNotInterleave(t *testing.T) {
	c := connected(t, lineServer(t, echoN))
	c.Timeout = time.Second
	const N = 50
	var wg sync.WaitGroup
	errs := make(chan error, N)
	for i := 0; i < N; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			n := 1 + i%6
			id := "req" + strconv.Itoa(i)
			lines, err := c.WriteCommand(context.Background(), comm.Query(fmt.Sprintf("ECHO %s %d", id, n), n))
			if err != nil {
				errs <- err
				return
			}
			if len(lines) != n {
				errs <- fmt.Errorf("%s: got %d lines, expected %d", id, len(lines), n)
				return
			}
			for j, l := range lines {
				if l != fmt.Sprintf("%s-%d", id, j) {
					errs <- fmt.Errorf("%s: line %d was %q", id, j, l)
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

func TestDisconnectReleasesBlockedRead(t *testing.T) {
	c := connected(t, lineServer(t, func(s string) []string { return nil }))
	c.Timeout = 5 * time.Second
	done := make(chan error, 1)
	go func() {
		_, err := c.WriteCommand(context.Background(), comm.Query("ERR?", 1))
		done <- err
	}()
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, c.Disconnect())
	select {
	case err := <-done:
		assert.Equal(t, comm.ErrNotConnected, err)
	case <-time.After(time.Second):
		t.Fatal("exchange was not released by Disconnect")
	}
}

func TestWaitingForSectionHonorsContext(t *testing.T) {
	c := connected(t, lineServer(t, func(s string) []string {
		time.Sleep(300 * time.Millisecond)
		return []string{"x"}
	}))
	c.Timeout = time.Second
	go c.WriteCommand(context.Background(), comm.Query("A", 1))
	time.Sleep(20 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.WriteCommand(ctx, comm.Query("B", 1))
	assert.Equal(t, context.DeadlineExceeded, err)
}

func TestRawJoinsLines(t *testing.T) {
	c := connected(t, lineServer(t, echoN))
	s, err := c.Raw(context.Background(), "ECHO r 3", 3)
	require.NoError(t, err)
	assert.Equal(t, "r-0\nr-1\nr-2", s)
}
