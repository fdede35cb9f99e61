package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T) (*Server, string, func()) {
	t.Helper()
	s, err := NewServer(0)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()
	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			s.Close()
			<-done
		})
	}
	t.Cleanup(stop)
	port := s.Addr().(*net.UDPAddr).Port
	return s, fmt.Sprintf("127.0.0.1:%d", port), stop
}

func TestCallEcho(t *testing.T) {
	s, addr, stop := startServer(t)
	calls := 0
	s.AddFunc("echo", func(args []string) (string, error) {
		calls++
		if len(args) != 1 {
			return "", errors.New("echo wants one argument")
		}
		return args[0], nil
	})

	c, err := Dial(addr)
	require.NoError(t, err)
	defer c.Close()

	value, err := c.Call("echo", "x")
	require.NoError(t, err)
	assert.Equal(t, "x", value)

	value, err = c.Call("echo", "y")
	require.NoError(t, err)
	assert.Equal(t, "y", value)

	stop()
	assert.Equal(t, 2, calls)
}

func TestCallRemoteError(t *testing.T) {
	s, addr, _ := startServer(t)
	s.AddFunc("fail", func([]string) (string, error) {
		return "", errors.New("on fire")
	})

	c, err := Dial(addr)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Call("fail")
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Contains(t, remote.Msg, "on fire")

	_, err = c.Call("no_such_fun")
	require.ErrorAs(t, err, &remote)
}

func TestGetFuns(t *testing.T) {
	s, addr, _ := startServer(t)
	s.AddFunc("hello", func([]string) (string, error) { return "hello", nil })

	c, err := Dial(addr)
	require.NoError(t, err)
	defer c.Close()

	value, err := c.Call("get_funs")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"get_funs", "hello"}, strings.Fields(value))
}

func TestConnectionFailureResetsSession(t *testing.T) {
	// A listener that never answers, so every salvo times out.
	silent, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer silent.Close()

	c, err := Dial(silent.LocalAddr().String())
	require.NoError(t, err)
	defer c.Close()
	c.OverallTimeout = 50 * time.Millisecond
	c.SalvoTimeout = 10 * time.Millisecond

	oldID := c.clientID
	c.seq = 17
	_, err = c.Call("hello")
	require.ErrorIs(t, err, ErrConnectionFailure)
	assert.Equal(t, int64(0), c.seq)
	assert.NotEqual(t, oldID, c.clientID)
}

// TestAtMostOnce replays a byte-identical request datagram and checks that
// the handler does not run a second time and that the cached response
// comes back unchanged.
func TestAtMostOnce(t *testing.T) {
	s, addr, stop := startServer(t)
	calls := 0
	s.AddFunc("echo", func(args []string) (string, error) {
		calls++
		return args[0], nil
	})

	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	require.NoError(t, err)
	conn, err := net.DialUDP("udp", nil, udpAddr)
	require.NoError(t, err)
	defer conn.Close()

	message, err := encMode.Marshal(request{
		ClientID: 42,
		Seq:      0,
		Horizon:  -1,
		Fun:      "echo",
		Args:     []string{"x"},
	})
	require.NoError(t, err)

	read := func() response {
		buf := make([]byte, maxDatagram)
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
		n, err := conn.Read(buf)
		require.NoError(t, err)
		var resp response
		require.NoError(t, cbor.Unmarshal(buf[:n], &resp))
		return resp
	}

	_, err = conn.Write(message)
	require.NoError(t, err)
	first := read()
	assert.Equal(t, response{Seq: 0, Value: "x"}, first)

	// Drain the rest of the first salvo of replies.
	for i := 0; i < 2; i++ {
		read()
	}

	// The forced duplicate must be answered from the cache.
	_, err = conn.Write(message)
	require.NoError(t, err)
	assert.Equal(t, first, read())

	stop()
	assert.Equal(t, 1, calls)
}

// TestHorizonEvictsResponses advances the horizon and checks that the
// server drops cached responses below it.
func TestHorizonEvictsResponses(t *testing.T) {
	s, addr, stop := startServer(t)
	s.AddFunc("echo", func(args []string) (string, error) { return args[0], nil })

	c, err := Dial(addr)
	require.NoError(t, err)
	defer c.Close()

	for i := 0; i < 5; i++ {
		_, err := c.Call("echo", "v")
		require.NoError(t, err)
	}

	stop()
	st, ok := s.clients[c.clientID]
	require.True(t, ok)
	// Sequence numbers 0..2 were acknowledged via the horizon carried by
	// later calls; only the two most recent responses may remain.
	assert.Len(t, st.responses, 2)
}
