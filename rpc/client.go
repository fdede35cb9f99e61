package rpc

import (
	"fmt"
	"math/rand"
	"net"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Client makes remote procedure calls to a Server. It is not safe for
// concurrent use; each call blocks until it completes or fails.
type Client struct {
	conn *net.UDPConn

	// OverallTimeout is how long Call tries before giving up.
	OverallTimeout time.Duration
	// SalvoTimeout is how long to wait for a reply before retransmitting.
	SalvoTimeout time.Duration
	// SalvoSize is how many copies of each datagram to send.
	SalvoSize int

	clientID  uint64
	seq       int64
	responses *DupTracker
}

// Dial creates a Client for the server at addr ("host:port").
func Dial(addr string) (*Client, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolving %q: %w", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("dialing %q: %w", addr, err)
	}
	c := &Client{
		conn:           conn,
		OverallTimeout: 1 * time.Second,
		SalvoTimeout:   100 * time.Millisecond,
		SalvoSize:      3,
	}
	c.resetSession()
	return c, nil
}

// resetSession starts a fresh session: sequence numbers restart at zero
// under a new random client ID, so stale cached responses on the server
// can never be confused with new calls.
func (c *Client) resetSession() {
	c.clientID = rand.Uint64()
	c.seq = 0
	c.responses = NewDupTracker()
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Call invokes fun(args...) on the server and returns its result. It
// returns a *RemoteError if the function failed on the server, or
// ErrConnectionFailure if no reply arrived within the overall timeout.
func (c *Client) Call(fun string, args ...string) (string, error) {
	message, err := encMode.Marshal(request{
		ClientID: c.clientID,
		Seq:      c.seq,
		Horizon:  c.responses.LowestStillTracked(),
		Fun:      fun,
		Args:     args,
	})
	if err != nil {
		return "", fmt.Errorf("encoding request: %w", err)
	}

	buf := make([]byte, maxDatagram)
	giveUp := time.Now().Add(c.OverallTimeout)
	for time.Now().Before(giveUp) {
		for i := 0; i < c.SalvoSize; i++ {
			if _, err := c.conn.Write(message); err != nil {
				return "", fmt.Errorf("sending request: %w", err)
			}
		}
		salvoFailure := time.Now().Add(c.SalvoTimeout)
		if salvoFailure.After(giveUp) {
			salvoFailure = giveUp
		}
		for time.Now().Before(salvoFailure) {
			if err := c.conn.SetReadDeadline(salvoFailure); err != nil {
				return "", err
			}
			n, err := c.conn.Read(buf)
			if err != nil {
				break // timed out; send another salvo
			}
			var resp response
			if err := cbor.Unmarshal(buf[:n], &resp); err != nil {
				continue
			}
			// Replies to earlier calls may still be in flight; ignore them.
			if resp.Seq != c.seq {
				continue
			}
			c.responses.IsNew(resp.Seq)
			c.seq++
			if resp.Err != "" {
				return "", &RemoteError{Msg: resp.Err}
			}
			return resp.Value, nil
		}
	}

	c.resetSession()
	return "", ErrConnectionFailure
}
