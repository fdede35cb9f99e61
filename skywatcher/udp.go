package skywatcher

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/k3pgx/skytrack/mount"
)

// SkyWatcher wifi adapters carry the motor controller protocol in UDP
// datagrams: one command per datagram, terminated by '\r', answered by
// "=<payload>\r" on success or "!<code>\r" on failure.

// UdpClient is a mount.Speaker that talks to a SkyWatcher wifi adapter.
// Radio links drop datagrams routinely, so a timeout here is an
// UnreliableCommError and callers should just try again next tick.
type UdpClient struct {
	conn *net.UDPConn

	// Timeout bounds the wait for each reply.
	Timeout time.Duration
}

// DialUdp connects to a wifi adapter at "host:port".
func DialUdp(addr string) (*UdpClient, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolving %q: %w", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("connecting to %q: %w", addr, err)
	}
	return &UdpClient{conn: conn, Timeout: time.Second}, nil
}

func (c *UdpClient) Close() error {
	return c.conn.Close()
}

// Speak sends one command and returns the reply payload with the framing
// stripped.
func (c *UdpClient) Speak(command string) (string, error) {
	if _, err := c.conn.Write([]byte(command + "\r")); err != nil {
		return "", mount.Commf("sending %q: %v", command, err)
	}

	if err := c.conn.SetReadDeadline(time.Now().Add(c.Timeout)); err != nil {
		return "", mount.Commf("setting deadline: %v", err)
	}
	buf := make([]byte, 64)
	n, err := c.conn.Read(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return "", &mount.UnreliableCommError{Msg: fmt.Sprintf("no reply to %q", command)}
		}
		return "", mount.Commf("reading reply to %q: %v", command, err)
	}

	reply := string(buf[:n])
	if !strings.HasSuffix(reply, "\r") {
		return "", mount.Commf("unterminated reply %q to %q", reply, command)
	}
	reply = strings.TrimSuffix(reply, "\r")
	switch {
	case strings.HasPrefix(reply, "="):
		return reply[1:], nil
	case strings.HasPrefix(reply, "!"):
		return "", mount.Commf("mount rejected %q: %q", command, reply)
	}
	return "", mount.Commf("malformed reply %q to %q", reply, command)
}

var _ mount.Speaker = (*UdpClient)(nil)

// UdpServer serves the wifi adapter wire protocol around a Speaker,
// normally a Hootl behind a DelaySpeaker. It lets the whole wifi
// transport path be exercised with no adapter on the network.
type UdpServer struct {
	conn    *net.UDPConn
	speaker mount.Speaker
}

// NewUdpServer listens on the given UDP port.
func NewUdpServer(port int, speaker mount.Speaker) (*UdpServer, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, fmt.Errorf("listening on port %d: %w", port, err)
	}
	return &UdpServer{conn: conn, speaker: speaker}, nil
}

func (s *UdpServer) Close() error {
	return s.conn.Close()
}

// Addr returns the address the server is listening on.
func (s *UdpServer) Addr() net.Addr {
	return s.conn.LocalAddr()
}

// Run processes commands until ctx is canceled. Datagrams are handled one
// at a time; the protocol has no concept of concurrent commands.
func (s *UdpServer) Run(ctx context.Context) error {
	buf := make([]byte, 64)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.conn.SetReadDeadline(time.Now().Add(time.Second)); err != nil {
			return fmt.Errorf("setting deadline: %w", err)
		}
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return fmt.Errorf("reading request: %w", err)
		}

		command := strings.TrimSuffix(string(buf[:n]), "\r")
		response, err := s.speaker.Speak(command)
		var reply string
		if err != nil {
			reply = "!0\r"
		} else {
			reply = "=" + response + "\r"
		}
		if _, err := s.conn.WriteToUDP([]byte(reply), addr); err != nil {
			return fmt.Errorf("sending reply: %w", err)
		}
	}
}

