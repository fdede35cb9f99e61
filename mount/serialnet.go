package mount

import (
	"errors"
	"fmt"

	"github.com/k3pgx/skytrack/rpc"
)

// SerialNetClient speaks to a mount attached to another computer, via the
// RPC server run by cmd/mountserver on that computer.
type SerialNetClient struct {
	client *rpc.Client
}

// DialSerialNet connects to the mount server at addr ("host:port") and
// verifies that it is answering.
func DialSerialNet(addr string) (*SerialNetClient, error) {
	client, err := rpc.Dial(addr)
	if err != nil {
		return nil, err
	}
	reply, err := client.Call("hello")
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("mount server handshake: %w", err)
	}
	if reply != "hello" {
		client.Close()
		return nil, fmt.Errorf("mount server handshake: got %q", reply)
	}
	return &SerialNetClient{client: client}, nil
}

// Speak sends the mount one command and returns its response with the
// protocol framing stripped. A failure reported by the far end (a
// malformed or missing response from the mount itself) surfaces as a
// CommError.
func (c *SerialNetClient) Speak(command string) (string, error) {
	value, err := c.client.Call("speak", command)
	var remote *rpc.RemoteError
	if errors.As(err, &remote) {
		return "", &CommError{Msg: remote.Msg}
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (c *SerialNetClient) Close() error {
	return c.client.Close()
}
