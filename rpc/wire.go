// Package rpc is a small remote procedure call library for talking to the
// mount server over UDP. Every datagram is sent in triplicate to protect
// against loss, and unanswered calls are retransmitted until an overall
// deadline. Client and sequence IDs guarantee that each call executes at
// most once on the server no matter how many copies of it arrive.
package rpc

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ErrConnectionFailure is returned by Call when the retry budget is
// exhausted. The client has reset its session and the call may be retried.
var ErrConnectionFailure = errors.New("rpc: connection failure")

// RemoteError is returned by Call when the function executed on the
// server and failed there. Such calls are not retried.
type RemoteError struct {
	Msg string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("rpc: remote error: %s", e.Msg)
}

type request struct {
	ClientID uint64   `cbor:"1,keyasint"`
	Seq      int64    `cbor:"2,keyasint"`
	Horizon  int64    `cbor:"3,keyasint"`
	Fun      string   `cbor:"4,keyasint"`
	Args     []string `cbor:"5,keyasint,omitempty"`
}

type response struct {
	Seq int64 `cbor:"1,keyasint"`
	// Err is the remote failure description; empty means success.
	Err   string `cbor:"2,keyasint,omitempty"`
	Value string `cbor:"3,keyasint,omitempty"`
}

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.EncOptions{
		Sort:        cbor.SortCanonical,
		IndefLength: cbor.IndefLengthForbidden,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("creating CBOR encoder mode: %v", err))
	}
}

const maxDatagram = 10000
