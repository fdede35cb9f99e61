package mount

import "fmt"

// CommError reports that the mount did not respond or gave an unexpected
// response. Callers treat it as potentially transient and tolerate a
// small number of consecutive occurrences.
type CommError struct {
	Msg string
}

func (e *CommError) Error() string {
	return fmt.Sprintf("mount: comm error: %s", e.Msg)
}

// Commf returns a CommError with a formatted message.
func Commf(format string, args ...interface{}) error {
	return &CommError{Msg: fmt.Sprintf(format, args...)}
}

// UnreliableCommError reports a timeout on a transport that routinely
// drops packets. Callers tolerate more consecutive occurrences of this
// than of CommError before flagging a communication failure.
type UnreliableCommError struct {
	Msg string
}

func (e *UnreliableCommError) Error() string {
	return fmt.Sprintf("mount: unreliable comm error: %s", e.Msg)
}
