package ami

import "fmt"

// ProtocolError reports malformed AMI wire data: a bad greeting line,
// an unexpected first header key, or an invalid response type. It is
// fatal to the Parser instance that raised it — the caller must discard
// the parser (and, in practice, the connection).
type ProtocolError struct {
	Msg string
}

func (e *ProtocolError) Error() string { return "ami: protocol error: " + e.Msg }

func protocolErrorf(format string, args ...interface{}) error {
	return &ProtocolError{Msg: fmt.Sprintf(format, args...)}
}

// ActionError is delivered on an action's token when the AMI server
// responds with "Response: Error". It carries the server's "Message"
// header, or an empty string if none was sent.
type ActionError struct {
	Message string
}

func (e *ActionError) Error() string { return "ami: action error: " + e.Message }
