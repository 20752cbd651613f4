// Package agi implements the Asterisk Gateway Interface wire protocol:
// the env-variable header block Asterisk sends when a channel enters
// an AGI application, the command/response cycle that follows it, and
// the result=/data/key=value grammar Asterisk uses to answer commands.
//
// Like internal/ami, this package does not open sockets or spawn
// processes; it is driven by feeding it bytes and handed bytes to
// write through a Channel.
package agi

import "apicall/internal/wire"

// Response is a successfully executed command's result: the integer
// result code, any "key=value" pairs Asterisk appended, and the
// parenthesized data blob some commands return (e.g. the digit from
// "WAIT FOR DIGIT").
type Response struct {
	Result    int
	Variables map[string]string
	Data      string
}

// Channel is how a Protocol writes an encoded command line. A direct
// AGI session (script AGI, FastAGI) writes straight to its connection;
// Async AGI instead wraps the line in an AMI action. SendCommandLine
// returns a fresh, unfired Token; Protocol queues it and resolves it
// once the matching response line (or lines, for a 520 "follows"
// response) comes back through DataReceived.
type Channel interface {
	SendCommandLine(line string) *wire.Token[Response]
}
