// Package asyncagi multiplexes AGI traffic over a single AMI
// connection: Asterisk's "AsyncAGI" dialplan application starts,
// drives and ends an AGI session entirely through AMI events and
// actions instead of a dedicated socket, and Executor adapts that onto
// the same internal/agi.Protocol state machine a direct FastAGI
// session uses.
package asyncagi

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"

	"apicall/internal/agi"
	"apicall/internal/ami"
	"apicall/internal/wire"
)

type channelState struct {
	channelID        string
	proto            *agi.Protocol
	pendingCommandID string
}

// channel is the agi.Channel implementation handed to each AGI
// protocol instance the Executor creates. Its SendCommandLine wraps
// the command in an "AGI" AMI action instead of writing to a socket.
type channel struct {
	executor *Executor
	state    *channelState
}

func (c *channel) SendCommandLine(line string) *wire.Token[agi.Response] {
	return c.executor.sendCommandLine(c.state, line)
}

// Executor binds to one AMI Multiplexer and tracks one agi.Protocol
// per Asterisk channel running Async AGI. Only one Executor can be
// bound to a given Multiplexer at a time, matching Asterisk's "AGI"
// action being channel-scoped rather than connection-scoped.
type Executor struct {
	mux *ami.Multiplexer

	// ProtocolFactory is called once per Async AGI channel start and
	// must return a fresh agi.Protocol wrapping the Channel it is
	// given. Required.
	ProtocolFactory func(ch agi.Channel) *agi.Protocol

	// OnChannelReady is called once a channel's AGI variable header
	// has been parsed and it is ready to receive commands.
	OnChannelReady func(proto *agi.Protocol)
	// OnChannelEnded is called when Asterisk reports the channel's
	// Async AGI session has ended, after any command still outstanding
	// on the channel's protocol has been failed with agi.ErrChannelClosed.
	OnChannelEnded func(proto *agi.Protocol)

	channels       map[string]*channelState
	commandCounter int
	commandStem    string
}

// NewExecutor returns an unbound Executor using protocolFactory to
// build a Protocol for each new Async AGI channel.
func NewExecutor(protocolFactory func(ch agi.Channel) *agi.Protocol) *Executor {
	return &Executor{
		ProtocolFactory: protocolFactory,
		channels:        make(map[string]*channelState),
		commandCounter:  1,
		commandStem:     newCommandIDStem(),
	}
}

func newCommandIDStem() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		log.Printf("[AsyncAGI] failed to read random command-id stem: %v", err)
	}
	return hex.EncodeToString(buf)[:10]
}

// IsBound reports whether the executor is currently bound to an AMI
// Multiplexer.
func (e *Executor) IsBound() bool { return e.mux != nil }

// Bind registers the executor's AsyncAGI event handler on mux. Binding
// an already-bound executor, or binding to a Multiplexer that already
// has an "AsyncAGI" handler registered, is an error.
func (e *Executor) Bind(mux *ami.Multiplexer) error {
	if e.mux != nil {
		return errors.New("asyncagi: executor already bound")
	}
	if err := mux.RegisterEventHandler("AsyncAGI", e.asyncAGIEventReceived); err != nil {
		return fmt.Errorf("asyncagi: %w", err)
	}
	e.mux = mux
	return nil
}

// Unbind removes the executor's event handler from its Multiplexer.
func (e *Executor) Unbind() error {
	if e.mux == nil {
		return errors.New("asyncagi: executor not bound")
	}
	e.mux.UnregisterEventHandler("AsyncAGI")
	e.mux = nil
	return nil
}

func (e *Executor) nextCommandID() string {
	id := e.commandCounter
	e.commandCounter++
	return fmt.Sprintf("%d-%s", id, e.commandStem)
}

func (e *Executor) sendCommandLine(cs *channelState, line string) *wire.Token[agi.Response] {
	if e.mux == nil {
		panic("asyncagi: operation on non-bound executor")
	}
	commandID := e.nextCommandID()
	headers := wire.NewHeader()
	headers.Set("Command", strings.TrimRight(line, "\r\n"))
	headers.Set("CommandID", commandID)
	headers.Set("Channel", cs.channelID)

	tok := wire.NewToken[agi.Response]()
	actionTok := e.mux.SendAction("AGI", headers, nil)
	actionTok.OnResult(func(ami.Result) {
		cs.pendingCommandID = commandID
	})
	actionTok.OnException(func(err error) {
		if err := tok.SetException(err); err != nil {
			log.Printf("[AsyncAGI] AGI action failed for channel %q, command %q: %v",
				cs.channelID, commandID, err)
		}
	})
	return tok
}

func (e *Executor) asyncAGIEventReceived(event ami.Event) {
	subevent, _ := event.Headers.Get("SubEvent")
	switch subevent {
	case "Start":
		e.handleStart(event)
	case "Exec":
		e.handleExec(event)
	case "End":
		e.handleEnd(event)
	default:
		log.Printf("[AsyncAGI] unknown AsyncAGI subevent %q", subevent)
	}
}

func (e *Executor) handleStart(event ami.Event) {
	channelID, _ := event.Headers.Get("Channel")
	if _, exists := e.channels[channelID]; exists {
		log.Printf("[AsyncAGI] received new Start event for already-bound channel %q", channelID)
		return
	}
	cs := &channelState{channelID: channelID}
	proto := e.ProtocolFactory(&channel{executor: e, state: cs})
	cs.proto = proto

	envVal, _ := event.Headers.Get("Env")
	envBlock, err := url.PathUnescape(envVal)
	if err != nil {
		log.Printf("[AsyncAGI] failed to decode Env header for channel %q: %v", channelID, err)
		return
	}
	for _, line := range splitLinesKeepEnds(envBlock) {
		if err := proto.DataReceived([]byte(line)); err != nil {
			log.Printf("[AsyncAGI] malformed Env data for channel %q: %v", channelID, err)
			return
		}
	}
	if !proto.Idle() {
		log.Printf("[AsyncAGI] protocol not idle after Start for channel %q (bad Env line?)", channelID)
		return
	}
	e.channels[channelID] = cs
	if e.OnChannelReady != nil {
		e.OnChannelReady(proto)
	}
}

func (e *Executor) handleExec(event ami.Event) {
	channelID, _ := event.Headers.Get("Channel")
	commandID, _ := event.Headers.Get("CommandID")
	cs, ok := e.channels[channelID]
	if !ok {
		log.Printf("[AsyncAGI] Exec event for unknown channel %q", channelID)
		return
	}
	if cs.pendingCommandID == "" || cs.pendingCommandID != commandID {
		log.Printf("[AsyncAGI] Exec event for unknown command %q in channel %q", commandID, channelID)
		return
	}
	cs.pendingCommandID = ""

	resultVal, _ := event.Headers.Get("Result")
	resultBlock, err := url.PathUnescape(resultVal)
	if err != nil {
		log.Printf("[AsyncAGI] failed to decode Result header for channel %q: %v", channelID, err)
		return
	}
	for _, line := range splitLinesKeepEnds(resultBlock) {
		if err := cs.proto.DataReceived([]byte(line)); err != nil {
			log.Printf("[AsyncAGI] malformed Result data for channel %q: %v", channelID, err)
			return
		}
	}
	if !cs.proto.Idle() {
		log.Printf("[AsyncAGI] protocol not idle after Exec for channel %q", channelID)
	}
}

func (e *Executor) handleEnd(event ami.Event) {
	channelID, _ := event.Headers.Get("Channel")
	cs, ok := e.channels[channelID]
	if !ok {
		log.Printf("[AsyncAGI] End event for unknown channel %q", channelID)
		return
	}
	delete(e.channels, channelID)
	cs.pendingCommandID = ""
	cs.proto.Abort(agi.ErrChannelClosed)
	if e.OnChannelEnded != nil {
		e.OnChannelEnded(cs.proto)
	}
}

// splitLinesKeepEnds splits s into lines, each retaining its original
// \n, \r or \r\n terminator (the final line may have none). It mirrors
// Python's str.splitlines(True) closely enough for AGI's LF/CRLF text.
func splitLinesKeepEnds(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\n':
			lines = append(lines, s[start:i+1])
			start = i + 1
		case '\r':
			if i+1 < len(s) && s[i+1] == '\n' {
				lines = append(lines, s[start:i+2])
				start = i + 2
				i++
			} else {
				lines = append(lines, s[start:i+1])
				start = i + 1
			}
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}
