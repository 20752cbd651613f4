package ami

import (
	"strings"

	"apicall/internal/wire"
)

type parserState int

const (
	stateInit parserState = iota
	stateIdle
	stateInResponse
	stateInEvent
	stateInResponseFollows
)

const responseFollowsEnd = "--END COMMAND--"

// Parser implements the AMI wire syntax: the opening greeting line,
// then a stream of Response/Event blocks. It knows nothing about
// action ids or event-list aggregation — that is Multiplexer's job.
type Parser struct {
	la    wire.LineAccumulator
	state parserState

	headers   *wire.Header
	payload   []string
	respType  ResponseType
	eventName string

	// OnGreeting is called once, when the opening "NAME/VERSION" line
	// is received.
	OnGreeting func(name, version string)
	// OnResponse is called for every completed response block.
	OnResponse func(Response)
	// OnEvent is called for every completed event block.
	OnEvent func(Event)
}

// NewParser returns a Parser ready to receive a greeting line.
func NewParser() *Parser {
	return &Parser{state: stateInit}
}

// DataReceived feeds raw bytes into the parser. It returns a
// *ProtocolError (possibly wrapped) the moment malformed data is
// detected; the parser must not be fed any more data afterwards.
func (p *Parser) DataReceived(data []byte) error {
	var perr error
	p.la.Feed(data, func(line []byte) {
		if perr != nil {
			return
		}
		if err := p.lineReceived(string(line)); err != nil {
			perr = err
		}
	})
	return perr
}

func (p *Parser) lineReceived(raw string) error {
	line := strings.TrimRight(raw, "\r\n")
	switch p.state {
	case stateInit:
		return p.receiveGreeting(line)
	case stateIdle:
		return p.receiveIdle(line)
	case stateInResponse:
		return p.receiveInResponse(line)
	case stateInEvent:
		return p.receiveInEvent(line)
	case stateInResponseFollows:
		return p.receiveInResponseFollows(line)
	default:
		panic("ami: unreachable parser state")
	}
}

func (p *Parser) receiveGreeting(line string) error {
	parts := strings.SplitN(strings.TrimSpace(line), "/", 2)
	if len(parts) != 2 {
		return protocolErrorf("invalid greeting line %q", line)
	}
	p.state = stateIdle
	if p.OnGreeting != nil {
		p.OnGreeting(parts[0], parts[1])
	}
	return nil
}

func (p *Parser) receiveIdle(line string) error {
	if line == "" {
		return nil
	}
	key, value, err := splitKeyValue(line)
	if err != nil {
		return err
	}
	switch key {
	case "Response":
		p.state = stateInResponse
		p.headers = wire.NewHeader()
		p.payload = nil
		p.respType = ResponseType(strings.ToLower(value))
		if !isValidResponseType(p.respType) {
			return protocolErrorf("invalid response type %q", value)
		}
	case "Event":
		p.state = stateInEvent
		p.headers = wire.NewHeader()
		p.eventName = value
	default:
		return protocolErrorf("unexpected first message line %q", line)
	}
	return nil
}

func (p *Parser) receiveInResponse(line string) error {
	if line == "" {
		p.state = stateIdle
		p.completeResponse()
		return nil
	}
	key, value, err := splitKeyValue(line)
	if err != nil {
		return err
	}
	p.headers.Add(key, value)
	if p.respType == ResponseFollows && p.headers.Has("Privilege") && p.headers.Has("ActionID") {
		p.state = stateInResponseFollows
	}
	return nil
}

func (p *Parser) receiveInEvent(line string) error {
	if line == "" {
		p.state = stateIdle
		p.completeEvent()
		return nil
	}
	key, value, err := splitKeyValue(line)
	if err != nil {
		return err
	}
	p.headers.Add(key, value)
	return nil
}

func (p *Parser) receiveInResponseFollows(line string) error {
	if strings.HasSuffix(line, responseFollowsEnd) {
		prefix := strings.TrimSuffix(line, responseFollowsEnd)
		if prefix != "" {
			p.payload = append(p.payload, prefix)
		}
		p.state = stateIdle
		p.completeResponse()
		return nil
	}
	p.payload = append(p.payload, line)
	return nil
}

func (p *Parser) completeResponse() {
	resp := Response{Type: p.respType, Headers: p.headers, Payload: p.payload}
	if p.OnResponse != nil {
		p.OnResponse(resp)
	}
}

func (p *Parser) completeEvent() {
	event := Event{Name: p.eventName, Headers: p.headers}
	if p.OnEvent != nil {
		p.OnEvent(event)
	}
}

// splitKeyValue splits a "Key: value" line on the first ':', trimming
// leading whitespace from the value. Trailing end-of-line bytes must
// already have been stripped by the caller.
func splitKeyValue(line string) (key, value string, err error) {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return "", "", protocolErrorf("expected a key/value pair, got %q", line)
	}
	key = line[:idx]
	value = strings.TrimLeft(line[idx+1:], " \t")
	return key, value, nil
}

// SerializeMessage serializes headers as a sequence of "Key: value"
// CRLF-terminated lines, each list-valued header producing one line
// per element, ending with a blank line.
func SerializeMessage(headers *wire.Header) []byte {
	var b strings.Builder
	for _, key := range headers.Keys() {
		for _, value := range headers.Values(key) {
			b.WriteString(key)
			b.WriteString(": ")
			b.WriteString(value)
			b.WriteString("\r\n")
		}
	}
	b.WriteString("\r\n")
	return []byte(b.String())
}
