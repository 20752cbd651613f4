package agi

import (
	"fmt"
	"log"
	"strconv"
	"strings"

	"apicall/internal/wire"
)

type protocolState int

const (
	stateInit protocolState = iota
	stateIdle
	stateAwaitingResponse
	stateInResponse
)

// Protocol drives one AGI session's state machine: the initial
// agi_KEY: value variable block, then a strict request/response cycle
// for every command sent afterwards.
//
// A Protocol never writes to a connection directly; SendCommand hands
// the encoded command line to a Channel, which is responsible for
// getting it to Asterisk (directly for script/FastAGI, wrapped in an
// AMI action for Async AGI) and returns the token for the command's
// response; SendCommand queues that token with pushCommand so the
// Protocol knows to expect a response.
type Protocol struct {
	Channel Channel

	state       protocolState
	Env         map[string]string
	Argv        []string
	commands    []*wire.Token[Response]
	respCode    int
	respMessage string

	la wire.LineAccumulator

	// OnVariablesReceived is called once the env block is fully
	// parsed and the protocol has moved to idle, ready for commands.
	OnVariablesReceived func()
}

// NewProtocol returns a Protocol ready to receive the agi_KEY: value
// header block.
func NewProtocol(ch Channel) *Protocol {
	return &Protocol{
		Channel: ch,
		state:   stateInit,
		Env:     make(map[string]string),
	}
}

// Idle reports whether the protocol has finished its AGI variable
// header block and has no command outstanding.
func (p *Protocol) Idle() bool { return p.state == stateIdle }

// Abort fails any command still outstanding on the protocol with err
// and returns the protocol to idle. It is used when the underlying
// channel is gone and no further response will ever arrive — without
// it, a command token left in commands would never fire.
func (p *Protocol) Abort(err error) {
	pending := p.commands
	p.commands = nil
	p.state = stateIdle
	for _, tok := range pending {
		_ = tok.SetException(err)
	}
}

// DataReceived feeds raw bytes into the protocol.
func (p *Protocol) DataReceived(data []byte) error {
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

func (p *Protocol) lineReceived(line string) error {
	switch p.state {
	case stateInit:
		return p.receiveVariable(strings.TrimRight(line, "\r\n"))
	case stateIdle:
		if strings.TrimSpace(line) != "" {
			log.Printf("[AGI] unexpected line received while idle: %q", line)
		}
		return nil
	case stateAwaitingResponse:
		return p.receiveResponse(line)
	case stateInResponse:
		return p.receiveResponseTail(line)
	default:
		panic("agi: unreachable protocol state")
	}
}

func (p *Protocol) receiveVariable(line string) error {
	if line == "" {
		p.state = stateIdle
		log.Printf("[AGI] got %d AGI variables, now waiting for commands", len(p.Env))
		if p.OnVariablesReceived != nil {
			p.OnVariablesReceived()
		}
		return nil
	}
	key, value, err := splitKeyValue(line)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(key, "agi_") {
		return fmt.Errorf("agi: invalid AGI variable %q", key)
	}
	name := key[len("agi_"):]
	if strings.HasPrefix(name, "arg_") {
		if num, err := strconv.Atoi(name[len("arg_"):]); err == nil && num == len(p.Argv)+1 {
			p.Argv = append(p.Argv, value)
			return nil
		}
	}
	if _, exists := p.Env[name]; exists {
		log.Printf("[AGI] duplicate value for AGI variable %q", key)
	}
	p.Env[name] = value
	return nil
}

func splitKeyValue(line string) (key, value string, err error) {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return "", "", fmt.Errorf("agi: expected a key/value pair, got %q", line)
	}
	key = line[:idx]
	value = strings.TrimLeft(line[idx+1:], " \t")
	return key, value, nil
}

func (p *Protocol) receiveResponse(line string) error {
	if len(line) < 4 || (line[3] != ' ' && line[3] != '-') {
		return fmt.Errorf("agi: invalid response line %q", line)
	}
	code, err := strconv.Atoi(line[:3])
	if err != nil {
		return fmt.Errorf("agi: invalid response code in %q", line)
	}
	tail := line[4:]
	if code < 200 || code >= 600 {
		return fmt.Errorf("agi: invalid response code %d", code)
	}
	if code < 300 {
		p.gotSuccessfulResponse(strings.TrimRight(tail, "\r\n"))
		return nil
	}
	if code == 520 && strings.Contains(tail, "follows") {
		p.respCode = code
		p.respMessage = tail
		p.state = stateInResponse
		return nil
	}
	p.gotErrorResponse(code, strings.TrimRight(tail, "\r\n"))
	return nil
}

func (p *Protocol) receiveResponseTail(line string) error {
	prefix := strconv.Itoa(p.respCode) + " "
	switch {
	case strings.HasPrefix(line, prefix):
		p.gotErrorResponse(p.respCode, p.respMessage)
		p.respCode = 0
		p.respMessage = ""
	case strings.HasSuffix(line, "520 End of proper usage.\n"):
		// Async AGI sometimes runs the final line together with the
		// previous one, losing the EOL inside the "Result" header.
		p.respMessage += line
		p.gotErrorResponse(p.respCode, p.respMessage)
		p.respCode = 0
		p.respMessage = ""
	default:
		p.respMessage += line
	}
	return nil
}

// SendCommand encodes args as an AGI command line and hands it to the
// Channel. Calling it while a previous command's response is still
// outstanding, or before the variable header block has finished, is a
// programmer error and panics.
func (p *Protocol) SendCommand(args []string) (*wire.Token[Response], error) {
	if p.state != stateIdle {
		panic("agi: can only send an AGI command when idle")
	}
	if len(p.commands) != 0 {
		panic("agi: command already outstanding")
	}
	line, err := encodeCommand(args)
	if err != nil {
		return nil, err
	}
	tok := p.Channel.SendCommandLine(line)
	p.pushCommand(tok)
	return tok, nil
}

func (p *Protocol) pushCommand(tok *wire.Token[Response]) {
	p.commands = append(p.commands, tok)
	p.state = stateAwaitingResponse
}

func (p *Protocol) popCommand() *wire.Token[Response] {
	tok := p.commands[0]
	p.commands = p.commands[1:]
	if len(p.commands) == 0 {
		p.state = stateIdle
	} else {
		p.state = stateAwaitingResponse
	}
	return tok
}

func (p *Protocol) gotSuccessfulResponse(body string) {
	tok := p.popCommand()
	result, variables, data, err := parseResult(body)
	if err != nil {
		_ = tok.SetException(err)
		return
	}
	if result < 0 {
		_ = tok.SetException(&AGICommandFailure{Line: body})
		return
	}
	tok.SetResult(Response{Result: result, Variables: variables, Data: data})
}

func (p *Protocol) gotErrorResponse(code int, message string) {
	tok := p.popCommand()
	_ = tok.SetException(newResponseError(code, message))
}

func encodeCommand(args []string) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("agi: command args cannot be empty")
	}
	escaped := make([]string, len(args))
	for i, a := range args {
		e, err := escapeArg(a)
		if err != nil {
			return "", err
		}
		escaped[i] = e
	}
	return strings.Join(escaped, " ") + "\n", nil
}

// escapeArg escapes a single AGI command argument the way Asterisk
// expects: backslashes and double quotes are backslash-escaped, and
// the whole argument is quoted if that changed anything, if it's
// empty, or if it contains a space or tab. '\0' and '\n' can never be
// represented and are rejected outright.
func escapeArg(arg string) (string, error) {
	if strings.ContainsAny(arg, "\x00\n") {
		return "", fmt.Errorf("agi: forbidden characters in AGI argument: %q", arg)
	}
	var b strings.Builder
	for _, r := range arg {
		if r == '\\' || r == '"' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	escaped := b.String()
	if arg == "" || escaped != arg || strings.ContainsAny(arg, " \t") {
		return `"` + escaped + `"`, nil
	}
	return escaped, nil
}

// parseResult parses the ad-hoc "result=N (data) key=value ..." grammar
// Asterisk uses to answer AGI commands.
func parseResult(line string) (result int, variables map[string]string, data string, err error) {
	variables = make(map[string]string)
	var dataParts []string
	inData := false
	haveResult := false
	for _, part := range strings.Split(line, " ") {
		if part == "" {
			continue
		}
		if inData {
			if strings.HasSuffix(part, ")") {
				dataParts = append(dataParts, strings.TrimSuffix(part, ")"))
				inData = false
			} else {
				dataParts = append(dataParts, part)
			}
			continue
		}
		if strings.HasPrefix(part, "(") {
			if strings.HasSuffix(part, ")") {
				dataParts = append(dataParts, part[1:len(part)-1])
			} else {
				dataParts = append(dataParts, part[1:])
				inData = true
			}
			continue
		}
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		if key == "result" {
			result, err = strconv.Atoi(value)
			if err != nil {
				return 0, nil, "", fmt.Errorf("agi: invalid result code in %q", line)
			}
			haveResult = true
		} else {
			variables[key] = value
		}
	}
	if !haveResult {
		return 0, nil, "", fmt.Errorf("agi: missing result= in %q", line)
	}
	if len(dataParts) == 0 {
		return result, variables, "", nil
	}
	return result, variables, strings.Join(dataParts, " "), nil
}
