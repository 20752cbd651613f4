package agi

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProtocol() (*Protocol, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	ch := NewDirectChannel(buf)
	return NewProtocol(ch), buf
}

func feedVariables(t *testing.T, p *Protocol, extra string) {
	t.Helper()
	block := "agi_network: yes\n" +
		"agi_request: agi://127.0.0.1/ivr\n" +
		"agi_channel: SIP/100-1\n" +
		"agi_uniqueid: 1234.5\n" +
		"agi_arg_1: 42\n" +
		"agi_arg_2: hello\n" +
		extra +
		"\n"
	require.NoError(t, p.DataReceived([]byte(block)))
}

func TestProtocol_ParsesVariablesAndArgs(t *testing.T) {
	p, _ := newTestProtocol()
	called := false
	p.OnVariablesReceived = func() { called = true }
	feedVariables(t, p, "")
	assert.True(t, called)
	assert.Equal(t, "SIP/100-1", p.Env["channel"])
	assert.Equal(t, "1234.5", p.Env["uniqueid"])
	assert.Equal(t, []string{"42", "hello"}, p.Argv)
	_, hasArgKey := p.Env["arg_1"]
	assert.False(t, hasArgKey)
}

func TestProtocol_InvalidVariableErrors(t *testing.T) {
	p, _ := newTestProtocol()
	err := p.DataReceived([]byte("not_agi_prefixed: x\n\n"))
	require.Error(t, err)
}

func TestProtocol_SuccessfulCommand(t *testing.T) {
	p, buf := newTestProtocol()
	feedVariables(t, p, "")

	tok, err := p.SendCommand([]string{"ANSWER"})
	require.NoError(t, err)
	assert.Equal(t, "ANSWER\n", buf.String())

	var got Response
	tok.OnResult(func(r Response) { got = r })
	require.NoError(t, p.DataReceived([]byte("200 result=0\n")))
	assert.Equal(t, 0, got.Result)
}

func TestProtocol_CommandWithDataAndVariables(t *testing.T) {
	p, _ := newTestProtocol()
	feedVariables(t, p, "")

	tok, err := p.SendCommand([]string{"wait", "for", "digit", "5000"})
	require.NoError(t, err)
	var got Response
	tok.OnResult(func(r Response) { got = r })
	require.NoError(t, p.DataReceived([]byte("200 result=1 (foo bar) endpos=123\n")))
	assert.Equal(t, 1, got.Result)
	assert.Equal(t, "foo bar", got.Data)
	assert.Equal(t, "123", got.Variables["endpos"])
}

func TestProtocol_NegativeResultIsCommandFailure(t *testing.T) {
	p, _ := newTestProtocol()
	feedVariables(t, p, "")

	tok, err := p.SendCommand([]string{"stream", "file", "missing", ""})
	require.NoError(t, err)
	var gotErr error
	tok.OnException(func(e error) { gotErr = e })
	require.NoError(t, p.DataReceived([]byte("200 result=-1\n")))
	require.Error(t, gotErr)
	var failure *AGICommandFailure
	assert.ErrorAs(t, gotErr, &failure)
}

func TestProtocol_UnknownCommandError(t *testing.T) {
	p, _ := newTestProtocol()
	feedVariables(t, p, "")

	tok, err := p.SendCommand([]string{"BOGUS"})
	require.NoError(t, err)
	var gotErr error
	tok.OnException(func(e error) { gotErr = e })
	require.NoError(t, p.DataReceived([]byte("510 Invalid or unknown command\n")))
	require.Error(t, gotErr)
	var unknown *AGIUnknownCommand
	assert.ErrorAs(t, gotErr, &unknown)
}

func TestProtocol_ForbiddenCommandError(t *testing.T) {
	p, _ := newTestProtocol()
	feedVariables(t, p, "")

	tok, _ := p.SendCommand([]string{"ANSWER"})
	var gotErr error
	tok.OnException(func(e error) { gotErr = e })
	require.NoError(t, p.DataReceived([]byte("511 Command Not Permitted on a dead channel\n")))
	var forbidden *AGIForbiddenCommand
	assert.ErrorAs(t, gotErr, &forbidden)
}

func TestProtocol_SyntaxErrorFollowsMultiline(t *testing.T) {
	p, _ := newTestProtocol()
	feedVariables(t, p, "")

	tok, _ := p.SendCommand([]string{"EXEC", "Dial"})
	var gotErr error
	tok.OnException(func(e error) { gotErr = e })

	require.NoError(t, p.DataReceived([]byte("520-Invalid command syntax.  Proper usage follows:\n")))
	require.NoError(t, p.DataReceived([]byte("EXEC <appname> <app args>\n")))
	require.NoError(t, p.DataReceived([]byte("520 End of proper usage.\n")))

	require.Error(t, gotErr)
	var syntaxErr *AGISyntaxError
	assert.ErrorAs(t, gotErr, &syntaxErr)
	assert.Contains(t, syntaxErr.Message, "EXEC <appname> <app args>")
}

func TestProtocol_SendCommandWhileOutstandingPanics(t *testing.T) {
	p, _ := newTestProtocol()
	feedVariables(t, p, "")

	_, err := p.SendCommand([]string{"ANSWER"})
	require.NoError(t, err)
	assert.Panics(t, func() { p.SendCommand([]string{"HANGUP"}) })
}

func TestEscapeArg(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"hello", "hello"},
		{"", `""`},
		{"has space", `"has space"`},
		{`quote"here`, `"quote\"here"`},
		{`back\slash`, `"back\\slash"`},
	}
	for _, c := range cases {
		got, err := escapeArg(c.in)
		require.NoError(t, err)
		assert.Equal(t, c.want, got)
	}
}

func TestEscapeArg_ForbiddenCharacters(t *testing.T) {
	_, err := escapeArg("has\nnewline")
	assert.Error(t, err)
	_, err = escapeArg("has\x00null")
	assert.Error(t, err)
}
