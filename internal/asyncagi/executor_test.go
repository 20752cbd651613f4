package asyncagi

import (
	"bytes"
	"net/url"
	"testing"

	"apicall/internal/agi"
	"apicall/internal/ami"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExecutor() (*Executor, *ami.Multiplexer, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	mux := ami.NewMultiplexer(buf)
	ex := NewExecutor(func(ch agi.Channel) *agi.Protocol {
		return agi.NewProtocol(ch)
	})
	return ex, mux, buf
}

func feedStart(t *testing.T, mux *ami.Multiplexer, channelID, env string) {
	t.Helper()
	encoded := url.PathEscape(env)
	require.NoError(t, mux.DataReceived([]byte(
		"Event: AsyncAGI\r\nSubEvent: Start\r\nChannel: "+channelID+"\r\nEnv: "+encoded+"\r\n\r\n")))
}

func TestExecutor_BindUnbind(t *testing.T) {
	ex, mux, _ := newTestExecutor()
	assert.False(t, ex.IsBound())
	require.NoError(t, ex.Bind(mux))
	assert.True(t, ex.IsBound())
	assert.Error(t, ex.Bind(mux))
	require.NoError(t, ex.Unbind())
	assert.False(t, ex.IsBound())
}

func TestExecutor_StartParsesEnvAndFiresReady(t *testing.T) {
	ex, mux, _ := newTestExecutor()
	require.NoError(t, mux.DataReceived([]byte("Asterisk Call Manager/8.0.0\r\n")))
	require.NoError(t, ex.Bind(mux))

	var ready *agi.Protocol
	ex.OnChannelReady = func(p *agi.Protocol) { ready = p }

	env := "agi_channel: SIP/200-1\nagi_uniqueid: 99.1\nagi_arg_1: 5\n\n"
	feedStart(t, mux, "SIP/200-1", env)

	require.NotNil(t, ready)
	assert.Equal(t, "SIP/200-1", ready.Env["channel"])
	assert.Equal(t, []string{"5"}, ready.Argv)
	assert.True(t, ready.Idle())
}

func TestExecutor_SendCommandRoundTrip(t *testing.T) {
	ex, mux, buf := newTestExecutor()
	require.NoError(t, mux.DataReceived([]byte("Asterisk Call Manager/8.0.0\r\n")))
	require.NoError(t, ex.Bind(mux))

	var ready *agi.Protocol
	ex.OnChannelReady = func(p *agi.Protocol) { ready = p }
	feedStart(t, mux, "SIP/300-1", "agi_channel: SIP/300-1\n\n")
	require.NotNil(t, ready)

	tok, err := ready.SendCommand([]string{"ANSWER"})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "Action: AGI\r\n")
	assert.Contains(t, out, "Command: ANSWER\r\n")
	assert.Contains(t, out, "Channel: SIP/300-1\r\n")

	// Asterisk acknowledges the AGI action synchronously...
	require.NoError(t, mux.DataReceived([]byte("Response: Success\r\nActionID: 1\r\n\r\n")))

	var got agi.Response
	tok.OnResult(func(r agi.Response) { got = r })

	// ... then reports the actual result as an AsyncAGI Exec event.
	result := url.PathEscape("200 result=0\n")
	require.NoError(t, mux.DataReceived([]byte(
		"Event: AsyncAGI\r\nSubEvent: Exec\r\nChannel: SIP/300-1\r\nCommandID: 1-"+ex.commandStem+"\r\nResult: "+result+"\r\n\r\n")))

	assert.Equal(t, 0, got.Result)
	assert.True(t, ready.Idle())
}

func TestExecutor_EndRemovesChannel(t *testing.T) {
	ex, mux, _ := newTestExecutor()
	require.NoError(t, mux.DataReceived([]byte("Asterisk Call Manager/8.0.0\r\n")))
	require.NoError(t, ex.Bind(mux))

	var ready, ended *agi.Protocol
	ex.OnChannelReady = func(p *agi.Protocol) { ready = p }
	ex.OnChannelEnded = func(p *agi.Protocol) { ended = p }
	feedStart(t, mux, "SIP/400-1", "agi_channel: SIP/400-1\n\n")
	require.NotNil(t, ready)

	tok, err := ready.SendCommand([]string{"ANSWER"})
	require.NoError(t, err)
	var gotErr error
	tok.OnException(func(e error) { gotErr = e })

	require.NoError(t, mux.DataReceived([]byte(
		"Event: AsyncAGI\r\nSubEvent: End\r\nChannel: SIP/400-1\r\n\r\n")))
	assert.Same(t, ready, ended)
	assert.ErrorIs(t, gotErr, agi.ErrChannelClosed)
	assert.True(t, ready.Idle())

	// A stale Exec arriving after End is ignored, not a crash.
	require.NoError(t, mux.DataReceived([]byte(
		"Event: AsyncAGI\r\nSubEvent: Exec\r\nChannel: SIP/400-1\r\nCommandID: 1-x\r\nResult: "+url.PathEscape("200 result=0\n")+"\r\n\r\n")))
}
