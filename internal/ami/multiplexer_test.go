package ami

import (
	"bytes"
	"testing"

	"apicall/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMultiplexer() (*Multiplexer, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	m := NewMultiplexer(buf)
	return m, buf
}

func feedGreeting(t *testing.T, m *Multiplexer) {
	t.Helper()
	require.NoError(t, m.DataReceived([]byte("Asterisk Call Manager/8.0.0\r\n")))
}

func TestMultiplexer_SendActionAssignsIncrementingIDs(t *testing.T) {
	m, buf := newTestMultiplexer()
	feedGreeting(t, m)

	m.SendAction("Ping", nil, nil)
	m.SendAction("Ping", nil, nil)

	out := buf.String()
	assert.Contains(t, out, "ActionID: 1\r\n")
	assert.Contains(t, out, "ActionID: 2\r\n")
}

func TestMultiplexer_SendActionSortsVariables(t *testing.T) {
	m, buf := newTestMultiplexer()
	feedGreeting(t, m)

	m.SendAction("Originate", nil, map[string]string{"B": "2", "A": "1"})
	out := buf.String()
	idxA := bytes.Index(buf.Bytes(), []byte("Variable: A=1"))
	idxB := bytes.Index(buf.Bytes(), []byte("Variable: B=2"))
	require.True(t, idxA >= 0 && idxB >= 0)
	assert.Less(t, idxA, idxB)
	assert.Contains(t, out, "Action: Originate\r\n")
}

func TestMultiplexer_ResponseResolvesToken(t *testing.T) {
	m, _ := newTestMultiplexer()
	feedGreeting(t, m)

	tok := m.SendAction("Ping", nil, nil)
	var got Result
	tok.OnResult(func(r Result) { got = r })

	require.NoError(t, m.DataReceived([]byte("Response: Success\r\nActionID: 1\r\nPing: Pong\r\n\r\n")))
	require.NotNil(t, got.Response)
	assert.Nil(t, got.EventList)
	v, _ := got.Response.Headers.Get("Ping")
	assert.Equal(t, "Pong", v)
}

func TestMultiplexer_ErrorResponseSetsException(t *testing.T) {
	m, _ := newTestMultiplexer()
	feedGreeting(t, m)

	tok := m.SendAction("Originate", nil, nil)
	var gotErr error
	tok.OnException(func(e error) { gotErr = e })

	require.NoError(t, m.DataReceived([]byte("Response: Error\r\nActionID: 1\r\nMessage: Channel not found\r\n\r\n")))
	require.Error(t, gotErr)
	var actionErr *ActionError
	assert.ErrorAs(t, gotErr, &actionErr)
	assert.Equal(t, "Channel not found", actionErr.Message)
}

func TestMultiplexer_EventListAggregation(t *testing.T) {
	m, _ := newTestMultiplexer()
	feedGreeting(t, m)

	tok := m.SendAction("CoreShowChannels", nil, nil)
	var got Result
	tok.OnResult(func(r Result) { got = r })

	require.NoError(t, m.DataReceived([]byte(
		"Response: Success\r\nActionID: 1\r\nEventList: start\r\nMessage: Channels will follow\r\n\r\n")))
	assert.Nil(t, got.EventList)

	require.NoError(t, m.DataReceived([]byte(
		"Event: CoreShowChannel\r\nActionID: 1\r\nChannel: SIP/100-1\r\n\r\n")))
	require.NoError(t, m.DataReceived([]byte(
		"Event: CoreShowChannel\r\nActionID: 1\r\nChannel: SIP/101-1\r\n\r\n")))
	assert.Nil(t, got.EventList)

	require.NoError(t, m.DataReceived([]byte(
		"Event: CoreShowChannelsComplete\r\nActionID: 1\r\nEventList: Complete\r\nListItems: 2\r\n\r\n")))

	require.NotNil(t, got.EventList)
	assert.Len(t, got.EventList.Events, 2)
	items, _ := got.EventList.Headers.Get("ListItems")
	assert.Equal(t, "2", items)
}

func TestMultiplexer_NamedEventHandlerDispatch(t *testing.T) {
	m, _ := newTestMultiplexer()
	feedGreeting(t, m)

	var got Event
	require.NoError(t, m.RegisterEventHandler("Hangup", func(e Event) { got = e }))

	require.NoError(t, m.DataReceived([]byte("Event: Hangup\r\nChannel: SIP/100-1\r\n\r\n")))
	assert.Equal(t, "Hangup", got.Name)

	err := m.RegisterEventHandler("Hangup", func(Event) {})
	assert.Error(t, err)

	m.UnregisterEventHandler("Hangup")
	got = Event{}
	require.NoError(t, m.DataReceived([]byte("Event: Hangup\r\nChannel: SIP/200-1\r\n\r\n")))
	assert.Equal(t, "", got.Name)
}

func TestMultiplexer_UnhandledEventCallback(t *testing.T) {
	m, _ := newTestMultiplexer()
	feedGreeting(t, m)

	var got Event
	m.OnUnhandledEvent = func(e Event) { got = e }
	require.NoError(t, m.DataReceived([]byte("Event: Newchannel\r\nChannel: SIP/1-1\r\n\r\n")))
	assert.Equal(t, "Newchannel", got.Name)
}

func TestMultiplexer_CancelDetachesAction(t *testing.T) {
	m, _ := newTestMultiplexer()
	feedGreeting(t, m)

	tok := m.SendAction("Ping", nil, nil)
	called := false
	tok.OnResult(func(Result) { called = true })
	tok.Cancel()

	require.NoError(t, m.DataReceived([]byte("Response: Success\r\nActionID: 1\r\n\r\n")))
	assert.False(t, called)
}

func TestMultiplexer_ExplicitActionID(t *testing.T) {
	m, buf := newTestMultiplexer()
	feedGreeting(t, m)

	h := wire.NewHeader()
	h.Set("ActionID", "custom-id")
	m.SendAction("Ping", h, nil)
	assert.Contains(t, buf.String(), "ActionID: custom-id\r\n")
}

func TestMultiplexer_GreetingCallback(t *testing.T) {
	m, _ := newTestMultiplexer()
	var name, version string
	m.OnGreeting = func(n, v string) { name, version = n, v }
	feedGreeting(t, m)
	assert.Equal(t, "Asterisk Call Manager", name)
	assert.Equal(t, "8.0.0", version)
}
