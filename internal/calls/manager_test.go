package calls

import (
	"bytes"
	"testing"

	"apicall/internal/ami"
	"apicall/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*Manager, *ami.Multiplexer, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	mux := ami.NewMultiplexer(buf)
	require.NoError(t, mux.DataReceived([]byte("Asterisk Call Manager/8.0.0\r\n")))
	m, err := NewManager(mux)
	require.NoError(t, err)
	return m, mux, buf
}

func TestManager_OriginateQueuesAndTracksCall(t *testing.T) {
	m, mux, buf := newTestManager(t)

	call := NewCall()
	queued := false
	call.OnCallQueued = func() { queued = true }
	require.NoError(t, m.Originate(call, nil, nil))

	assert.Contains(t, buf.String(), "Action: Originate\r\n")
	assert.Contains(t, buf.String(), m.trackingVariable+"=1")

	require.NoError(t, mux.DataReceived([]byte("Response: Success\r\nActionID: 1\r\n\r\n")))
	assert.True(t, queued)
	assert.Len(t, m.QueuedCalls(), 1)
	assert.Empty(t, m.TrackedCalls())

	require.NoError(t, mux.DataReceived([]byte(
		"Event: VarSet\r\nVariable: "+m.trackingVariable+"\r\nValue: 1\r\n"+
			"Uniqueid: 1000.1\r\nChannel: SIP/100-1\r\n\r\n")))
	assert.Len(t, m.TrackedCalls(), 1)

	ids, err := call.UniqueIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"1000.1"}, ids)
}

func TestManager_OriginateRejectedByResponse(t *testing.T) {
	m, mux, _ := newTestManager(t)

	call := NewCall()
	var gotErr error
	call.OnCallFailed = func(err error) { gotErr = err }
	require.NoError(t, m.Originate(call, nil, nil))

	require.NoError(t, mux.DataReceived([]byte("Response: Error\r\nActionID: 1\r\nMessage: No such channel\r\n\r\n")))
	require.Error(t, gotErr)
	assert.Empty(t, m.QueuedCalls())
}

func TestManager_OriginateFailsAfterQueuedViaOriginateResponse(t *testing.T) {
	m, mux, _ := newTestManager(t)

	call := NewCall()
	require.NoError(t, m.Originate(call, nil, nil))
	require.NoError(t, mux.DataReceived([]byte("Response: Success\r\nActionID: 1\r\n\r\n")))
	assert.Len(t, m.QueuedCalls(), 1)

	var gotErr error
	call.OnCallFailed = func(err error) { gotErr = err }
	require.NoError(t, mux.DataReceived([]byte(
		"Event: OriginateResponse\r\nActionID: 1\r\nResponse: Failure\r\nReason: 1\r\n\r\n")))

	require.Error(t, gotErr)
	var origErr *OriginateError
	assert.ErrorAs(t, gotErr, &origErr)
	assert.Equal(t, 1, origErr.Reason)
	assert.Empty(t, m.QueuedCalls())
}

func TestManager_HangupEndsCallOnceAllChannelsGone(t *testing.T) {
	m, mux, _ := newTestManager(t)
	call := NewCall()
	require.NoError(t, m.Originate(call, nil, nil))
	require.NoError(t, mux.DataReceived([]byte("Response: Success\r\nActionID: 1\r\n\r\n")))
	require.NoError(t, mux.DataReceived([]byte(
		"Event: VarSet\r\nVariable: "+m.trackingVariable+"\r\nValue: 1\r\n"+
			"Uniqueid: 1000.1\r\nChannel: SIP/100-1\r\n\r\n")))

	var cause int
	var desc string
	ended := false
	call.OnCallEnded = func(c int, d string) { ended = true; cause = c; desc = d }

	require.NoError(t, mux.DataReceived([]byte(
		"Event: Hangup\r\nUniqueid: 1000.1\r\nCause: 16\r\nCause-txt: Normal Clearing\r\n\r\n")))

	assert.True(t, ended)
	assert.Equal(t, 16, cause)
	assert.Equal(t, "Normal Clearing", desc)
	assert.Empty(t, m.TrackedCalls())
}

func TestManager_LocalBridgeMergesChannels(t *testing.T) {
	m, mux, _ := newTestManager(t)
	call := NewCall()
	require.NoError(t, m.Originate(call, nil, nil))
	require.NoError(t, mux.DataReceived([]byte("Response: Success\r\nActionID: 1\r\n\r\n")))
	require.NoError(t, mux.DataReceived([]byte(
		"Event: VarSet\r\nVariable: "+m.trackingVariable+"\r\nValue: 1\r\n"+
			"Uniqueid: 1000.1\r\nChannel: Local/100@default-00000001;1\r\n\r\n")))

	require.NoError(t, mux.DataReceived([]byte(
		"Event: LocalBridge\r\nUniqueid1: 1000.1\r\nUniqueid2: 1000.2\r\n\r\n")))

	ids, err := call.UniqueIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"1000.1", "1000.2"}, ids)
}

func TestManager_DialSubEvents(t *testing.T) {
	m, mux, _ := newTestManager(t)
	call := NewCall()
	require.NoError(t, m.Originate(call, nil, nil))
	require.NoError(t, mux.DataReceived([]byte("Response: Success\r\nActionID: 1\r\n\r\n")))
	require.NoError(t, mux.DataReceived([]byte(
		"Event: VarSet\r\nVariable: "+m.trackingVariable+"\r\nValue: 1\r\n"+
			"Uniqueid: 1000.1\r\nChannel: SIP/100-1\r\n\r\n")))

	started := false
	var finishedStatus string
	call.OnDialingStarted = func() { started = true }
	call.OnDialingFinished = func(status string) { finishedStatus = status }

	require.NoError(t, mux.DataReceived([]byte(
		"Event: Dial\r\nSubEvent: Begin\r\nUniqueID: 1000.1\r\n\r\n")))
	assert.True(t, started)

	require.NoError(t, mux.DataReceived([]byte(
		"Event: Dial\r\nSubEvent: End\r\nUniqueID: 1000.1\r\nDialStatus: ANSWER\r\n\r\n")))
	assert.Equal(t, "ANSWER", finishedStatus)
}

func TestManager_IncomingCallPromotedOnNewstate(t *testing.T) {
	m, mux, _ := newTestManager(t)

	var gotHeaders *wire.Header
	m.ListenForIncomingCalls(func(h *wire.Header) *Call {
		gotHeaders = h
		return NewCall()
	})

	require.NoError(t, mux.DataReceived([]byte(
		"Event: Newchannel\r\nUniqueid: 2000.1\r\nChannel: SIP/200-1\r\n\r\n")))
	require.NotNil(t, m.newChannels["2000.1"])

	require.NoError(t, mux.DataReceived([]byte(
		"Event: Newstate\r\nUniqueid: 2000.1\r\nChannelState: 6\r\nChannelStateDesc: Up\r\n\r\n")))

	require.NotNil(t, gotHeaders)
	_, ok := m.uniqueIDs["2000.1"]
	require.True(t, ok)

	assert.Len(t, m.TrackedCalls(), 1)
}

func TestManager_LocalChannelsIgnoredForIncomingPromotion(t *testing.T) {
	m, mux, _ := newTestManager(t)
	m.ListenForIncomingCalls(func(h *wire.Header) *Call { return NewCall() })

	require.NoError(t, mux.DataReceived([]byte(
		"Event: Newchannel\r\nUniqueid: 3000.1\r\nChannel: Local/abc@ctx-1;1\r\n\r\n")))
	assert.Nil(t, m.newChannels["3000.1"])
}

func TestManager_RegisterPendingTracksWithoutOriginate(t *testing.T) {
	m, mux, buf := newTestManager(t)

	call := NewCall()
	callID := m.RegisterPending(call)
	assert.NotEmpty(t, callID)
	assert.Empty(t, buf.String(), "RegisterPending must not send an AMI action")
	assert.Empty(t, m.TrackedCalls())

	require.NoError(t, mux.DataReceived([]byte(
		"Event: VarSet\r\nVariable: "+m.trackingVariable+"\r\nValue: "+callID+"\r\n"+
			"Uniqueid: 4000.1\r\nChannel: SIP/300-1\r\n\r\n")))

	assert.Len(t, m.TrackedCalls(), 1)
	ids, err := call.UniqueIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"4000.1"}, ids)
}

func TestManager_RegisterPendingPanicsOnReusedCall(t *testing.T) {
	m, _, _ := newTestManager(t)
	call := NewCall()
	m.RegisterPending(call)
	assert.Panics(t, func() { m.RegisterPending(call) })
}

func TestManager_SetupFiltersAggregates(t *testing.T) {
	m, mux, buf := newTestManager(t)
	tok := m.SetupFilters()

	out := buf.String()
	assert.Contains(t, out, "Filter: Privilege: call,all\r\n")
	assert.Contains(t, out, "Filter: Variable: "+m.trackingVariable+"\r\n")

	var fired bool
	tok.OnResult(func([]ami.Result) { fired = true })

	require.NoError(t, mux.DataReceived([]byte("Response: Success\r\nActionID: 1\r\n\r\n")))
	assert.False(t, fired)
	require.NoError(t, mux.DataReceived([]byte("Response: Success\r\nActionID: 2\r\n\r\n")))
	assert.True(t, fired)
}
