// Package calls implements outgoing-call origination and call-lifecycle
// tracking on top of internal/ami: it injects a per-call tracking
// channel variable into every Originate action, correlates it back to
// the channel Asterisk allocates via the resulting VarSet event, and
// turns the rest of the AMI event stream (Newstate, Dial, LocalBridge,
// Hangup, ...) into lifecycle callbacks on a Call.
package calls

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"strconv"
	"strings"

	"apicall/internal/ami"
	"apicall/internal/wire"
)

// Manager originates calls and tracks their lifecycle through one AMI
// Multiplexer. Exactly one Manager should be bound to a given
// Multiplexer, since each registers the same fixed set of event
// handler names.
type Manager struct {
	mux              *ami.Multiplexer
	trackingVariable string
	callCounter      int

	incomingCallFactory func(newchannel *wire.Header) *Call

	newChannels map[string]*wire.Header // channel unique id -> Newchannel headers
	actions     map[string]*Call        // action id -> queued, untracked call
	calls       map[string]*Call        // call id -> every tracked/queued call
	uniqueIDs   map[string]*Call        // channel unique id -> call
}

// NewManager returns a Manager bound to mux. It registers the fixed
// set of event handlers call tracking needs; that registration fails
// if mux already has a conflicting handler bound.
func NewManager(mux *ami.Multiplexer) (*Manager, error) {
	m := &Manager{
		mux:              mux,
		trackingVariable: newTrackingVariable(),
		callCounter:      1,
		newChannels:      make(map[string]*wire.Header),
		actions:          make(map[string]*Call),
		calls:            make(map[string]*Call),
		uniqueIDs:        make(map[string]*Call),
	}
	if err := m.setupEventHandlers(); err != nil {
		return nil, err
	}
	return m, nil
}

func newTrackingVariable() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		log.Printf("[Calls] failed to read random tracking variable: %v", err)
	}
	return "X_" + strings.ToUpper(hex.EncodeToString(buf)[:12])
}

func (m *Manager) newCallID() string {
	id := m.callCounter
	m.callCounter++
	return strconv.Itoa(id)
}

func (m *Manager) setupEventHandlers() error {
	handlers := map[string]func(ami.Event){
		"Newchannel":        m.onNewChannel,
		"VarSet":            m.onVarSet,
		"LocalBridge":       m.onLocalBridge,
		"Dial":              m.onDial,
		"Newstate":          m.onNewState,
		"SoftHangupRequest": m.onSoftHangupRequest,
		"Hangup":            m.onHangup,
		"OriginateResponse": m.onOriginateResponse,
	}
	for name, handler := range handlers {
		if err := m.mux.RegisterEventHandler(name, handler); err != nil {
			return fmt.Errorf("calls: %w", err)
		}
	}
	return nil
}

// QueuedCalls returns every currently queued outgoing call (tracked or
// not).
func (m *Manager) QueuedCalls() []*Call {
	var out []*Call
	for _, call := range m.calls {
		if call.outgoing {
			out = append(out, call)
		}
	}
	return out
}

// TrackedCalls returns every call (incoming or originated) that has
// been correlated with at least one channel. A queued call that
// hasn't yet received its VarSet event is excluded.
func (m *Manager) TrackedCalls() []*Call {
	untracked := make(map[*Call]struct{}, len(m.actions))
	for _, call := range m.actions {
		untracked[call] = struct{}{}
	}
	var out []*Call
	for _, call := range m.calls {
		if _, ok := untracked[call]; !ok {
			out = append(out, call)
		}
	}
	return out
}

// ListenForIncomingCalls registers factory to build a Call for every
// channel the manager sees originate from outside (i.e. one it never
// issued an Originate for). factory receives the triggering
// "Newchannel" event's headers.
func (m *Manager) ListenForIncomingCalls(factory func(newchannel *wire.Header) *Call) {
	m.incomingCallFactory = factory
}

// SetupFilters installs server-side AMI event filters tailored to this
// Manager: Asterisk will only forward "call" privilege events plus any
// event mentioning this Manager's tracking variable. This is optional,
// but recommended on busy systems to avoid wasting bandwidth on
// NewExten/VarSet/AGIExec bursts the Manager doesn't care about.
func (m *Manager) SetupFilters() *wire.Token[[]ami.Result] {
	filters := []string{
		"Privilege: call,all",
		"Variable: " + m.trackingVariable,
	}
	toks := make([]*wire.Token[ami.Result], len(filters))
	for i, f := range filters {
		h := wire.NewHeader()
		h.Set("Operation", "Add")
		h.Set("Filter", f)
		toks[i] = m.mux.SendAction("Filter", h, nil)
	}
	return wire.Aggregate(toks)
}

// TrackingVariable returns the channel variable name this Manager uses
// to correlate channels with calls. RegisterPending callers must set it
// on the channel some other way (e.g. a "Setvar:" line in an Asterisk
// outgoing spool file) using the id RegisterPending returns.
func (m *Manager) TrackingVariable() string {
	return m.trackingVariable
}

// RegisterPending tracks call under a freshly minted call id without
// sending an Originate action, for channels this process causes to
// exist by some means other than AMI Originate (an outgoing spool
// file, for instance). Set TrackingVariable()=<the returned id> on
// that channel so the resulting VarSet event correlates it exactly the
// way Originate's own bookkeeping does.
func (m *Manager) RegisterPending(call *Call) string {
	if call.manager != nil {
		panic("calls: cannot reuse Call instance, need a new one")
	}
	callID := m.newCallID()
	call.bind(m, callID, true)
	m.calls[callID] = call
	return callID
}

// Originate issues an Originate action for call with the given
// headers and call-specific channel variables. call must be freshly
// constructed with NewCall; reusing an already-originated (or
// incoming) Call is a programmer error.
func (m *Manager) Originate(call *Call, headers *wire.Header, variables map[string]string) error {
	if call.manager != nil {
		return fmt.Errorf("calls: cannot reuse Call instance, need a new one")
	}
	callID := m.newCallID()
	if variables == nil {
		variables = make(map[string]string, 1)
	}
	variables[m.trackingVariable] = callID
	call.bind(m, callID, true)

	tok := m.mux.SendAction("Originate", headers, variables)
	tok.OnResult(func(r ami.Result) {
		actionID := ""
		if r.Response != nil {
			actionID, _ = r.Response.Headers.Get("ActionID")
		}
		call.actionID = actionID
		m.actions[actionID] = call
		m.calls[callID] = call
		if call.OnCallQueued != nil {
			call.OnCallQueued()
		}
	})
	tok.OnException(func(err error) {
		if call.OnCallFailed != nil {
			call.OnCallFailed(err)
		}
	})
	return nil
}

func (m *Manager) onOriginateResponse(event ami.Event) {
	response, _ := event.Headers.Get("Response")
	if response != "Failure" {
		return
	}
	actionID, _ := event.Headers.Get("ActionID")
	call, ok := m.actions[actionID]
	if !ok {
		return
	}
	delete(m.actions, actionID)
	delete(m.calls, call.callID)
	reasonStr, _ := event.Headers.Get("Reason")
	reason, _ := strconv.Atoi(reasonStr)
	if call.OnCallFailed != nil {
		call.OnCallFailed(&OriginateError{Reason: reason})
	}
}

func (m *Manager) candidateIncomingCall(uniqueID string) *Call {
	newchannel, ok := m.newChannels[uniqueID]
	if !ok || m.incomingCallFactory == nil {
		return nil
	}
	delete(m.newChannels, uniqueID)
	call := m.incomingCallFactory(newchannel)
	if call == nil {
		return nil
	}
	callID := m.newCallID()
	call.bind(m, callID, false)
	m.calls[callID] = call
	call.uniqueIDs[uniqueID] = struct{}{}
	m.uniqueIDs[uniqueID] = call
	return call
}

func (m *Manager) onNewChannel(event ami.Event) {
	channel, _ := event.Headers.Get("Channel")
	if strings.HasPrefix(channel, "Local/") {
		return
	}
	uniqueID, _ := event.Headers.Get("Uniqueid")
	m.newChannels[uniqueID] = event.Headers
}

func (m *Manager) onVarSet(event ami.Event) {
	variable, _ := event.Headers.Get("Variable")
	if variable != m.trackingVariable {
		return
	}
	callID, _ := event.Headers.Get("Value")
	uniqueID, _ := event.Headers.Get("Uniqueid")
	// This channel belongs to an outgoing call; it is not a candidate
	// for incoming-call promotion.
	delete(m.newChannels, uniqueID)

	call, ok := m.calls[callID]
	if !ok {
		log.Printf("[Calls] got unknown call id in VarSet: %s", callID)
		return
	}
	// Calls registered via RegisterPending never went through the
	// Originate/action-id dance, so there is nothing to dedup against.
	if call.actionID != "" {
		if _, ok := m.actions[call.actionID]; !ok {
			log.Printf("[Calls] got duplicate VarSet for call #%s", callID)
			return
		}
		delete(m.actions, call.actionID)
	}
	call.uniqueIDs[uniqueID] = struct{}{}
	m.uniqueIDs[uniqueID] = call
}

func (m *Manager) onLocalBridge(event ami.Event) {
	id1, _ := event.Headers.Get("Uniqueid1")
	call, ok := m.uniqueIDs[id1]
	if !ok {
		return
	}
	id2, _ := event.Headers.Get("Uniqueid2")
	if other, ok := m.uniqueIDs[id2]; ok && other != call {
		log.Printf("[Calls] LocalBridge: unique id %q already bound to call #%s", id2, other.callID)
		return
	}
	call.uniqueIDs[id2] = struct{}{}
	m.uniqueIDs[id2] = call
}

func (m *Manager) updateHangupCause(call *Call, headers *wire.Header) {
	cause, _ := strconv.Atoi(headers.GetDefault("Cause", "0"))
	if cause != 0 || !call.hasHangupCause {
		call.lastHangupCause = cause
		call.lastHangupDesc = headers.GetDefault("Cause-txt", "")
		call.hasHangupCause = true
	}
}

func (m *Manager) onSoftHangupRequest(event ami.Event) {
	uniqueID, _ := event.Headers.Get("Uniqueid")
	call, ok := m.uniqueIDs[uniqueID]
	if !ok {
		return
	}
	m.updateHangupCause(call, event.Headers)
}

func (m *Manager) onHangup(event ami.Event) {
	uniqueID, _ := event.Headers.Get("Uniqueid")
	delete(m.newChannels, uniqueID)
	call, ok := m.uniqueIDs[uniqueID]
	if !ok {
		return
	}
	delete(m.uniqueIDs, uniqueID)
	delete(call.uniqueIDs, uniqueID)
	m.updateHangupCause(call, event.Headers)
	if len(call.uniqueIDs) == 0 {
		delete(m.calls, call.callID)
		if call.OnCallEnded != nil {
			call.OnCallEnded(call.lastHangupCause, call.lastHangupDesc)
		}
	}
}

func (m *Manager) onDial(event ami.Event) {
	// Asterisk spells this header "UniqueID" here, unlike most other
	// events' "Uniqueid" -- harmless since wire.Header folds case.
	uniqueID, _ := event.Headers.Get("UniqueID")
	call, ok := m.uniqueIDs[uniqueID]
	if !ok {
		return
	}
	sub, _ := event.Headers.Get("SubEvent")
	switch sub {
	case "Begin":
		if call.OnDialingStarted != nil {
			call.OnDialingStarted()
		}
	case "End":
		status, _ := event.Headers.Get("DialStatus")
		if call.OnDialingFinished != nil {
			call.OnDialingFinished(status)
		}
	}
}

func (m *Manager) onNewState(event ami.Event) {
	uniqueID, _ := event.Headers.Get("Uniqueid")
	call, ok := m.uniqueIDs[uniqueID]
	if !ok {
		call = m.candidateIncomingCall(uniqueID)
		if call == nil {
			return
		}
	}
	stateStr, _ := event.Headers.Get("ChannelState")
	state, _ := strconv.Atoi(stateStr)
	stateDesc, _ := event.Headers.Get("ChannelStateDesc")
	if state != call.state {
		call.state = state
		if call.OnCallStateChanged != nil {
			call.OnCallStateChanged(state, stateDesc)
		}
	}
	call.stateDesc = stateDesc
}
