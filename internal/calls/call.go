package calls

import (
	"errors"
	"fmt"
	"sort"
)

// Call tracks the lifecycle of one phone call, outgoing or incoming,
// as seen through a Manager. Construct one with NewCall and hand it to
// Manager.Originate, or receive one through the incoming-call factory
// registered with ListenForIncomingCalls; either way, bind the
// On... callbacks you care about before the call is given to the
// manager.
type Call struct {
	manager  *Manager
	callID   string
	actionID string
	outgoing bool

	state     int
	stateDesc string

	uniqueIDs map[string]struct{}

	hasHangupCause  bool
	lastHangupCause int
	lastHangupDesc  string

	// OnCallQueued is called once the Originate action has been
	// accepted by Asterisk (not yet connected).
	OnCallQueued func()
	// OnCallFailed is called when the call fails before or shortly
	// after being queued: either Asterisk rejected the Originate
	// action outright, or answered it but then reported failure
	// through an OriginateResponse event.
	OnCallFailed func(err error)
	// OnCallStateChanged is called whenever the call's channel state
	// changes, with Asterisk's numeric state and its description.
	OnCallStateChanged func(state int, stateDesc string)
	// OnDialingStarted is called when dialing begins.
	OnDialingStarted func()
	// OnDialingFinished is called when dialing ends, with Asterisk's
	// DialStatus string (e.g. "ANSWER", "BUSY", "NOANSWER").
	OnDialingFinished func(status string)
	// OnCallEnded is called once every channel belonging to the call
	// has hung up, with the last-seen hangup cause code and its
	// textual description.
	OnCallEnded func(cause int, causeDesc string)
}

// NewCall returns a fresh, unbound Call. Each Call instance can only
// be originated once.
func NewCall() *Call {
	return &Call{}
}

func (c *Call) bind(m *Manager, callID string, outgoing bool) {
	c.manager = m
	c.callID = callID
	c.outgoing = outgoing
	c.uniqueIDs = make(map[string]struct{})
}

func (c *Call) String() string {
	if c.manager == nil {
		return "Call(unbound)"
	}
	return fmt.Sprintf("Call #%s", c.callID)
}

// UniqueIDs returns the sorted channel unique ids currently associated
// with this call. It errors if the call has never been bound to a
// Manager (originated, or handed to an incoming-call factory).
func (c *Call) UniqueIDs() ([]string, error) {
	if c.manager == nil {
		return nil, errors.New("calls: call not originated")
	}
	ids := make([]string, 0, len(c.uniqueIDs))
	for id := range c.uniqueIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
