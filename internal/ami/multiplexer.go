package ami

import (
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"

	"apicall/internal/wire"
)

// Result is what an action's Token resolves to: exactly one of Response
// or EventList is set, depending on whether the server answered with a
// plain response or an "EventList: start" aggregation.
type Result struct {
	Response  *Response
	EventList *EventList
}

type actionEntry struct {
	id    string
	token *wire.Token[Result]
}

// Multiplexer sits on top of a Parser and turns its Response/Event
// callbacks into per-action Tokens and named event dispatch. It owns
// action-id assignment, event-list aggregation, and serialization of
// outgoing actions; it knows nothing about sockets.
//
// Like Parser, it is driven synchronously: DataReceived must be called
// with bytes as they arrive, and every callback it invokes (event
// handlers, token callbacks) runs on the calling goroutine.
type Multiplexer struct {
	parser *Parser
	w      Writer

	actionCounter int
	actions       map[string]*actionEntry
	eventLists    map[string]*EventList
	handlers      map[string]func(Event)

	// OnGreeting is called once, when the opening "NAME/VERSION" line
	// is received.
	OnGreeting func(name, version string)
	// OnUnhandledEvent is called for events with no registered handler
	// and not part of an in-progress event list. If nil, such events
	// are logged and dropped.
	OnUnhandledEvent func(Event)
}

// NewMultiplexer returns a Multiplexer that writes serialized actions to w.
func NewMultiplexer(w Writer) *Multiplexer {
	m := &Multiplexer{
		w:             w,
		actionCounter: 1,
		actions:       make(map[string]*actionEntry),
		eventLists:    make(map[string]*EventList),
		handlers:      make(map[string]func(Event)),
	}
	p := NewParser()
	p.OnGreeting = func(name, version string) {
		if m.OnGreeting != nil {
			m.OnGreeting(name, version)
		}
	}
	p.OnResponse = m.responseReceived
	p.OnEvent = m.eventReceived
	m.parser = p
	return m
}

// DataReceived feeds raw bytes read off the connection into the
// Multiplexer. It returns a *ProtocolError the moment malformed data is
// detected; the Multiplexer (and the connection behind it) must then be
// discarded.
func (m *Multiplexer) DataReceived(data []byte) error {
	return m.parser.DataReceived(data)
}

// SendAction writes the serialized action immediately and returns a
// Token that fires once a matching response (or, for an EventList
// response, its completing event) arrives. headers may be nil. variables
// is optional and is serialized as repeated "Variable: k=v" headers in
// sorted key order.
//
// If headers does not already carry an "ActionID", one is assigned.
func (m *Multiplexer) SendAction(name string, headers *wire.Header, variables map[string]string) *wire.Token[Result] {
	if headers == nil {
		headers = wire.NewHeader()
	}
	if len(variables) > 0 {
		keys := make([]string, 0, len(variables))
		for k := range variables {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			headers.Add("Variable", k+"="+variables[k])
		}
	}
	headers.Set("Action", name)
	actionID, ok := headers.Get("ActionID")
	if !ok || actionID == "" {
		actionID = m.nextActionID()
		headers.Set("ActionID", actionID)
	}

	token := wire.NewToken[Result]()
	entry := &actionEntry{id: actionID, token: token}
	m.actions[actionID] = entry
	token.SetDetach(func() {
		if cur, ok := m.actions[actionID]; ok {
			if cur.token != token {
				panic(fmt.Sprintf("ami: cannot cancel stale action handler for id %q", actionID))
			}
			delete(m.actions, actionID)
		}
		delete(m.eventLists, actionID)
	})

	if _, err := m.w.Write(SerializeMessage(headers)); err != nil {
		log.Printf("[AMI] failed to write action %q: %v", name, err)
	}
	return token
}

// RegisterEventHandler routes every future event named name to fn,
// until UnregisterEventHandler is called. Registering a second handler
// for the same name is a programmer error and returns an error instead
// of silently replacing the first.
func (m *Multiplexer) RegisterEventHandler(name string, fn func(Event)) error {
	if _, exists := m.handlers[name]; exists {
		return fmt.Errorf("ami: event handler already registered for %q", name)
	}
	m.handlers[name] = fn
	return nil
}

// UnregisterEventHandler removes a handler previously registered with
// RegisterEventHandler. Unregistering a name with no handler is a no-op.
func (m *Multiplexer) UnregisterEventHandler(name string) {
	delete(m.handlers, name)
}

func (m *Multiplexer) nextActionID() string {
	id := m.actionCounter
	m.actionCounter++
	return strconv.Itoa(id)
}

func (m *Multiplexer) responseReceived(resp Response) {
	actionID, ok := resp.Headers.Get("ActionID")
	if !ok {
		log.Printf("[AMI] response with no ActionID, dropping")
		return
	}
	entry, ok := m.actions[actionID]
	if !ok {
		log.Printf("[AMI] response for unknown or stale action id %q", actionID)
		return
	}

	if resp.Type == ResponseError {
		delete(m.actions, actionID)
		msg, _ := resp.Headers.Get("Message")
		if err := entry.token.SetException(&ActionError{Message: msg}); err != nil {
			log.Printf("[AMI] action %q failed with no exception handler bound: %v", actionID, err)
		}
		return
	}

	eventListVal, hasEventList := resp.Headers.Get("EventList")
	if hasEventList {
		switch strings.ToLower(eventListVal) {
		case "start":
			m.startEventList(resp, actionID)
			return
		default:
			log.Printf("[AMI] invalid EventList header %q in response for action %q", eventListVal, actionID)
		}
	}

	delete(m.actions, actionID)
	entry.token.SetResult(Result{Response: &resp})
}

func (m *Multiplexer) startEventList(resp Response, actionID string) {
	if _, exists := m.eventLists[actionID]; exists {
		log.Printf("[AMI] ignoring duplicate EventList start for action %q", actionID)
		return
	}
	m.eventLists[actionID] = &EventList{Headers: resp.Headers}
}

func (m *Multiplexer) eventReceived(event Event) {
	actionID, hasAction := event.Headers.Get("ActionID")
	if hasAction {
		if evList, ok := m.eventLists[actionID]; ok {
			m.feedEventList(actionID, evList, event)
			return
		}
	}
	m.dispatchEvent(event)
}

func (m *Multiplexer) feedEventList(actionID string, evList *EventList, event Event) {
	val, hasVal := event.Headers.Get("EventList")
	if hasVal {
		switch strings.ToLower(val) {
		case "complete":
			delete(m.eventLists, actionID)
			entry, ok := m.actions[actionID]
			if !ok {
				log.Printf("[AMI] EventList complete for stale action id %q", actionID)
				return
			}
			delete(m.actions, actionID)
			for _, key := range event.Headers.Keys() {
				evList.Headers.Del(key)
				for _, v := range event.Headers.Values(key) {
					evList.Headers.Add(key, v)
				}
			}
			entry.token.SetResult(Result{EventList: evList})
			return
		default:
			log.Printf("[AMI] invalid EventList header %q in event for action %q", val, actionID)
		}
	}
	evList.Events = append(evList.Events, event)
}

func (m *Multiplexer) dispatchEvent(event Event) {
	if h, ok := m.handlers[event.Name]; ok {
		h(event)
		return
	}
	if m.OnUnhandledEvent != nil {
		m.OnUnhandledEvent(event)
		return
	}
	log.Printf("[AMI] unhandled event %q", event.Name)
}
