package dialer

import (
	"fmt"
	"log"
	"strings"
	"time"

	"apicall/internal/amiconn"
	"apicall/internal/calls"
	"apicall/internal/database"
	"apicall/internal/smartcid"
	"apicall/internal/websocket"
	"apicall/internal/wire"

	"github.com/google/uuid"
)

// DialRequest contains the specific details for a single call
type DialRequest struct {
	CampaignID  int
	ContactID   int64
	Project     *database.Proyecto
	Destination string
	Variables   map[string]string
	Timeout     time.Duration
}

// AMIDialer originates calls through a calls.Manager and blocks the
// caller until Asterisk has either accepted or rejected the Originate.
// Once accepted, the rest of the call's lifecycle (ringing, answer,
// hangup) updates the channel pool, active-call tracker and database
// asynchronously through the Call callbacks -- Dial itself only waits
// for the queue/fail decision.
type AMIDialer struct {
	mgr     *calls.Manager
	conn    *amiconn.Conn
	pool    *ChannelPool
	tracker *ActiveCallTracker
	repo    *database.Repository
	scidGen *smartcid.Generator
}

// NewAMIDialer creates a new dialer bound to mgr. conn is the
// amiconn.Conn mgr's Multiplexer is mounted on; Dial routes Originate
// through conn.Dispatch so it runs on conn's read-loop goroutine
// instead of racing it from the caller's own goroutine (Dial is
// typically invoked from a campaign sweeper worker, not the read loop).
func NewAMIDialer(mgr *calls.Manager, conn *amiconn.Conn, pool *ChannelPool, tracker *ActiveCallTracker, repo *database.Repository) *AMIDialer {
	return &AMIDialer{
		mgr:     mgr,
		conn:    conn,
		pool:    pool,
		tracker: tracker,
		repo:    repo,
	}
}

// SetSmartCIDGenerator sets the Smart Caller ID generator
func (d *AMIDialer) SetSmartCIDGenerator(gen *smartcid.Generator) {
	d.scidGen = gen
	log.Printf("[AMIDialer] Smart CID Generator configured")
}

// Dial executes a call synchronously using AMI Originate. It returns
// once Asterisk has queued or rejected the call; the call's eventual
// answer/hangup is reported through d.tracker and the database, not
// through this call's return value.
func (d *AMIDialer) Dial(req DialRequest) error {
	trunk := req.Project.TroncalSalida
	if !d.pool.Acquire(trunk) {
		return fmt.Errorf("channel limit reached for trunk %s", trunk)
	}
	released := false
	release := func() {
		if !released {
			released = true
			d.pool.Release(trunk)
		}
	}

	callerID := req.Project.CallerID
	if d.scidGen != nil && req.Project.SmartCIDActive {
		generated := d.scidGen.GetCallerID(req.Destination, callerID, req.Project.SmartCIDActive)
		log.Printf("[AMIDialer] Smart CID: Proyecto=%d, Destino=%s, Original=%s, Generado=%s",
			req.Project.ID, req.Destination, callerID, generated)
		callerID = generated
	} else {
		log.Printf("[AMIDialer] Using static CID: Proyecto=%d, CID=%s (SmartGen=%v, SmartActive=%v)",
			req.Project.ID, callerID, d.scidGen != nil, req.Project.SmartCIDActive)
	}

	var campaignID *int
	if req.CampaignID > 0 {
		cid := req.CampaignID
		campaignID = &cid
	}
	logID, err := d.repo.CreateCallLog(&database.CallLog{
		ProyectoID:   req.Project.ID,
		Telefono:     req.Destination,
		Status:       "DIALING",
		Interacciono: false,
		CallerIDUsed: callerID,
		CampaignID:   campaignID,
	})
	if err != nil {
		log.Printf("[AMIDialer] Error creating call log: %v", err)
	} else {
		log.Printf("[AMIDialer] Created call log ID=%d for campaign=%d contact=%d callerID=%s",
			logID, req.CampaignID, req.ContactID, callerID)
	}

	channel := fmt.Sprintf("SIP/%s/%s%s", trunk, req.Project.PrefijoSalida, req.Destination)

	variables := make(map[string]string, len(req.Variables)+4)
	for k, v := range req.Variables {
		variables[k] = v
	}
	variables["APICALL_PROJECT_ID"] = fmt.Sprintf("%d", req.Project.ID)
	variables["APICALL_CAMPAIGN_ID"] = fmt.Sprintf("%d", req.CampaignID)
	variables["APICALL_CONTACT_ID"] = fmt.Sprintf("%d", req.ContactID)
	variables["APICALL_LOG_ID"] = fmt.Sprintf("%d", logID)

	h := wire.NewHeader()
	h.Set("Channel", channel)
	h.Set("Context", "apicall_context")
	h.Set("Exten", "s")
	h.Set("Priority", "1")
	h.Set("CallerID", callerID)
	h.Set("Timeout", fmt.Sprintf("%d", req.Timeout.Milliseconds()))
	h.Set("Async", "true")

	internalID := uuid.New().String()
	active := &ActiveCall{
		UniqueID:   internalID,
		Trunk:      trunk,
		StartTime:  time.Now(),
		CampaignID: req.CampaignID,
		ContactID:  req.ContactID,
		ProyectoID: req.Project.ID,
		LogID:      logID,
	}

	call := calls.NewCall()
	queue := make(chan error, 1)
	var once bool
	report := func(err error) {
		if !once {
			once = true
			queue <- err
		}
	}
	snapshot := func(status, disposition, uniqueid string) websocket.CallSnapshot {
		return websocket.CallSnapshot{
			LogID:       logID,
			CampaignID:  req.CampaignID,
			ContactID:   req.ContactID,
			ProyectoID:  req.Project.ID,
			Destination: req.Destination,
			Status:      status,
			Disposition: disposition,
			Uniqueid:    uniqueid,
		}
	}

	call.OnCallQueued = func() {
		websocket.BroadcastCallEvent(websocket.EventCallStart, snapshot("DIALING", "", ""))
		report(nil)
	}
	call.OnCallFailed = func(err error) { report(err) }
	call.OnDialingFinished = func(status string) {
		log.Printf("[AMIDialer] log=%d dial status=%s", logID, status)
		websocket.BroadcastCallEvent(websocket.EventCallUpdate, snapshot(status, "", ""))
	}
	call.OnCallEnded = func(cause int, causeDesc string) {
		release()
		d.tracker.Remove(internalID)
		disposition := HangupCauseDisposition(cause)
		log.Printf("[AMIDialer] log=%d ended cause=%d (%s) -> disposition=%s", logID, cause, causeDesc, disposition)
		var uniqueid *string
		var uniqueidStr string
		if ids, err := call.UniqueIDs(); err == nil && len(ids) > 0 {
			joined := strings.Join(ids, ",")
			uniqueid = &joined
			uniqueidStr = joined
		}
		if err := d.repo.UpdateCallLog(logID, nil, &disposition, uniqueid, disposition == "ANSWERED", "COMPLETED", 0); err != nil {
			log.Printf("[AMIDialer] failed to update call log %d: %v", logID, err)
		}
		websocket.BroadcastCallEvent(websocket.EventCallEnd, snapshot("COMPLETED", disposition, uniqueidStr))
	}

	var originateErr error
	d.conn.Dispatch(func() {
		originateErr = d.mgr.Originate(call, h, variables)
	})
	if originateErr != nil {
		release()
		return originateErr
	}

	select {
	case err := <-queue:
		if err != nil {
			release()
			disposition := "FAILED"
			var origErr *calls.OriginateError
			if asOriginateError(err, &origErr) {
				disposition = OriginateFailureDisposition(origErr.Reason)
			}
			_ = d.repo.UpdateCallLog(logID, nil, &disposition, nil, false, "COMPLETED", 0)
			return fmt.Errorf("originate failed: %w", err)
		}
		d.tracker.Add(active)
		return nil
	case <-time.After(req.Timeout + 5*time.Second):
		release()
		return fmt.Errorf("originate timeout waiting for AMI response")
	}
}

func asOriginateError(err error, target **calls.OriginateError) bool {
	oe, ok := err.(*calls.OriginateError)
	if ok {
		*target = oe
	}
	return ok
}
