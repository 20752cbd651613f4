package dialer

import (
	"log"
	"sync"
	"time"

	"apicall/internal/database"
)

// orphanDisposition is the disposition recorded for a call this
// cleaner gives up on: calls.Manager never saw a terminal Hangup for
// it (the channel never reached the tracking-variable correlation, or
// the AMI connection dropped the event), so no real hangup cause is
// known. It is not one of disposition.go's cause-derived values on
// purpose -- those describe how Asterisk ended a call, this describes
// that the library never found out.
const orphanDisposition = "NA"

// OrphanCallCleaner is the safety net under calls.Manager's
// event-driven lifecycle: every normal call ends through a Hangup
// event reaching Call.OnCallEnded, but a channel can vanish without
// one (AMI connection reset, Asterisk crash, a VarSet that never
// arrived to correlate the channel in the first place). Periodically
// it force-closes anything that has been open too long, so the
// channel pool, contact queue and call_log table don't leak entries
// for calls the manager will never hear the end of.
type OrphanCallCleaner struct {
	repo        *database.Repository
	channelPool *ChannelPool
	callTracker *ActiveCallTracker
	
	interval    time.Duration
	maxCallAge  time.Duration
	
	running     bool
	stopChan    chan struct{}
	wg          sync.WaitGroup
	mu          sync.Mutex
}

// NewOrphanCallCleaner creates a new cleaner
func NewOrphanCallCleaner(repo *database.Repository, pool *ChannelPool, tracker *ActiveCallTracker) *OrphanCallCleaner {
	return &OrphanCallCleaner{
		repo:        repo,
		channelPool: pool,
		callTracker: tracker,
		interval:    10 * time.Second,
		maxCallAge:  60 * time.Second,
		stopChan:    make(chan struct{}),
	}
}

// Start begins the orphan cleaner worker
func (c *OrphanCallCleaner) Start() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.wg.Add(1)
	c.mu.Unlock()

	go c.run()
	log.Println("[OrphanCleaner] Started")
}

// Stop stops the cleaner
func (c *OrphanCallCleaner) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.mu.Unlock()

	close(c.stopChan)
	c.wg.Wait()
	log.Println("[OrphanCleaner] Stopped")
}

func (c *OrphanCallCleaner) run() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	// Run once immediately
	c.cleanup()

	for {
		select {
		case <-c.stopChan:
			return
		case <-ticker.C:
			c.cleanup()
		}
	}
}

func (c *OrphanCallCleaner) cleanup() {
	// 1. Clean up stale tracked calls
	c.cleanupStaleCalls()
	
	// 2. Clean up orphaned DB records
	c.cleanupOrphanedCallLogs()
	
	// 3. Clean up orphaned contacts
	c.cleanupOrphanedContacts()
}

// cleanupStaleCalls removes calls from tracker that are too old
func (c *OrphanCallCleaner) cleanupStaleCalls() {
	if c.callTracker == nil {
		return
	}

	staleCalls := c.callTracker.GetStale(c.maxCallAge)
	for _, call := range staleCalls {
		// Remove from tracker
		c.callTracker.Remove(call.UniqueID)
		
		// Release channel slot
		if c.channelPool != nil {
			c.channelPool.Release(call.Trunk)
		}
		
		// Call log goes to COMPLETED with the orphan disposition: the
		// manager never reported a hangup cause for this channel.
		if call.LogID > 0 {
			disp := orphanDisposition
			c.repo.UpdateCallLog(call.LogID, nil, &disp, nil, false, "COMPLETED", 0)
		}

		// Update contact to failed if applicable
		if call.ContactID > 0 {
			disp := orphanDisposition
			c.repo.UpdateContactStatus(call.ContactID, "failed", &disp)
		}
		
		log.Printf("[OrphanCleaner] Cleaned stale call: uniqueID=%s, age=%v", 
			call.UniqueID, time.Since(call.StartTime))
	}
	
	if len(staleCalls) > 0 {
		log.Printf("[OrphanCleaner] Cleaned %d stale calls from tracker", len(staleCalls))
	}
}

// cleanupOrphanedCallLogs finds and updates call logs stuck in DIALING
func (c *OrphanCallCleaner) cleanupOrphanedCallLogs() {
	if c.repo == nil {
		return
	}

	// Find calls stuck in DIALING for more than 5 minutes: no Hangup
	// (and so no real disposition) ever reached calls.Manager for them.
	query := `
		UPDATE apicall_call_log
		SET status = 'COMPLETED', disposition = ?
		WHERE status = 'DIALING'
		  AND created_at < NOW() - INTERVAL 5 MINUTE
	`
	result, err := c.repo.GetDB().Exec(query, orphanDisposition)
	if err != nil {
		log.Printf("[OrphanCleaner] Error cleaning orphaned call logs: %v", err)
		return
	}
	
	rows, _ := result.RowsAffected()
	if rows > 0 {
		log.Printf("[OrphanCleaner] Cleaned %d orphaned call logs (DIALING > 5min)", rows)
	}
}

// cleanupOrphanedContacts finds and updates contacts stuck in dialing state
func (c *OrphanCallCleaner) cleanupOrphanedContacts() {
	if c.repo == nil {
		return
	}

	// Find contacts stuck in "dialing" for more than 5 minutes
	query := `
		UPDATE apicall_campaign_contacts
		SET estado = 'failed', resultado = ?
		WHERE estado = 'dialing'
		  AND ultimo_intento IS NOT NULL
		  AND ultimo_intento < NOW() - INTERVAL 5 MINUTE
	`
	result, err := c.repo.GetDB().Exec(query, orphanDisposition)
	if err != nil {
		log.Printf("[OrphanCleaner] Error cleaning orphaned contacts: %v", err)
		return
	}
	
	rows, _ := result.RowsAffected()
	if rows > 0 {
		log.Printf("[OrphanCleaner] Cleaned %d orphaned contacts (dialing > 5min)", rows)
	}
}

// SetInterval configures the cleanup interval
func (c *OrphanCallCleaner) SetInterval(interval time.Duration) {
	c.interval = interval
}

// SetMaxCallAge configures the max age for calls before they're considered orphaned
func (c *OrphanCallCleaner) SetMaxCallAge(maxAge time.Duration) {
	c.maxCallAge = maxAge
}
