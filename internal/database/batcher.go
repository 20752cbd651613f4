package database

import (
	"database/sql"
	"log"
	"strings"
	"sync"
	"time"
)

const (
	BatchSize     = 1000
	FlushInterval = 500 * time.Millisecond
	BufferSize    = 5000
)

// LogUpdate represents a pending update to a call log
type LogUpdate struct {
	ID           int64
	DTMFMarcado  *string
	Disposition  *string
	Uniqueid     *string
	Interacciono bool
	Status       string
	Duracion     int
}

// LogBatcher manages buffered updates
type LogBatcher struct {
	db        *sql.DB
	updates   chan LogUpdate
	done      chan struct{}
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// NewLogBatcher creates a new batcher
func NewLogBatcher(db *sql.DB) *LogBatcher {
	return &LogBatcher{
		db:      db,
		updates: make(chan LogUpdate, BufferSize),
		done:    make(chan struct{}),
	}
}

// Start initiates the background worker
func (b *LogBatcher) Start() {
	b.mu.Lock()
	if b.isRunning {
		b.mu.Unlock()
		return
	}
	b.isRunning = true
	b.wg.Add(1)
	b.mu.Unlock()

	go b.worker()
	log.Println("[LogBatcher] Worker started")
}

// Stop flushes remaining items and stops the worker
func (b *LogBatcher) Stop() {
	b.mu.Lock()
	if !b.isRunning {
		b.mu.Unlock()
		return
	}
	b.isRunning = false
	b.mu.Unlock()

	close(b.updates)
	b.wg.Wait()
	log.Println("[LogBatcher] Worker stopped")
}

// Queue adds an update to the buffer
func (b *LogBatcher) Queue(update LogUpdate) {
	select {
	case b.updates <- update:
	default:
		// Drop update if buffer is full to prevent blocking
		log.Printf("[LogBatcher] WARNING: Buffer full, dropping update for ID %d", update.ID)
	}
}

func (b *LogBatcher) worker() {
	defer b.wg.Done()

	buffer := make([]LogUpdate, 0, BatchSize)
	ticker := time.NewTicker(FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case update, ok := <-b.updates:
			if !ok {
				// Channel closed, flush remaining
				if len(buffer) > 0 {
					b.flush(buffer)
				}
				return
			}
			buffer = append(buffer, update)
			if len(buffer) >= BatchSize {
				b.flush(buffer)
				buffer = buffer[:0]
			}
		case <-ticker.C:
			if len(buffer) > 0 {
				b.flush(buffer)
				buffer = buffer[:0]
			}
		}
	}
}

// flush bulk-updates apicall_call_log for a batch of DTMF/disposition
// results in one round trip, using a CASE-WHEN-per-column UPDATE since
// MySQL has no UPDATE-FROM-VALUES syntax. DTMFMarcado carries digits
// the far end actually typed, so every value here is bound as a
// placeholder argument rather than interpolated into the query text.
func (b *LogBatcher) flush(updates []LogUpdate) {
	if len(updates) == 0 {
		return
	}

	start := time.Now()

	var statusCase, duracionCase, interaccionoCase, dtmfCase, dispositionCase, uniqueidCase strings.Builder
	var statusArgs, duracionArgs, interaccionoArgs, dtmfArgs, dispositionArgs, uniqueidArgs, idArgs []interface{}
	idPlaceholders := make([]string, len(updates))

	for i, u := range updates {
		idPlaceholders[i] = "?"
		idArgs = append(idArgs, u.ID)

		statusCase.WriteString("WHEN ? THEN ? ")
		statusArgs = append(statusArgs, u.ID, u.Status)

		duracionCase.WriteString("WHEN ? THEN ? ")
		duracionArgs = append(duracionArgs, u.ID, u.Duracion)

		interaccionoCase.WriteString("WHEN ? THEN ? ")
		interaccionoArgs = append(interaccionoArgs, u.ID, u.Interacciono)

		if u.DTMFMarcado != nil {
			dtmfCase.WriteString("WHEN ? THEN ? ")
			dtmfArgs = append(dtmfArgs, u.ID, *u.DTMFMarcado)
		}

		if u.Disposition != nil {
			dispositionCase.WriteString("WHEN ? THEN ? ")
			dispositionArgs = append(dispositionArgs, u.ID, *u.Disposition)
		}

		if u.Uniqueid != nil {
			uniqueidCase.WriteString("WHEN ? THEN ? ")
			uniqueidArgs = append(uniqueidArgs, u.ID, *u.Uniqueid)
		}
	}

	var query strings.Builder
	var args []interface{}

	query.WriteString("UPDATE apicall_call_log SET ")
	query.WriteString("status = CASE id " + statusCase.String() + "END, ")
	args = append(args, statusArgs...)
	query.WriteString("duracion = CASE id " + duracionCase.String() + "END, ")
	args = append(args, duracionArgs...)
	query.WriteString("interacciono = CASE id " + interaccionoCase.String() + "END")
	args = append(args, interaccionoArgs...)

	if len(dtmfArgs) > 0 {
		query.WriteString(", dtmf_marcado = CASE id " + dtmfCase.String() + "ELSE dtmf_marcado END")
		args = append(args, dtmfArgs...)
	}

	if len(dispositionArgs) > 0 {
		query.WriteString(", disposition = CASE id " + dispositionCase.String() + "ELSE disposition END")
		args = append(args, dispositionArgs...)
	}

	if len(uniqueidArgs) > 0 {
		query.WriteString(", uniqueid = CASE id " + uniqueidCase.String() + "ELSE uniqueid END")
		args = append(args, uniqueidArgs...)
	}

	query.WriteString(" WHERE id IN (" + strings.Join(idPlaceholders, ",") + ")")
	args = append(args, idArgs...)

	if _, err := b.db.Exec(query.String(), args...); err != nil {
		log.Printf("[LogBatcher] ERROR flushing batch of %d items: %v", len(updates), err)
	} else {
		log.Printf("[LogBatcher] Flushed %d updates in %v", len(updates), time.Since(start))
	}
}
