package session

import (
	"sync"

	"github.com/rewired-gh/weighstation/internal/models"
)

type repetitionKey struct {
	recordID   string
	repetition int
}

// Ledger is the append-only in-process record of confirmed transfers.
// Entries of a repetition abandoned by Pause are kept but superseded, so the
// repetition redone on resume is the only one reported.
type Ledger struct {
	mu         sync.RWMutex
	entries    []models.TransferredIngredient
	superseded map[repetitionKey]bool
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{superseded: make(map[repetitionKey]bool)}
}

func (l *Ledger) append(t models.TransferredIngredient) {
	l.mu.Lock()
	l.entries = append(l.entries, t)
	l.mu.Unlock()
}

func (l *Ledger) supersede(recordID string, repetition int) {
	l.mu.Lock()
	l.superseded[repetitionKey{recordID, repetition}] = true
	l.mu.Unlock()
}

func (l *Ledger) live(e *models.TransferredIngredient) bool {
	return !l.superseded[repetitionKey{e.RecordID, e.RepetitionNumber}]
}

// Len returns the number of entries that are not superseded.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for i := range l.entries {
		if l.live(&l.entries[i]) {
			n++
		}
	}
	return n
}

// Entries returns the batch's entries in confirmation order. A repetition of
// zero selects every repetition. Superseded entries are omitted.
func (l *Ledger) Entries(batchID string, repetition int) []models.TransferredIngredient {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []models.TransferredIngredient
	for i := range l.entries {
		e := &l.entries[i]
		if e.BatchID != batchID || !l.live(e) {
			continue
		}
		if repetition != 0 && e.RepetitionNumber != repetition {
			continue
		}
		out = append(out, *e)
	}
	return out
}

// Superseded returns the batch's entries discarded by a pause.
func (l *Ledger) Superseded(batchID string) []models.TransferredIngredient {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []models.TransferredIngredient
	for i := range l.entries {
		e := &l.entries[i]
		if e.BatchID == batchID && !l.live(e) {
			out = append(out, *e)
		}
	}
	return out
}
