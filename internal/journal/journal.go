package journal

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/cockroachdb/pebble"
)

// Publish attempt outcomes.
const (
	OutcomeSubmitted = "submitted"
	OutcomeAcked     = "acked"
	OutcomeNacked    = "nacked"
	OutcomeFailed    = "failed"
)

// Entry is one publish attempt and its eventual broker outcome. Entries are
// written at submit time and resolved exactly once, possibly after the
// ingest caller has already been answered with PENDING.
type Entry struct {
	Seq         uint64 `json:"seq"`
	OrderID     string `json:"orderId"`
	Topic       string `json:"topic"`
	Outcome     string `json:"outcome"`
	Detail      string `json:"detail,omitempty"`
	Late        bool   `json:"late,omitempty"`
	SubmittedAt int64  `json:"submittedAt"`
	ResolvedAt  int64  `json:"resolvedAt,omitempty"`
}

// Journal is a local append-log of publish attempts backed by Pebble.
// Keys are zero-padded sequence numbers so iteration order is submit order.
type Journal struct {
	db *pebble.DB

	mu   sync.Mutex
	next uint64
}

// Open opens (or creates) a journal at dir and resumes the sequence from the
// highest existing key.
func Open(dir string) (*Journal, error) {
	db, err := pebble.Open(filepath.Clean(dir), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("journal open: %w", err)
	}
	j := &Journal{db: db, next: 1}

	it, err := db.NewIter(nil)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal iter: %w", err)
	}
	if it.Last() && it.Valid() {
		if seq, perr := strconv.ParseUint(string(it.Key()), 10, 64); perr == nil {
			j.next = seq + 1
		}
	}
	if err := it.Close(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal iter close: %w", err)
	}
	return j, nil
}

// Close closes the underlying store.
func (j *Journal) Close() error { return j.db.Close() }

func seqKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%020d", seq))
}

// Submitted appends a new entry in the submitted state and returns its
// sequence number for later resolution.
func (j *Journal) Submitted(orderID, topic string, submittedAt int64) (uint64, error) {
	j.mu.Lock()
	seq := j.next
	j.next++
	j.mu.Unlock()

	e := Entry{
		Seq:         seq,
		OrderID:     orderID,
		Topic:       topic,
		Outcome:     OutcomeSubmitted,
		SubmittedAt: submittedAt,
	}
	if err := j.put(e); err != nil {
		return 0, err
	}
	return seq, nil
}

// Resolve records the final broker outcome for a submitted entry. late marks
// resolutions that arrived after the ingest response was already returned.
func (j *Journal) Resolve(seq uint64, outcome, detail string, late bool, resolvedAt int64) error {
	e, err := j.get(seq)
	if err != nil {
		return err
	}
	e.Outcome = outcome
	e.Detail = detail
	e.Late = late
	e.ResolvedAt = resolvedAt
	return j.put(e)
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, nil
	}
	it, err := j.db.NewIter(nil)
	if err != nil {
		return nil, fmt.Errorf("journal iter: %w", err)
	}
	defer it.Close()

	var out []Entry
	for ok := it.Last(); ok && len(out) < limit; ok = it.Prev() {
		var e Entry
		if uerr := json.Unmarshal(it.Value(), &e); uerr != nil {
			return nil, fmt.Errorf("journal decode: %w", uerr)
		}
		out = append(out, e)
	}
	return out, nil
}

func (j *Journal) put(e Entry) error {
	b, err := json.Marshal(&e)
	if err != nil {
		return fmt.Errorf("journal encode: %w", err)
	}
	if err := j.db.Set(seqKey(e.Seq), b, pebble.NoSync); err != nil {
		return fmt.Errorf("journal set: %w", err)
	}
	return nil
}

func (j *Journal) get(seq uint64) (Entry, error) {
	v, closer, err := j.db.Get(seqKey(seq))
	if err != nil {
		return Entry{}, fmt.Errorf("journal get seq=%d: %w", seq, err)
	}
	defer closer.Close()
	var e Entry
	if uerr := json.Unmarshal(v, &e); uerr != nil {
		return Entry{}, fmt.Errorf("journal decode: %w", uerr)
	}
	return e, nil
}
