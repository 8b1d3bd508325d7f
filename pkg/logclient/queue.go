package logclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// ErrQueueFull is returned when the queue has reached its capacity bound.
// New work is refused loudly; pending entries are never evicted.
var ErrQueueFull = errors.New("durable queue is full")

// entryPrefix orders queue keys; the zero-padded persisted sequence number
// makes iteration order equal enqueue order, across process restarts.
const entryPrefix = "entry/"

// QueueConfig contains tunables for the durable queue.
type QueueConfig struct {
	// Path is the directory holding the BadgerDB store.
	Path string
	// MaxEntries bounds the queue; Enqueue fails with ErrQueueFull beyond it.
	MaxEntries int
	// MaxAttempts is the delivery retry ceiling per entry.
	MaxAttempts int
	// SyncWrites forces fsync on every write. On by default: the queue is a
	// correctness boundary, not a cache.
	SyncWrites bool
}

func (c *QueueConfig) applyDefaults() error {
	if c.Path == "" {
		return errors.New("queue path is required")
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = 1000
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	return nil
}

// entry is the stored form of a queued record.
type entry struct {
	ID            string    `json:"id"`
	Record        Record    `json:"record"`
	Attempts      int       `json:"attempts"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
	LastAttemptAt time.Time `json:"last_attempt_at,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
}

// Queue is a durable client-side queue of not-yet-delivered records. It is
// the write-ahead step for every submission: records are persisted before
// any network attempt and retired only on a confirmed terminal outcome.
type Queue struct {
	db      *badger.DB
	seq     *badger.Sequence
	cfg     QueueConfig
	pending atomic.Int64

	// enqueueMu makes the capacity check and the insert one step, so
	// concurrent Enqueue calls cannot push pending past MaxEntries.
	enqueueMu sync.Mutex

	totalEnqueued atomic.Int64
	totalRetired  atomic.Int64
	totalRetries  atomic.Int64
}

// OpenQueue opens (or creates) the queue store at cfg.Path and recounts
// pending entries left over from a previous process.
func OpenQueue(cfg QueueConfig) (*Queue, error) {
	if err := cfg.applyDefaults(); err != nil {
		return nil, fmt.Errorf("invalid queue config: %w", err)
	}

	opts := badger.DefaultOptions(cfg.Path).
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open queue store: %w", err)
	}

	seq, err := db.GetSequence([]byte("queue_seq"), 64)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open queue sequence: %w", err)
	}

	q := &Queue{db: db, seq: seq, cfg: cfg}

	count, err := q.countEntries()
	if err != nil {
		seq.Release()
		db.Close()
		return nil, err
	}
	q.pending.Store(count)

	return q, nil
}

func (q *Queue) countEntries() (int64, error) {
	var count int64
	err := q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(entryPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// Enqueue durably persists a record before (or in place of) any network
// attempt. A storage failure is returned to the caller; the record is never
// silently dropped.
func (q *Queue) Enqueue(record Record) (string, error) {
	q.enqueueMu.Lock()
	defer q.enqueueMu.Unlock()

	if q.pending.Load() >= int64(q.cfg.MaxEntries) {
		return "", ErrQueueFull
	}

	next, err := q.seq.Next()
	if err != nil {
		return "", fmt.Errorf("allocate queue sequence: %w", err)
	}

	e := entry{
		ID:         uuid.NewString(),
		Record:     record,
		EnqueuedAt: time.Now().UTC(),
	}
	value, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("encode queue entry: %w", err)
	}

	key := []byte(fmt.Sprintf("%s%020d", entryPrefix, next))
	err = q.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
	if err != nil {
		return "", fmt.Errorf("persist queue entry: %w", err)
	}

	q.pending.Add(1)
	q.totalEnqueued.Add(1)
	return e.ID, nil
}

// Pending returns the number of queued, not-yet-retired entries.
func (q *Queue) Pending() int {
	return int(q.pending.Load())
}

// AbandonedEntry reports a record removed from the queue without delivery,
// either permanently rejected by the server or past the retry ceiling.
type AbandonedEntry struct {
	EntryID  string
	Record   Record
	Attempts int
	Reason   string
}

// ReplayReport summarises one replay pass.
type ReplayReport struct {
	Delivered  int
	Duplicates int
	Retained   int
	Abandoned  []AbandonedEntry
}

// Replay walks queued entries in enqueue order and attempts delivery for
// each. Entries are independent: a failure never stops the pass. Terminal
// outcomes retire the entry; transient failures increment the attempt
// counter, and entries past the retry ceiling are dropped and reported in
// the returned report rather than retried forever.
func (q *Queue) Replay(ctx context.Context, deliverer Deliverer) (ReplayReport, error) {
	var report ReplayReport

	keys, entries, corrupt, err := q.snapshot()
	if err != nil {
		return report, err
	}

	// An undecodable entry can never be delivered; remove it and report it
	// instead of letting it wedge the queue in front of deliverable work.
	for _, c := range corrupt {
		if err := q.remove(c.key); err != nil {
			return report, err
		}
		report.Abandoned = append(report.Abandoned, AbandonedEntry{
			EntryID: string(c.key),
			Reason:  c.err.Error(),
		})
	}

	for i, e := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		result, deliverErr := deliverer.Deliver(ctx, e.Record)
		if deliverErr != nil {
			e.Attempts++
			e.LastAttemptAt = time.Now().UTC()
			e.LastError = deliverErr.Error()
			q.totalRetries.Add(1)

			if e.Attempts >= q.cfg.MaxAttempts {
				if err := q.remove(keys[i]); err != nil {
					return report, err
				}
				report.Abandoned = append(report.Abandoned, AbandonedEntry{
					EntryID:  e.ID,
					Record:   e.Record,
					Attempts: e.Attempts,
					Reason:   e.LastError,
				})
				continue
			}

			if err := q.store(keys[i], e); err != nil {
				return report, err
			}
			report.Retained++
			continue
		}

		switch result.Outcome {
		case OutcomePersisted:
			report.Delivered++
		case OutcomeDuplicate:
			// A timed-out-but-committed earlier attempt; success-equivalent.
			report.Duplicates++
		case OutcomeFailed:
			report.Abandoned = append(report.Abandoned, AbandonedEntry{
				EntryID:  e.ID,
				Record:   e.Record,
				Attempts: e.Attempts + 1,
				Reason:   result.Reason,
			})
		}
		if err := q.remove(keys[i]); err != nil {
			return report, err
		}
	}

	return report, nil
}

// corruptEntry is a stored value that no longer decodes.
type corruptEntry struct {
	key []byte
	err error
}

func (q *Queue) snapshot() ([][]byte, []entry, []corruptEntry, error) {
	var keys [][]byte
	var entries []entry
	var corrupt []corruptEntry

	err := q.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(entryPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			var e entry
			if err := json.Unmarshal(value, &e); err != nil {
				corrupt = append(corrupt, corruptEntry{
					key: item.KeyCopy(nil),
					err: fmt.Errorf("decode queue entry %s: %w", item.Key(), err),
				})
				continue
			}
			keys = append(keys, item.KeyCopy(nil))
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return keys, entries, corrupt, nil
}

func (q *Queue) store(key []byte, e entry) error {
	value, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return q.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

func (q *Queue) remove(key []byte) error {
	err := q.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
	if err != nil {
		return err
	}
	q.pending.Add(-1)
	q.totalRetired.Add(1)
	return nil
}

// Stats reports queue counters for monitoring.
type Stats struct {
	Pending       int64
	TotalEnqueued int64
	TotalRetired  int64
	TotalRetries  int64
}

// Stats returns a snapshot of queue counters.
func (q *Queue) Stats() Stats {
	return Stats{
		Pending:       q.pending.Load(),
		TotalEnqueued: q.totalEnqueued.Load(),
		TotalRetired:  q.totalRetired.Load(),
		TotalRetries:  q.totalRetries.Load(),
	}
}

// Close releases the sequence and shuts the store down.
func (q *Queue) Close() error {
	if err := q.seq.Release(); err != nil {
		q.db.Close()
		return err
	}
	return q.db.Close()
}
