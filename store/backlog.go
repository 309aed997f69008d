// Package store persists the shared backlog of work items. The backlog
// is the only state shared across workers; all contention is resolved
// by the atomic claim transaction.
package store

import (
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"

	"github.com/use-agent/adscope/models"
)

// claimRetries bounds the optimistic-transaction retry loop. Losers of
// a claim race re-read and receive whatever is still unclaimed; they
// never block on the winner.
const claimRetries = 25

// Backlog is the badger-backed work-item store.
type Backlog struct {
	store *badgerhold.Store
}

// Open opens (or creates) the backlog database in dir.
func Open(dir string) (*Backlog, error) {
	opts := badgerhold.DefaultOptions
	opts.Dir = dir
	opts.ValueDir = dir
	opts.Logger = nil

	s, err := badgerhold.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Backlog{store: s}, nil
}

// Close closes the underlying database.
func (b *Backlog) Close() error {
	return b.store.Close()
}

// Enqueue inserts items as PENDING. Items without an ID are rejected;
// id generation belongs to the importer.
func (b *Backlog) Enqueue(items []models.WorkItem) error {
	now := time.Now()
	for _, it := range items {
		if it.ID == "" {
			return errors.New("store: work item without id")
		}
		it.Status = models.StatusPending
		if it.CreatedAt.IsZero() {
			it.CreatedAt = now
		}
		it.UpdatedAt = now
		if err := b.store.Insert(it.ID, it); err != nil {
			return err
		}
	}
	return nil
}

// Claim atomically moves up to n of the oldest PENDING items to
// IN_PROGRESS under workerID and returns them in claim order. Two
// workers can never claim the same item: the whole move runs in one
// serializable badger transaction, retried on write conflict.
func (b *Backlog) Claim(workerID string, n int) ([]models.WorkItem, error) {
	var claimed []models.WorkItem

	err := b.withConflictRetry(func() error {
		claimed = nil
		return b.store.Badger().Update(func(txn *badger.Txn) error {
			var pending []models.WorkItem
			q := badgerhold.Where("Status").Eq(models.StatusPending).
				Index("Status").SortBy("CreatedAt", "ID").Limit(n)
			if err := b.store.TxFind(txn, &pending, q); err != nil {
				return err
			}

			now := time.Now()
			for _, it := range pending {
				it.Status = models.StatusInProgress
				it.ClaimedBy = workerID
				it.ClaimedAt = now
				it.Attempts++
				it.UpdatedAt = now
				if err := b.store.TxUpdate(txn, it.ID, it); err != nil {
					return err
				}
				claimed = append(claimed, it)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// Complete marks an item COMPLETED with its extraction result.
func (b *Backlog) Complete(id string, result *models.ExtractionResult) error {
	return b.mutate(id, func(it *models.WorkItem) {
		it.Status = models.StatusCompleted
		it.Result = result
		it.LastError = ""
	})
}

// Fail marks an item FAILED with a diagnostic message. The status is
// terminal but visible to later retry passes.
func (b *Backlog) Fail(id string, msg string) error {
	return b.mutate(id, func(it *models.WorkItem) {
		it.Status = models.StatusFailed
		it.LastError = msg
	})
}

// Release returns items to PENDING, undoing the claim. Used when the
// batch budget is exhausted or session establishment fails: the items
// were never really attempted, so the claim's attempt count is undone
// as well.
func (b *Backlog) Release(ids []string) error {
	for _, id := range ids {
		err := b.mutate(id, func(it *models.WorkItem) {
			it.Status = models.StatusPending
			it.ClaimedBy = ""
			it.ClaimedAt = time.Time{}
			if it.Attempts > 0 {
				it.Attempts--
			}
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Get fetches one item by id.
func (b *Backlog) Get(id string) (models.WorkItem, error) {
	var it models.WorkItem
	err := b.store.Get(id, &it)
	return it, err
}

// CountByStatus returns the backlog size per status.
func (b *Backlog) CountByStatus() (map[models.ItemStatus]int, error) {
	counts := make(map[models.ItemStatus]int)
	var items []models.WorkItem
	if err := b.store.Find(&items, nil); err != nil {
		return nil, err
	}
	for _, it := range items {
		counts[it.Status]++
	}
	return counts, nil
}

// ResetStale returns IN_PROGRESS items claimed longer than age ago to
// PENDING. Run at startup so a crashed worker's claims are recovered.
func (b *Backlog) ResetStale(age time.Duration) (int, error) {
	var inProgress []models.WorkItem
	q := badgerhold.Where("Status").Eq(models.StatusInProgress).Index("Status")
	if err := b.store.Find(&inProgress, q); err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-age)
	var stale []string
	for _, it := range inProgress {
		if it.ClaimedAt.Before(cutoff) {
			stale = append(stale, it.ID)
		}
	}
	if err := b.Release(stale); err != nil {
		return 0, err
	}
	return len(stale), nil
}

// mutate applies fn to the stored item under a conflict-retried
// transaction and stamps UpdatedAt.
func (b *Backlog) mutate(id string, fn func(*models.WorkItem)) error {
	return b.withConflictRetry(func() error {
		return b.store.Badger().Update(func(txn *badger.Txn) error {
			var it models.WorkItem
			if err := b.store.TxGet(txn, id, &it); err != nil {
				return err
			}
			fn(&it)
			it.UpdatedAt = time.Now()
			return b.store.TxUpdate(txn, id, it)
		})
	})
}

// withConflictRetry retries fn on badger's optimistic-concurrency
// conflict error. Anything else propagates immediately.
func (b *Backlog) withConflictRetry(fn func() error) error {
	var err error
	for i := 0; i < claimRetries; i++ {
		err = fn()
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		time.Sleep(time.Duration(i+1) * 2 * time.Millisecond)
	}
	return err
}
