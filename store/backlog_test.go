package store

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/adscope/models"
)

func openTestBacklog(t *testing.T) *Backlog {
	t.Helper()
	b, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func seedItems(t *testing.T, b *Backlog, n int) []string {
	t.Helper()
	items := make([]models.WorkItem, n)
	ids := make([]string, n)
	base := time.Now().Add(-time.Minute)
	for i := range items {
		id := fmt.Sprintf("item-%03d", i)
		items[i] = models.WorkItem{
			ID:          id,
			CreativeRef: fmt.Sprintf("creative-%03d", i),
			CreatedAt:   base.Add(time.Duration(i) * time.Millisecond),
		}
		ids[i] = id
	}
	require.NoError(t, b.Enqueue(items))
	return ids
}

func TestClaim_MovesOldestPendingToInProgress(t *testing.T) {
	b := openTestBacklog(t)
	seedItems(t, b, 5)

	claimed, err := b.Claim("w1", 3)
	require.NoError(t, err)
	require.Len(t, claimed, 3)

	for _, it := range claimed {
		assert.Equal(t, models.StatusInProgress, it.Status)
		assert.Equal(t, "w1", it.ClaimedBy)
		assert.Equal(t, 1, it.Attempts)
	}

	counts, err := b.CountByStatus()
	require.NoError(t, err)
	assert.Equal(t, 2, counts[models.StatusPending])
	assert.Equal(t, 3, counts[models.StatusInProgress])
}

func TestClaim_EmptyBacklogReturnsNothing(t *testing.T) {
	b := openTestBacklog(t)

	claimed, err := b.Claim("w1", 4)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestClaim_ConcurrentWorkersNeverShareAnItem(t *testing.T) {
	b := openTestBacklog(t)
	ids := seedItems(t, b, 40)

	const workers = 8
	var mu sync.Mutex
	claimsByItem := make(map[string][]string)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(workerID string) {
			defer wg.Done()
			for {
				batch, err := b.Claim(workerID, 3)
				if err != nil {
					t.Errorf("claim failed: %v", err)
					return
				}
				if len(batch) == 0 {
					return
				}
				mu.Lock()
				for _, it := range batch {
					claimsByItem[it.ID] = append(claimsByItem[it.ID], workerID)
				}
				mu.Unlock()
			}
		}(fmt.Sprintf("w%d", w))
	}
	wg.Wait()

	// Every item claimed by exactly one worker; the union of claims
	// equals the initial pending set.
	require.Len(t, claimsByItem, len(ids))
	for id, claimers := range claimsByItem {
		assert.Len(t, claimers, 1, "item %s claimed by %v", id, claimers)
	}

	counts, err := b.CountByStatus()
	require.NoError(t, err)
	assert.Equal(t, len(ids), counts[models.StatusInProgress])
	assert.Zero(t, counts[models.StatusPending])
}

func TestCompleteAndFail_AreTerminal(t *testing.T) {
	b := openTestBacklog(t)
	seedItems(t, b, 2)
	claimed, err := b.Claim("w1", 2)
	require.NoError(t, err)
	require.Len(t, claimed, 2)

	result := &models.ExtractionResult{VideoRefs: []string{"1234567890"}}
	require.NoError(t, b.Complete(claimed[0].ID, result))
	require.NoError(t, b.Fail(claimed[1].ID, "AMBIGUOUS_IDENTITY: frequency tie"))

	done, err := b.Get(claimed[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, done.Status)
	require.NotNil(t, done.Result)
	assert.Equal(t, []string{"1234567890"}, done.Result.VideoRefs)

	failed, err := b.Get(claimed[1].ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, failed.Status)
	assert.Contains(t, failed.LastError, "AMBIGUOUS_IDENTITY")
}

func TestRelease_ReturnsItemsToPendingAndUndoesAttempt(t *testing.T) {
	b := openTestBacklog(t)
	seedItems(t, b, 3)
	claimed, err := b.Claim("w1", 3)
	require.NoError(t, err)

	ids := []string{claimed[1].ID, claimed[2].ID}
	require.NoError(t, b.Release(ids))

	for _, id := range ids {
		it, err := b.Get(id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusPending, it.Status)
		assert.Empty(t, it.ClaimedBy)
		assert.Zero(t, it.Attempts)
	}

	// Released items are claimable again.
	again, err := b.Claim("w2", 5)
	require.NoError(t, err)
	assert.Len(t, again, 2)
}

func TestResetStale_RecoversOldClaims(t *testing.T) {
	b := openTestBacklog(t)
	seedItems(t, b, 2)
	claimed, err := b.Claim("w1", 2)
	require.NoError(t, err)
	require.Len(t, claimed, 2)

	// Nothing is stale yet.
	n, err := b.ResetStale(time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)

	// With a zero age everything IN_PROGRESS is stale.
	n, err = b.ResetStale(0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	counts, err := b.CountByStatus()
	require.NoError(t, err)
	assert.Equal(t, 2, counts[models.StatusPending])
}

func TestImportCSV(t *testing.T) {
	b := openTestBacklog(t)

	csvData := strings.Join([]string{
		"creative_ref,advertiser_ref",
		"cr-001,adv-1",
		"cr-002,adv-2",
		",adv-3",
		"cr-004,",
	}, "\n")

	n, err := b.ImportCSV(strings.NewReader(csvData))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	counts, err := b.CountByStatus()
	require.NoError(t, err)
	assert.Equal(t, 3, counts[models.StatusPending])
}

func TestImportCSV_MissingColumn(t *testing.T) {
	b := openTestBacklog(t)

	_, err := b.ImportCSV(strings.NewReader("foo,bar\n1,2\n"))
	assert.Error(t, err)
}
