package journal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"perp_bot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(id string, net float64) *models.TerminalRecord {
	now := time.Now().UTC().Truncate(time.Second)
	return &models.TerminalRecord{
		ID:              id,
		Side:            models.SideLong,
		EntryTimestamp:  now.Add(-time.Minute),
		ExitTimestamp:   now,
		DurationSeconds: 60,
		EntryPrice:      100,
		ExitPrice:       110,
		SizeContracts:   0.5,
		MarginUSDT:      10,
		Leverage:        5,
		PnLGrossUSDT:    5,
		CommissionUSDT:  0.105,
		PnLNetUSDT:      net,
		ReinvestUSDT:    0.979,
		TransferUSDT:    3.916,
		APICloseOrderID: "ord-1",
		ExitReason:      models.ExitTrailingStop,
	}
}

func TestAppendAndReadAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "closed.jsonl")

	j, err := New(path)
	require.NoError(t, err)
	require.NoError(t, j.Append(record("a", 4.895)))
	require.NoError(t, j.Append(record("b", -1.2)))
	require.NoError(t, j.Close())

	recs, err := ReadAll(path)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "a", recs[0].ID)
	assert.Equal(t, models.ExitTrailingStop, recs[0].ExitReason)
	assert.InDelta(t, 4.895, recs[0].PnLNetUSDT, 1e-9)
	assert.InDelta(t, -1.2, recs[1].PnLNetUSDT, 1e-9)
}

func TestNewTruncatesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "closed.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("stale garbage\n"), 0o644))

	j, err := New(path)
	require.NoError(t, err)
	require.NoError(t, j.Append(record("fresh", 1)))
	require.NoError(t, j.Close())

	recs, err := ReadAll(path)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "fresh", recs[0].ID)
}

func TestAppendAfterCloseFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "closed.jsonl")
	j, err := New(path)
	require.NoError(t, err)
	require.NoError(t, j.Close())
	assert.Error(t, j.Append(record("late", 1)))
}

func TestReadAllReportsLineNumber(t *testing.T) {
	path := filepath.Join(t.TempDir(), "closed.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{\"id\":\"ok\"}\nnot json\n"), 0o644))

	_, err := ReadAll(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestSnapshotWriterResetAndCap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.jsonl")
	w := NewSnapshotWriter(path, 3)

	sum := &models.PositionSummary{
		Timestamp: time.Now(),
		Mode:      models.ModeLongShort,
		MaxSlots:  2,
		Sides:     map[models.Side]models.SideSummary{},
	}
	require.NoError(t, w.Reset(sum))
	for i := 0; i < 5; i++ {
		require.NoError(t, w.Append(sum))
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := 0
	for _, b := range data {
		if b == '\n' {
			lines++
		}
	}
	// Reset line plus appends, capped.
	assert.Equal(t, 3, lines)
}
