package history

import (
	"context"
	"sync"

	"perp_bot/internal/models"
)

// Store persists terminal position records. The engine works without one;
// a nil store means the JSON-Lines journal is the only sink.
type Store interface {
	Save(ctx context.Context, rec *models.TerminalRecord) error
	Recent(ctx context.Context, limit int) ([]models.TerminalRecord, error)
}

// Memory keeps records in-process. Used when no DSN is configured and in
// tests.
type Memory struct {
	mu   sync.RWMutex
	recs []models.TerminalRecord
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Save(ctx context.Context, rec *models.TerminalRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, *rec)
	return nil
}

func (m *Memory) Recent(ctx context.Context, limit int) ([]models.TerminalRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 || limit > len(m.recs) {
		limit = len(m.recs)
	}
	out := make([]models.TerminalRecord, limit)
	copy(out, m.recs[len(m.recs)-limit:])
	return out, nil
}
