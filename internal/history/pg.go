package history

import (
	"context"
	"fmt"

	"perp_bot/internal/models"
	"perp_bot/pkg/db"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5"
)

// PG stores terminal records in Postgres, one row per closed position with
// the full record kept as a jsonb payload next to the queryable columns.
type PG struct {
	txManager db.TxManager
}

func NewPG(txManager db.TxManager) *PG {
	return &PG{txManager: txManager}
}

// Migrate creates the closed_positions table if missing.
func (p *PG) Migrate(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("PG.Migrate: %w", err)
		}
	}()

	_, err = p.txManager.Conn().Exec(ctx, `
		CREATE TABLE IF NOT EXISTS closed_positions (
			id          TEXT PRIMARY KEY,
			side        TEXT NOT NULL,
			exit_reason TEXT NOT NULL,
			pnl_net     DOUBLE PRECISION NOT NULL,
			closed_at   TIMESTAMPTZ NOT NULL,
			payload     JSONB NOT NULL
		)`)
	return err
}

func (p *PG) Save(ctx context.Context, rec *models.TerminalRecord) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("PG.Save: %w", err)
		}
	}()

	payload, err := sonic.Marshal(rec)
	if err != nil {
		return err
	}
	return p.txManager.Run(ctx, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO closed_positions (id, side, exit_reason, pnl_net, closed_at, payload)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO NOTHING`,
			rec.ID, string(rec.Side), string(rec.ExitReason), rec.PnLNetUSDT, rec.ExitTimestamp, payload)
		return err
	})
}

func (p *PG) Recent(ctx context.Context, limit int) (recs []models.TerminalRecord, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("PG.Recent: %w", err)
		}
	}()

	if limit <= 0 {
		limit = 100
	}
	rows, err := p.txManager.Conn().Query(ctx, `
		SELECT payload FROM closed_positions
		ORDER BY closed_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var rec models.TerminalRecord
		if err := sonic.Unmarshal(payload, &rec); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
