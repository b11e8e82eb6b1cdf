package postgres

import (
	"context"
	"fmt"
	"time"
)

// CycleLedger implements rank.CycleLedger on weekly_cycle_runs.
type CycleLedger struct {
	conn *Connection
}

// NewCycleLedger creates a new CycleLedger.
func NewCycleLedger(conn *Connection) *CycleLedger {
	return &CycleLedger{conn: conn}
}

// IsCompleted reports whether the cycle has a completion marker.
func (l *CycleLedger) IsCompleted(ctx context.Context, cycleKey string) (bool, error) {
	var exists bool
	err := l.conn.Pool().QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM weekly_cycle_runs WHERE cycle_key = $1)`, cycleKey).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check cycle %s: %w", cycleKey, err)
	}
	return exists, nil
}

// MarkCompleted stores the marker. Marking twice keeps the first time.
func (l *CycleLedger) MarkCompleted(ctx context.Context, cycleKey string, at time.Time) error {
	_, err := l.conn.Pool().Exec(ctx, `
		INSERT INTO weekly_cycle_runs (cycle_key, completed_at)
		VALUES ($1, $2)
		ON CONFLICT (cycle_key) DO NOTHING`, cycleKey, at)
	if err != nil {
		return fmt.Errorf("mark cycle %s: %w", cycleKey, err)
	}
	return nil
}
