package leaderboard

import (
	"context"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// PORTS
// ══════════════════════════════════════════════════════════════════════════════

// StandingsSource читает срезы состояния всех пользователей из хранилища.
// Реализация находится в infrastructure слое (PostgreSQL, memory).
type StandingsSource interface {
	// Standings возвращает срезы всех пользователей с состоянием.
	Standings(ctx context.Context) ([]Standing, error)
}

// StandingsCache хранит последний снапшот. Данные могут быть устаревшими,
// точность в реальном времени не требуется.
type StandingsCache interface {
	// Get возвращает снапшот. (nil, nil), если кеш пуст.
	Get(ctx context.Context) (*Snapshot, error)

	// Set сохраняет снапшот на ttl.
	Set(ctx context.Context, snapshot *Snapshot, ttl time.Duration) error

	// Invalidate сбрасывает кеш.
	Invalidate(ctx context.Context) error
}
