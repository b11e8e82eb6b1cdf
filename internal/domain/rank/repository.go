package rank

import (
	"context"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Эти интерфейсы определяют контракт для работы с хранилищем данных.
// Реализации находятся в infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// UserRankRepository хранит агрегат UserRankState вместе с его журналами:
// набором зачтённых ключей, полученными достижениями и историей рангов.
type UserRankRepository interface {
	// Get возвращает состояние пользователя.
	// Возвращает ErrUserRankNotFound, если пользователь ещё не был активен.
	Get(ctx context.Context, userID string) (*UserRankState, error)

	// Save атомарно записывает состояние и все несохранённые изменения
	// (state.Changes()). Проверяет state.Version: если запись изменилась
	// с момента чтения, возвращает ошибку с видом ErrOptimisticLock и не
	// записывает ничего. При успехе увеличивает state.Version и очищает
	// изменения.
	Save(ctx context.Context, state *UserRankState) error

	// ListUserIDs возвращает ID пользователей по возрастанию, начиная
	// после afterID (keyset-пагинация для недельного цикла).
	ListUserIDs(ctx context.Context, afterID string, limit int) ([]string, error)

	// Count возвращает количество пользователей с состоянием.
	Count(ctx context.Context) (int, error)
}

// RankHistoryRepository читает неизменяемый журнал переходов.
// Записи добавляются только через UserRankRepository.Save.
type RankHistoryRepository interface {
	// ListByUser возвращает историю пользователя, новые записи первыми.
	ListByUser(ctx context.Context, userID string, limit int) ([]RankHistoryEntry, error)

	// ListSince возвращает записи всех пользователей начиная с момента since
	// в порядке возрастания времени (поток для уведомлений).
	ListSince(ctx context.Context, since time.Time, limit int) ([]RankHistoryEntry, error)
}

// CycleLock обеспечивает взаимное исключение недельного цикла.
type CycleLock interface {
	// Acquire захватывает блокировку периода. Возвращает ErrCycleLocked,
	// если цикл уже выполняется в другом процессе.
	Acquire(ctx context.Context, cycleKey string, ttl time.Duration) (release func(), err error)
}

// CycleLedger хранит отметки о завершённых периодах.
type CycleLedger interface {
	// IsCompleted проверяет отметку о завершении периода.
	IsCompleted(ctx context.Context, cycleKey string) (bool, error)

	// MarkCompleted ставит отметку о завершении периода.
	MarkCompleted(ctx context.Context, cycleKey string, at time.Time) error
}
