package achievement

import "context"

// Repository отдаёт каталог достижений. Каталог загружается при старте
// и неизменен в течение жизни процесса; пересев - отдельная
// административная операция.
type Repository interface {
	// List возвращает все определения.
	List(ctx context.Context) ([]Definition, error)

	// GetByCode возвращает определение по коду.
	// Возвращает ErrAchievementNotFound, если кода нет.
	GetByCode(ctx context.Context, code string) (Definition, error)
}
