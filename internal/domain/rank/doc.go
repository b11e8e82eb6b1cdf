// Package rank содержит доменную модель рангов платформы.
//
// Пакет определяет:
//
//   - Таблицу рангов (TierTable): упорядоченный список RankTier с
//     непрерывными диапазонами очков [MinPoints, MaxPoints)
//   - Состояние пользователя (UserRankState): баланс очков, недельные очки,
//     текущий ранг, серия дней, иммунитет, набор зачтённых ключей
//   - Машину состояний (StateMachine): мгновенное повышение и
//     понижение только в недельном цикле
//   - Историю рангов (RankHistoryEntry): неизменяемый журнал переходов
//   - Интерфейсы репозиториев: UserRankRepository, RankHistoryRepository,
//     CycleGuard
//
// # Архитектурные принципы
//
//  1. Нулевые внешние зависимости - только стандартная библиотека Go
//  2. Dependency Inversion - интерфейсы реализуются в infrastructure
//  3. Rich Domain Model - правила зачисления, серий и переходов живут в сущности
//
// # Пример
//
//	table, err := NewTierTable(tiers)
//	state := NewUserRankState("u-1", 2, now)
//	if state.Credit("chapter:go-101:ch1", 500, now) {
//	    NewStateMachine(table).Evaluate(state, now)
//	}
//
// Понижение ранга никогда не происходит при начислении очков: totalPoints
// монотонен, поэтому понижение управляется только недельной активностью
// (см. StateMachine.ApplyWeeklyCycle).
package rank
