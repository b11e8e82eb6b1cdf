// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"encoding/json"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Events are published only after the unit of work
// that produced them has been committed.
const (
	// Points events
	EventPointsCredited EventType = "points.credited"
	EventPointsAdjusted EventType = "points.adjusted"

	// Rank events
	EventRankPromoted EventType = "rank.promoted"
	EventRankDemoted  EventType = "rank.demoted"
	EventRankAdjusted EventType = "rank.adjusted"

	// Streak events
	EventStreakUpdated    EventType = "streak.updated"
	EventImmunityConsumed EventType = "immunity.consumed"

	// Achievement events
	EventAchievementUnlocked EventType = "achievement.unlocked"

	// System events
	EventWeeklyCycleCompleted EventType = "weekly_cycle.completed"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event stamped with the given time.
func NewBaseEvent(eventType EventType, aggregateID string, at time.Time) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   at,
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Points Events
// ═══════════════════════════════════════════════════════════════════════════

// PointsCreditedEvent is emitted when a new item key is credited.
type PointsCreditedEvent struct {
	BaseEvent
	UserID       string `json:"user_id"`
	ItemKey      string `json:"item_key"`
	Amount       int64  `json:"amount"`
	TotalPoints  int64  `json:"total_points"`
	WeeklyPoints int64  `json:"weekly_points"`
}

// Payload implements Event interface.
func (e PointsCreditedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":       e.UserID,
		"item_key":      e.ItemKey,
		"amount":        e.Amount,
		"total_points":  e.TotalPoints,
		"weekly_points": e.WeeklyPoints,
	}
}

// NewPointsCreditedEvent creates a new PointsCreditedEvent.
func NewPointsCreditedEvent(userID, itemKey string, amount, total, weekly int64, at time.Time) PointsCreditedEvent {
	return PointsCreditedEvent{
		BaseEvent:    NewBaseEvent(EventPointsCredited, userID, at),
		UserID:       userID,
		ItemKey:      itemKey,
		Amount:       amount,
		TotalPoints:  total,
		WeeklyPoints: weekly,
	}
}

// PointsAdjustedEvent is emitted when an administrator overrides a balance.
type PointsAdjustedEvent struct {
	BaseEvent
	UserID   string `json:"user_id"`
	OldTotal int64  `json:"old_total"`
	NewTotal int64  `json:"new_total"`
	Note     string `json:"note"`
}

// Payload implements Event interface.
func (e PointsAdjustedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":   e.UserID,
		"old_total": e.OldTotal,
		"new_total": e.NewTotal,
		"note":      e.Note,
	}
}

// NewPointsAdjustedEvent creates a new PointsAdjustedEvent.
func NewPointsAdjustedEvent(userID string, oldTotal, newTotal int64, note string, at time.Time) PointsAdjustedEvent {
	return PointsAdjustedEvent{
		BaseEvent: NewBaseEvent(EventPointsAdjusted, userID, at),
		UserID:    userID,
		OldTotal:  oldTotal,
		NewTotal:  newTotal,
		Note:      note,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Rank Events
// ═══════════════════════════════════════════════════════════════════════════

// RankChangedEvent mirrors one rank history entry. This is the stream the
// notification subsystem consumes for "you were promoted/demoted" messages.
type RankChangedEvent struct {
	BaseEvent
	HistoryID string `json:"history_id"`
	UserID    string `json:"user_id"`
	OldTier   int    `json:"old_tier"`
	NewTier   int    `json:"new_tier"`
	Reason    string `json:"reason"`
}

// Payload implements Event interface.
func (e RankChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"history_id": e.HistoryID,
		"user_id":    e.UserID,
		"old_tier":   e.OldTier,
		"new_tier":   e.NewTier,
		"reason":     e.Reason,
	}
}

// NewRankChangedEvent creates a RankChangedEvent; the event type follows the reason.
func NewRankChangedEvent(eventType EventType, historyID, userID string, oldTier, newTier int, reason string, at time.Time) RankChangedEvent {
	return RankChangedEvent{
		BaseEvent: NewBaseEvent(eventType, userID, at),
		HistoryID: historyID,
		UserID:    userID,
		OldTier:   oldTier,
		NewTier:   newTier,
		Reason:    reason,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Streak Events
// ═══════════════════════════════════════════════════════════════════════════

// StreakUpdatedEvent is emitted whenever a touch mutates the streak.
type StreakUpdatedEvent struct {
	BaseEvent
	UserID       string `json:"user_id"`
	PreviousDays int    `json:"previous_days"`
	StreakDays   int    `json:"streak_days"`
	Outcome      string `json:"outcome"` // started, extended, preserved, reset
}

// Payload implements Event interface.
func (e StreakUpdatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":       e.UserID,
		"previous_days": e.PreviousDays,
		"streak_days":   e.StreakDays,
		"outcome":       e.Outcome,
	}
}

// NewStreakUpdatedEvent creates a new StreakUpdatedEvent.
func NewStreakUpdatedEvent(userID string, previous, current int, outcome string, at time.Time) StreakUpdatedEvent {
	return StreakUpdatedEvent{
		BaseEvent:    NewBaseEvent(EventStreakUpdated, userID, at),
		UserID:       userID,
		PreviousDays: previous,
		StreakDays:   current,
		Outcome:      outcome,
	}
}

// ImmunityConsumedEvent is emitted when an immunity cycle absorbs a streak
// gap or a weekly demotion.
type ImmunityConsumedEvent struct {
	BaseEvent
	UserID    string `json:"user_id"`
	Remaining int    `json:"remaining"`
	Cause     string `json:"cause"` // streak_gap, weekly_cycle
}

// Payload implements Event interface.
func (e ImmunityConsumedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":   e.UserID,
		"remaining": e.Remaining,
		"cause":     e.Cause,
	}
}

// NewImmunityConsumedEvent creates a new ImmunityConsumedEvent.
func NewImmunityConsumedEvent(userID string, remaining int, cause string, at time.Time) ImmunityConsumedEvent {
	return ImmunityConsumedEvent{
		BaseEvent: NewBaseEvent(EventImmunityConsumed, userID, at),
		UserID:    userID,
		Remaining: remaining,
		Cause:     cause,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Achievement Events
// ═══════════════════════════════════════════════════════════════════════════

// AchievementUnlockedEvent is emitted once per user and achievement code.
type AchievementUnlockedEvent struct {
	BaseEvent
	UserID       string `json:"user_id"`
	Code         string `json:"code"`
	PointsReward int64  `json:"points_reward"`
}

// Payload implements Event interface.
func (e AchievementUnlockedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":       e.UserID,
		"code":          e.Code,
		"points_reward": e.PointsReward,
	}
}

// NewAchievementUnlockedEvent creates a new AchievementUnlockedEvent.
func NewAchievementUnlockedEvent(userID, code string, reward int64, at time.Time) AchievementUnlockedEvent {
	return AchievementUnlockedEvent{
		BaseEvent:    NewBaseEvent(EventAchievementUnlocked, userID, at),
		UserID:       userID,
		Code:         code,
		PointsReward: reward,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// System Events
// ═══════════════════════════════════════════════════════════════════════════

// WeeklyCycleCompletedEvent summarizes one weekly cycle run.
type WeeklyCycleCompletedEvent struct {
	BaseEvent
	CycleKey  string `json:"cycle_key"`
	Processed int    `json:"processed"`
	Demoted   int    `json:"demoted"`
	Protected int    `json:"protected"`
	Skipped   int    `json:"skipped"`
	Failed    int    `json:"failed"`
}

// Payload implements Event interface.
func (e WeeklyCycleCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"cycle_key": e.CycleKey,
		"processed": e.Processed,
		"demoted":   e.Demoted,
		"protected": e.Protected,
		"skipped":   e.Skipped,
		"failed":    e.Failed,
	}
}

// NewWeeklyCycleCompletedEvent creates a new WeeklyCycleCompletedEvent.
func NewWeeklyCycleCompletedEvent(cycleKey string, processed, demoted, protected, skipped, failed int, at time.Time) WeeklyCycleCompletedEvent {
	return WeeklyCycleCompletedEvent{
		BaseEvent: NewBaseEvent(EventWeeklyCycleCompleted, cycleKey, at),
		CycleKey:  cycleKey,
		Processed: processed,
		Demoted:   demoted,
		Protected: protected,
		Skipped:   skipped,
		Failed:    failed,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport/storage.
type EventEnvelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEventEnvelope serializes an event's payload into an envelope.
func NewEventEnvelope(id string, event Event) (EventEnvelope, error) {
	payload, err := json.Marshal(event.Payload())
	if err != nil {
		return EventEnvelope{}, err
	}
	return EventEnvelope{
		ID:          id,
		Type:        event.EventType(),
		AggregateID: event.AggregateID(),
		Timestamp:   event.OccurredAt(),
		Version:     1,
		Payload:     payload,
	}, nil
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
