// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"strings"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// UserID identifies a learner. The engine does not own users; ids come
// from the platform's account subsystem and are treated as opaque strings.
type UserID string

// String returns the string representation.
func (u UserID) String() string {
	return string(u)
}

// IsEmpty checks if the ID is empty.
func (u UserID) IsEmpty() bool {
	return u == ""
}

// NewUserID trims and validates an id.
func NewUserID(id string) (UserID, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", ErrInvalidUserID
	}
	return UserID(id), nil
}

// ItemKey identifies one creditable unit (a chapter, a quiz, an achievement
// reward) within a user's ledger.
type ItemKey string

// String returns the string representation.
func (k ItemKey) String() string {
	return string(k)
}

// AchievementItemKey is the synthetic key under which an achievement reward
// is credited, so the ledger itself forbids paying a reward twice.
func AchievementItemKey(code string) ItemKey {
	return ItemKey("achievement:" + code)
}

// IsAchievementReward reports whether the key belongs to an achievement reward.
func (k ItemKey) IsAchievementReward() bool {
	return strings.HasPrefix(string(k), "achievement:")
}

// NewItemKey trims and validates a key.
func NewItemKey(key string) (ItemKey, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", ErrInvalidItemKey
	}
	return ItemKey(key), nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Pagination Value Object
// ═══════════════════════════════════════════════════════════════════════════

// Pagination represents pagination parameters.
type Pagination struct {
	Page     int
	PageSize int
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Offset returns the offset for database queries.
func (p Pagination) Offset() int {
	if p.Page <= 0 {
		return 0
	}
	return (p.Page - 1) * p.Limit()
}

// Limit returns the limit for database queries.
func (p Pagination) Limit() int {
	if p.PageSize <= 0 {
		return DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		return MaxPageSize
	}
	return p.PageSize
}

// TotalPages returns how many pages total items span (at least 1).
func (p Pagination) TotalPages(total int) int {
	limit := p.Limit()
	if total <= 0 {
		return 1
	}
	return (total + limit - 1) / limit
}

// NewPagination creates a new Pagination with defaults.
func NewPagination(page, pageSize int) Pagination {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return Pagination{Page: page, PageSize: pageSize}
}

// DefaultPagination returns default pagination.
func DefaultPagination() Pagination {
	return NewPagination(1, DefaultPageSize)
}
