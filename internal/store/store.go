package store

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"reminders/internal/domain"
)

// Store is the durable message collection. Each call is atomic on its own;
// callers get no atomicity across calls.
type Store interface {
	Insert(ctx context.Context, m domain.Message) (string, error)
	Get(ctx context.Context, id string) (domain.Message, error)
	List(ctx context.Context) ([]domain.Message, error)
	FindInWindow(ctx context.Context, start, end time.Time) ([]domain.Message, error)
	DeleteWhere(ctx context.Context, f Filter) (int, error)
	UpdateWhere(ctx context.Context, f Filter, p Patch) (int, error)
	DeleteByID(ctx context.Context, id string) error
	UpdateByID(ctx context.Context, id string, p Patch) error
	Clear(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*RedisStore)(nil)
)

// Filter selects messages. A zero Filter matches everything; From and To
// are inclusive.
type Filter struct {
	From         *time.Time
	To           *time.Time
	Types        []domain.Type
	ExcludeTypes []domain.Type
}

func (f Filter) Match(m domain.Message) bool {
	ms := toMillis(m.ScheduledTime)
	if f.From != nil && ms < toMillis(*f.From) {
		return false
	}
	if f.To != nil && ms > toMillis(*f.To) {
		return false
	}
	if len(f.Types) > 0 && !containsType(f.Types, m.Type) {
		return false
	}
	return !containsType(f.ExcludeTypes, m.Type)
}

// Patch rewrites the non-nil fields of a message.
type Patch struct {
	Text          *string
	ScheduledTime *time.Time
	Type          *domain.Type
}

func (p Patch) Empty() bool {
	return p.Text == nil && p.ScheduledTime == nil && p.Type == nil
}

func (p Patch) Apply(m *domain.Message) {
	if p.Text != nil {
		m.Text = *p.Text
	}
	if p.ScheduledTime != nil {
		m.ScheduledTime = p.ScheduledTime.UTC()
	}
	if p.Type != nil {
		m.Type = *p.Type
	}
}

func (p Patch) validate() error {
	if p.Text != nil && *p.Text == "" {
		return &domain.ValidationError{Field: "text", Reason: "is required"}
	}
	if p.ScheduledTime != nil && p.ScheduledTime.IsZero() {
		return &domain.ValidationError{Field: "scheduled_time", Reason: "is required"}
	}
	if p.Type != nil {
		if _, err := domain.ParseType(string(*p.Type)); err != nil {
			return err
		}
	}
	return nil
}

// Replace builds a patch that rewrites every field of m.
func Replace(m domain.Message) Patch {
	text, at, typ := m.Text, m.ScheduledTime, m.Type
	return Patch{Text: &text, ScheduledTime: &at, Type: &typ}
}

func newID() string { return "msg_" + uuid.NewString() }

// Timestamps are persisted as UTC unix milliseconds so range queries compare numbers.
func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func containsType(ts []domain.Type, t domain.Type) bool {
	for _, x := range ts {
		if x == t {
			return true
		}
	}
	return false
}

func typeStrings(ts []domain.Type) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = string(t)
	}
	return out
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
