package domain

import (
	"fmt"
	"sync/atomic"
	"time"
)

// EventType enumerates the provider webhook events the ingestor recognizes.
// Unknown provider events map to EventUnhandled rather than a default
// fallthrough, so new provider event types fail loudly in tests instead of
// silently mutating nothing.
type EventType string

const (
	EventClick            EventType = "click"
	EventGroupUnsubscribe EventType = "group_unsubscribe"
	EventGroupResubscribe EventType = "group_resubscribe"
	EventUnsubscribe      EventType = "unsubscribe"
	EventSpamReport       EventType = "spamreport"
	EventUnhandled        EventType = "unhandled"
)

// EmailEvent is a single entry from a provider webhook batch. The shape is
// provider-defined; only the fields the ingestor reads are modeled.
type EmailEvent struct {
	Email       string   `json:"email"`
	SGMessageID string   `json:"sg_message_id"`
	Event       string   `json:"event"`
	ASMGroupID  GroupID  `json:"asm_group_id,omitempty"`
	Timestamp   int64    `json:"timestamp"`
	Category    []string `json:"category,omitempty"`
}

// Time returns the event timestamp as a time.Time.
func (e EmailEvent) Time() time.Time {
	return time.Unix(e.Timestamp, 0).UTC()
}

// IsTestTraffic reports whether any of the event's categories mark it as a
// test/sandbox send. Test traffic must never mutate subscriber state.
func (e EmailEvent) IsTestTraffic() bool {
	for _, c := range e.Category {
		if c == "test" || c == "sandbox" {
			return true
		}
	}
	return false
}

var lastClickMilli int64

// ClickKey synthesizes a unique EmailRecord key per invocation so that
// repeated clicks on the same message never overwrite each other. The key
// is the current wall clock in milliseconds, bumped past the previous key
// when two clicks land inside the same millisecond. Provider event
// timestamps are unusable here: they have second resolution, so a click
// burst would collapse onto one key.
func ClickKey() string {
	for {
		last := atomic.LoadInt64(&lastClickMilli)
		now := time.Now().UnixMilli()
		if now <= last {
			now = last + 1
		}
		if atomic.CompareAndSwapInt64(&lastClickMilli, last, now) {
			return fmt.Sprintf("click_%d", now)
		}
	}
}

// EmailRecord folds the events observed for one provider message id into a
// single per-user sub-document. Entries are keyed by event type (or a
// synthesized click key) and merged, never overwritten: applying a new event
// preserves existing keys for other event types.
type EmailRecord struct {
	UserID     string                `json:"-" db:"user_id"`
	MessageID  string                `json:"-" db:"message_id"`
	Events     map[string]EmailEvent `json:"events"`
	ClickCount int                   `json:"click_count,omitempty"`
}
