package userstore

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ignite/contact-sync/internal/domain"
)

// Memory is an in-memory Repository used in tests and local development.
// It applies the same update semantics as the Postgres store.
type Memory struct {
	mu       sync.RWMutex
	contacts map[string]*domain.Contact
	records  map[string]map[string]*domain.EmailRecord // userID → messageID → record
	// CommitLimit, when >0, fails any CommitOps call above it. Mirrors the
	// store's hard per-transaction ceiling for batch tests.
	CommitLimit int
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		contacts: make(map[string]*domain.Contact),
		records:  make(map[string]map[string]*domain.EmailRecord),
	}
}

// Put inserts or replaces a contact document.
func (m *Memory) Put(c *domain.Contact) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.GroupUnsubscribes == nil {
		c.GroupUnsubscribes = make(map[domain.GroupID]*domain.UnsubscribeRecord)
	}
	m.contacts[c.ID] = c
}

// Record returns the EmailRecord for a user/message pair, or nil.
func (m *Memory) Record(userID, messageID string) *domain.EmailRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.records[userID][messageID]
}

func (m *Memory) GetByID(_ context.Context, userID string) (*domain.Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contacts[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *Memory) GetByEmail(_ context.Context, email string) (*domain.Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.contacts {
		if strings.EqualFold(c.Email, email) {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) SetContactID(_ context.Context, userID, contactID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts[userID]
	if !ok {
		return ErrNotFound
	}
	if c.ContactID != "" {
		return nil
	}
	now := time.Now()
	c.ContactID = contactID
	if c.ContactCreatedAt == nil {
		c.ContactCreatedAt = &now
	}
	c.LastModified = now
	return nil
}

func (m *Memory) RemoveLists(_ context.Context, userID string, lists []domain.ListID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts[userID]
	if !ok {
		return ErrNotFound
	}
	c.ContactLists = removeLists(c.ContactLists, lists)
	c.LastModified = time.Now()
	return nil
}

func (m *Memory) CountOptIns(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, c := range m.contacts {
		if c.OptInConfirmed {
			n++
		}
	}
	return n, nil
}

func (m *Memory) CountOptOuts(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, c := range m.contacts {
		if !c.OptInConfirmed && c.OptOutTimestamp != nil {
			n++
		}
	}
	return n, nil
}

func (m *Memory) CommitOps(_ context.Context, ops []Op) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CommitLimit > 0 {
		weight := 0
		for _, op := range ops {
			weight += op.Weight()
		}
		if weight > m.CommitLimit {
			return ErrBatchTooLarge
		}
	}

	for _, op := range ops {
		c, ok := m.contacts[op.UserID]
		if !ok {
			return ErrNotFound
		}
		if !op.Update.IsZero() {
			applyUpdateInMemory(c, op.Update)
		}
		if op.Record != nil {
			m.mergeRecordInMemory(op.UserID, op.Record)
		}
	}
	return nil
}

func applyUpdateInMemory(c *domain.Contact, u *ContactUpdate) {
	if u.OptInConfirmed != nil {
		c.OptInConfirmed = *u.OptInConfirmed
	}
	if u.ClearOptInTimestamp {
		c.OptInTimestamp = nil
	} else if u.OptInTimestamp != nil {
		t := *u.OptInTimestamp
		c.OptInTimestamp = &t
	}
	if u.OptOutTimestamp != nil {
		t := *u.OptOutTimestamp
		c.OptOutTimestamp = &t
	}

	if u.ClearGlobalUnsubscribe {
		c.GlobalUnsubscribe = nil
	} else if u.GlobalUnsubscribe != nil {
		rec := *u.GlobalUnsubscribe
		c.GlobalUnsubscribe = &rec
	}

	if c.GroupUnsubscribes == nil {
		c.GroupUnsubscribes = make(map[domain.GroupID]*domain.UnsubscribeRecord)
	}
	for gid, rec := range u.SetGroupUnsubscribes {
		r := *rec
		c.GroupUnsubscribes[gid] = &r
	}
	for _, gid := range u.ClearGroupUnsubscribes {
		delete(c.GroupUnsubscribes, gid)
	}

	for _, l := range u.AddLists {
		if !c.HasList(l) {
			c.ContactLists = append(c.ContactLists, l)
		}
	}
	c.ContactLists = removeLists(c.ContactLists, u.RemoveLists)

	if u.LastModified != nil {
		c.LastModified = *u.LastModified
	}
}

func (m *Memory) mergeRecordInMemory(userID string, merge *RecordMerge) {
	byMsg, ok := m.records[userID]
	if !ok {
		byMsg = make(map[string]*domain.EmailRecord)
		m.records[userID] = byMsg
	}
	rec, ok := byMsg[merge.MessageID]
	if !ok {
		rec = &domain.EmailRecord{
			UserID:    userID,
			MessageID: merge.MessageID,
			Events:    make(map[string]domain.EmailEvent),
		}
		byMsg[merge.MessageID] = rec
	}
	rec.Events[merge.Key] = merge.Event
	rec.ClickCount += merge.ClickDelta
}

func removeLists(lists []domain.ListID, remove []domain.ListID) []domain.ListID {
	if len(remove) == 0 {
		return lists
	}
	out := lists[:0]
	for _, l := range lists {
		keep := true
		for _, r := range remove {
			if l == r {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, l)
		}
	}
	return out
}
