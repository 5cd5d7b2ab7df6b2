package userstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"github.com/ignite/contact-sync/internal/domain"
)

// Store implements Repository against PostgreSQL. Contact documents live in
// sync_contacts; the EmailRecord sub-collection lives in sync_email_records
// keyed by (user_id, message_id).
type Store struct {
	db *sql.DB
}

// NewStore creates a Postgres-backed user store.
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

const contactColumns = `id, email, first_name, last_name, email_verified,
	opt_in_confirmed, opt_in_at, opt_out_at,
	global_unsubscribe, group_unsubscribes,
	sendgrid_contact_id, sendgrid_lists, sendgrid_contact_created_at,
	last_modified`

func (s *Store) GetByID(ctx context.Context, userID string) (*domain.Contact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+contactColumns+` FROM sync_contacts WHERE id = $1`, userID)
	return scanContact(row)
}

func (s *Store) GetByEmail(ctx context.Context, email string) (*domain.Contact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+contactColumns+` FROM sync_contacts WHERE lower(email) = lower($1)`, email)
	return scanContact(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContact(row rowScanner) (*domain.Contact, error) {
	var (
		c            domain.Contact
		contactID    sql.NullString
		globalJSON   []byte
		groupsJSON   []byte
		lists        []string
		optInAt      sql.NullTime
		optOutAt     sql.NullTime
		sgCreatedAt  sql.NullTime
	)

	err := row.Scan(&c.ID, &c.Email, &c.FirstName, &c.LastName, &c.EmailVerified,
		&c.OptInConfirmed, &optInAt, &optOutAt,
		&globalJSON, &groupsJSON,
		&contactID, pq.Array(&lists), &sgCreatedAt,
		&c.LastModified)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("userstore: scan contact: %w", err)
	}

	if optInAt.Valid {
		c.OptInTimestamp = &optInAt.Time
	}
	if optOutAt.Valid {
		c.OptOutTimestamp = &optOutAt.Time
	}
	if sgCreatedAt.Valid {
		c.ContactCreatedAt = &sgCreatedAt.Time
	}
	c.ContactID = contactID.String

	if len(globalJSON) > 0 {
		var rec domain.UnsubscribeRecord
		if err := json.Unmarshal(globalJSON, &rec); err != nil {
			return nil, fmt.Errorf("userstore: decode global unsubscribe: %w", err)
		}
		c.GlobalUnsubscribe = &rec
	}

	c.GroupUnsubscribes = make(map[domain.GroupID]*domain.UnsubscribeRecord)
	if len(groupsJSON) > 0 {
		byKey := make(map[string]*domain.UnsubscribeRecord)
		if err := json.Unmarshal(groupsJSON, &byKey); err != nil {
			return nil, fmt.Errorf("userstore: decode group unsubscribes: %w", err)
		}
		for k, rec := range byKey {
			gid, err := strconv.Atoi(k)
			if err != nil {
				return nil, fmt.Errorf("userstore: bad group key %q: %w", k, err)
			}
			c.GroupUnsubscribes[domain.GroupID(gid)] = rec
		}
	}

	c.ContactLists = make([]domain.ListID, 0, len(lists))
	for _, l := range lists {
		c.ContactLists = append(c.ContactLists, domain.ListID(l))
	}

	return &c, nil
}

// SetContactID writes the provider id only when none is set. Redelivered
// backfills therefore converge on the first-written id.
func (s *Store) SetContactID(ctx context.Context, userID, contactID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_contacts
		SET sendgrid_contact_id = $2,
		    sendgrid_contact_created_at = COALESCE(sendgrid_contact_created_at, NOW()),
		    last_modified = NOW()
		WHERE id = $1
		  AND (sendgrid_contact_id IS NULL OR sendgrid_contact_id = '')
	`, userID, contactID)
	if err != nil {
		return fmt.Errorf("userstore: set contact id: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Either the id was already set (fine) or the user is gone.
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM sync_contacts WHERE id = $1)`, userID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("userstore: set contact id: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
	}
	return nil
}

func (s *Store) RemoveLists(ctx context.Context, userID string, lists []domain.ListID) error {
	if len(lists) == 0 {
		return nil
	}
	removed := make([]string, len(lists))
	for i, l := range lists {
		removed[i] = string(l)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_contacts
		SET sendgrid_lists = COALESCE(
		        (SELECT ARRAY(SELECT e FROM unnest(sendgrid_lists) e WHERE e <> ALL($2::text[]))),
		        '{}'),
		    last_modified = NOW()
		WHERE id = $1
	`, userID, pq.Array(removed))
	if err != nil {
		return fmt.Errorf("userstore: remove lists: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) CountOptIns(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_contacts WHERE opt_in_confirmed = TRUE`,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("userstore: count opt-ins: %w", err)
	}
	return n, nil
}

func (s *Store) CountOptOuts(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_contacts
		 WHERE opt_in_confirmed = FALSE AND opt_out_at IS NOT NULL`,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("userstore: count opt-outs: %w", err)
	}
	return n, nil
}

// CommitOps applies a chunk of batched operations in a single transaction.
func (s *Store) CommitOps(ctx context.Context, ops []Op) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("userstore: begin: %w", err)
	}
	defer tx.Rollback()

	for _, op := range ops {
		if !op.Update.IsZero() {
			if err := applyUpdate(ctx, tx, op.UserID, op.Update); err != nil {
				return err
			}
		}
		if op.Record != nil {
			if err := mergeRecord(ctx, tx, op.UserID, op.Record); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("userstore: commit: %w", err)
	}
	return nil
}

// applyUpdate builds one UPDATE touching exactly the fields the transition
// set. Field-scoped writes are what let sync requests and webhook events
// interleave without locking.
func applyUpdate(ctx context.Context, tx *sql.Tx, userID string, u *ContactUpdate) error {
	var (
		set  []string
		args []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if u.OptInConfirmed != nil {
		set = append(set, "opt_in_confirmed = "+arg(*u.OptInConfirmed))
	}
	if u.ClearOptInTimestamp {
		set = append(set, "opt_in_at = NULL")
	} else if u.OptInTimestamp != nil {
		set = append(set, "opt_in_at = "+arg(*u.OptInTimestamp))
	}
	if u.OptOutTimestamp != nil {
		set = append(set, "opt_out_at = "+arg(*u.OptOutTimestamp))
	}

	if u.ClearGlobalUnsubscribe {
		set = append(set, "global_unsubscribe = NULL")
	} else if u.GlobalUnsubscribe != nil {
		data, err := json.Marshal(u.GlobalUnsubscribe)
		if err != nil {
			return fmt.Errorf("userstore: encode global unsubscribe: %w", err)
		}
		set = append(set, "global_unsubscribe = "+arg(data)+"::jsonb")
	}

	if len(u.SetGroupUnsubscribes) > 0 || len(u.ClearGroupUnsubscribes) > 0 {
		expr := "group_unsubscribes"
		if len(u.SetGroupUnsubscribes) > 0 {
			byKey := make(map[string]*domain.UnsubscribeRecord, len(u.SetGroupUnsubscribes))
			for gid, rec := range u.SetGroupUnsubscribes {
				byKey[strconv.Itoa(int(gid))] = rec
			}
			data, err := json.Marshal(byKey)
			if err != nil {
				return fmt.Errorf("userstore: encode group unsubscribes: %w", err)
			}
			expr = "(" + expr + " || " + arg(data) + "::jsonb)"
		}
		for _, gid := range u.ClearGroupUnsubscribes {
			expr = "(" + expr + " - " + arg(strconv.Itoa(int(gid))) + "::text)"
		}
		set = append(set, "group_unsubscribes = "+expr)
	}

	if len(u.AddLists) > 0 || len(u.RemoveLists) > 0 {
		expr := "sendgrid_lists"
		for _, l := range u.AddLists {
			p := arg(string(l))
			expr = "(CASE WHEN " + p + " = ANY(" + expr + ") THEN " + expr +
				" ELSE array_append(" + expr + ", " + p + ") END)"
		}
		for _, l := range u.RemoveLists {
			expr = "array_remove(" + expr + ", " + arg(string(l)) + ")"
		}
		set = append(set, "sendgrid_lists = "+expr)
	}

	if u.LastModified != nil {
		set = append(set, "last_modified = "+arg(*u.LastModified))
	}

	if len(set) == 0 {
		return nil
	}

	query := "UPDATE sync_contacts SET " + strings.Join(set, ", ") +
		" WHERE id = " + arg(userID)
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("userstore: apply update for %s: %w", userID, err)
	}
	return nil
}

// mergeRecord upserts one event into the per-message EmailRecord. The jsonb
// concatenation merges by key, so existing entries for other event types
// survive; click counters accumulate.
func mergeRecord(ctx context.Context, tx *sql.Tx, userID string, m *RecordMerge) error {
	eventJSON, err := json.Marshal(m.Event)
	if err != nil {
		return fmt.Errorf("userstore: encode event: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sync_email_records (user_id, message_id, events, click_count)
		VALUES ($1, $2, jsonb_build_object($3::text, $4::jsonb), $5)
		ON CONFLICT (user_id, message_id) DO UPDATE SET
			events = sync_email_records.events || EXCLUDED.events,
			click_count = sync_email_records.click_count + EXCLUDED.click_count
	`, userID, m.MessageID, m.Key, eventJSON, m.ClickDelta)
	if err != nil {
		return fmt.Errorf("userstore: merge record %s/%s: %w", userID, m.MessageID, err)
	}
	return nil
}
