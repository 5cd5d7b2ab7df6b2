package userstore

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/contact-sync/internal/domain"
)

func TestStoreSetContactIDConditionalWrite(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE sync_contacts").
		WithArgs("user-42", "sg-123").
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewStore(db)
	assert.NoError(t, store.SetContactID(context.Background(), "user-42", "sg-123"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreSetContactIDAlreadySet(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// Zero rows updated but the user exists: the id was already backfilled.
	mock.ExpectExec("UPDATE sync_contacts").
		WithArgs("user-42", "sg-other").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("user-42").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	store := NewStore(db)
	assert.NoError(t, store.SetContactID(context.Background(), "user-42", "sg-other"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreSetContactIDUnknownUser(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE sync_contacts").
		WithArgs("ghost", "sg-123").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	store := NewStore(db)
	assert.ErrorIs(t, store.SetContactID(context.Background(), "ghost", "sg-123"), ErrNotFound)
}

func TestStoreCounts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM sync_contacts WHERE opt_in_confirmed = TRUE").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(105))

	store := NewStore(db)
	n, err := store.CountOptIns(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(105), n)
}

func TestStoreCommitOpsSingleTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE sync_contacts SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO sync_email_records").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	now := time.Now()
	optIn := false
	ops := []Op{{
		UserID: "user-42",
		Update: &ContactUpdate{
			OptInConfirmed:      &optIn,
			ClearOptInTimestamp: true,
			OptOutTimestamp:     &now,
			GlobalUnsubscribe:   &domain.UnsubscribeRecord{UnsubscribeTimestamp: now},
			LastModified:        &now,
		},
		Record: &RecordMerge{
			MessageID: "msg-1",
			Key:       "unsubscribe",
			Event:     domain.EmailEvent{Event: "unsubscribe"},
		},
	}}

	store := NewStore(db)
	require.NoError(t, store.CommitOps(context.Background(), ops))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreCommitOpsRollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO sync_email_records").
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	store := NewStore(db)
	err = store.CommitOps(context.Background(), []Op{{
		UserID: "user-42",
		Record: &RecordMerge{MessageID: "msg-1", Key: "delivered", Event: domain.EmailEvent{Event: "delivered"}},
	}})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
