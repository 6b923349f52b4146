package accounts_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/relabs-tech/popstats/core/accounts"
	"github.com/relabs-tech/popstats/core/csql"
)

func init() {
	accounts.Cost = bcrypt.MinCost
}

var userColumns = []string{"user_id", "email", "password_hash", "first_name", "last_name", "role",
	"is_active", "last_login", "created_at", "updated_at"}

func newStore(t *testing.T) (*accounts.Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return accounts.NewStore(csql.New(db, "test")), mock
}

func TestValidatePassword(t *testing.T) {
	assert.NoError(t, accounts.ValidatePassword("secret123"))
	assert.ErrorIs(t, accounts.ValidatePassword("short1"), accounts.ErrInvalidPassword)
	assert.ErrorIs(t, accounts.ValidatePassword("onlyletters"), accounts.ErrInvalidPassword)
	assert.ErrorIs(t, accounts.ValidatePassword("1234567890"), accounts.ErrInvalidPassword)
}

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := accounts.HashPassword("secret123")
	require.NoError(t, err)

	u := accounts.User{PasswordHash: hash}
	assert.True(t, u.CheckPassword("secret123"))
	assert.False(t, u.CheckPassword("secret124"))

	_, err = accounts.HashPassword("weak")
	assert.Error(t, err)
}

func TestProfile(t *testing.T) {
	u := accounts.User{FirstName: "Jane", LastName: "Doe", Email: "jane@example.com", Role: accounts.RoleAdmin}
	p := u.Profile()
	assert.Equal(t, "Jane Doe", p.FullName)
	assert.Equal(t, accounts.RoleAdmin, p.Role)
	assert.True(t, accounts.RoleModerator.Valid())
	assert.False(t, accounts.Role("root").Valid())
}

func TestCreate(t *testing.T) {
	store, mock := newStore(t)
	mock.ExpectExec(`INSERT INTO "test"."user"`).
		WithArgs(sqlmock.AnyArg(), "jane@example.com", "hash", "Jane", "Doe", "user", true, nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	u := &accounts.User{Email: " Jane@Example.com", PasswordHash: "hash", FirstName: "Jane", LastName: "Doe"}
	require.NoError(t, store.Create(context.Background(), u))
	assert.NotEqual(t, uuid.Nil, u.ID)
	assert.Equal(t, accounts.RoleUser, u.Role)
	assert.True(t, u.IsActive)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateEmailTaken(t *testing.T) {
	store, mock := newStore(t)
	mock.ExpectExec(`INSERT INTO`).WillReturnError(&pq.Error{Code: csql.UniqueViolation})

	err := store.Create(context.Background(), &accounts.User{Email: "jane@example.com"})
	assert.ErrorIs(t, err, accounts.ErrEmailTaken)
}

func TestByEmail(t *testing.T) {
	store, mock := newStore(t)
	id := uuid.New()
	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT .* FROM "test"."user" WHERE email=\$1`).
		WithArgs("jane@example.com").
		WillReturnRows(sqlmock.NewRows(userColumns).
			AddRow(id.String(), "jane@example.com", "hash", "Jane", "Doe", "moderator", true, nil, now, now))

	u, err := store.ByEmail(context.Background(), "JANE@example.com")
	require.NoError(t, err)
	assert.Equal(t, id, u.ID)
	assert.Equal(t, accounts.RoleModerator, u.Role)
	assert.Nil(t, u.LastLogin)
}

func TestByIDNotFound(t *testing.T) {
	store, mock := newStore(t)
	mock.ExpectQuery(`WHERE user_id=\$1`).WillReturnRows(sqlmock.NewRows(userColumns))

	_, err := store.ByID(context.Background(), uuid.New())
	assert.True(t, errors.Is(err, accounts.ErrNotFound))
}

func TestUpdates(t *testing.T) {
	store, mock := newStore(t)
	id := uuid.New()
	at := time.Now().UTC()

	mock.ExpectExec(`UPDATE "test"."user" SET email=\$2, first_name=\$3, last_name=\$4`).
		WithArgs(id, "new@example.com", "Jane", "Roe", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "test"."user" SET password_hash=\$2`).
		WithArgs(id, "newhash", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "test"."user" SET last_login=\$2`).
		WithArgs(id, at).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.UpdateProfile(context.Background(), &accounts.User{ID: id, Email: "New@example.com", FirstName: "Jane", LastName: "Roe"}))
	require.NoError(t, store.SetPassword(context.Background(), id, "newhash"))
	assert.ErrorIs(t, store.TouchLastLogin(context.Background(), id, at), accounts.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
