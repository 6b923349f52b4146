package accounts

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/relabs-tech/popstats/core/csql"
)

const userColumns = `user_id, email, password_hash, first_name, last_name, role, is_active, last_login, created_at, updated_at`

// Store persists users in postgres
type Store struct {
	db    *csql.DB
	table string
}

// NewStore returns a user store for db. Call EnsureSchema before first use.
func NewStore(db *csql.DB) *Store {
	return &Store{db: db, table: db.Table("user")}
}

// EnsureSchema creates the user table if it does not exist yet
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE table IF NOT EXISTS `+s.table+`
(user_id uuid NOT NULL,
email varchar NOT NULL,
password_hash varchar NOT NULL,
first_name varchar(50) NOT NULL,
last_name varchar(50) NOT NULL,
role varchar NOT NULL DEFAULT 'user',
is_active boolean NOT NULL DEFAULT true,
last_login timestamptz,
created_at timestamptz NOT NULL,
updated_at timestamptz NOT NULL,
PRIMARY KEY(user_id),
UNIQUE(email)
);`)
	if err != nil {
		return fmt.Errorf("cannot create user table: %w", err)
	}
	return nil
}

// Create inserts a new user. ID, timestamps, role and the active flag are
// filled in when empty. It returns ErrEmailTaken if the email is in use.
func (s *Store) Create(ctx context.Context, u *User) error {
	now := time.Now().UTC()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.Role == "" {
		u.Role = RoleUser
	}
	u.Email = NormalizeEmail(u.Email)
	u.IsActive = true
	u.CreatedAt, u.UpdatedAt = now, now

	_, err := s.db.ExecContext(ctx, `INSERT INTO `+s.table+` (`+userColumns+`)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10);`,
		u.ID, u.Email, u.PasswordHash, u.FirstName, u.LastName, string(u.Role), u.IsActive, u.LastLogin, u.CreatedAt, u.UpdatedAt)
	if csql.IsUniqueViolation(err) {
		return ErrEmailTaken
	}
	return err
}

// ByEmail returns the user with email
func (s *Store) ByEmail(ctx context.Context, email string) (*User, error) {
	return s.queryOne(ctx, `SELECT `+userColumns+` FROM `+s.table+` WHERE email=$1;`, NormalizeEmail(email))
}

// ByID returns the user with id
func (s *Store) ByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.queryOne(ctx, `SELECT `+userColumns+` FROM `+s.table+` WHERE user_id=$1;`, id)
}

// UpdateProfile writes email, first and last name of u
func (s *Store) UpdateProfile(ctx context.Context, u *User) error {
	u.Email = NormalizeEmail(u.Email)
	u.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `UPDATE `+s.table+` SET email=$2, first_name=$3, last_name=$4, updated_at=$5 WHERE user_id=$1;`,
		u.ID, u.Email, u.FirstName, u.LastName, u.UpdatedAt)
	if csql.IsUniqueViolation(err) {
		return ErrEmailTaken
	}
	return expectOne(res, err)
}

// SetPassword replaces the password hash of the user with id
func (s *Store) SetPassword(ctx context.Context, id uuid.UUID, hash string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE `+s.table+` SET password_hash=$2, updated_at=$3 WHERE user_id=$1;`,
		id, hash, time.Now().UTC())
	return expectOne(res, err)
}

// TouchLastLogin sets the last login time of the user with id
func (s *Store) TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE `+s.table+` SET last_login=$2 WHERE user_id=$1;`, id, at)
	return expectOne(res, err)
}

func (s *Store) queryOne(ctx context.Context, query string, arg interface{}) (*User, error) {
	var (
		u    User
		role string
	)
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName,
		&role, &u.IsActive, &u.LastLogin, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Role = Role(role)
	return &u, nil
}

func expectOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	return nil
}
