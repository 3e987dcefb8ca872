package identity

import (
	"context"
	"database/sql"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// ActivateUserSQL flips an invited account to active: credential set and email
// verified in one statement. RETURNING lets callers observe the final row.
var ActivateUserSQL = `UPDATE users
SET
	password_hash = ?,
	email_verified = TRUE,
	updated_at = ?
WHERE
	id = ?
RETURNING *;`

// Users is the user storage surface the identity flows depend on.
type Users interface {
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByIDTx(ctx context.Context, tx bun.IDB, id int64) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*User, error)
	Create(ctx context.Context, user *User) (*User, error)
	CreateTx(ctx context.Context, tx bun.IDB, user *User) (*User, error)
	UpdateNamesTx(ctx context.Context, tx bun.IDB, id int64, firstName, lastName string) error
	MarkEmailVerifiedTx(ctx context.Context, tx bun.IDB, id int64) error
	ResetPasswordTx(ctx context.Context, tx bun.IDB, id int64, passwordHash string) error
	ActivateTx(ctx context.Context, tx bun.IDB, id int64, passwordHash string) (*User, error)
}

type users struct {
	db *bun.DB
}

var _ Users = (*users)(nil)

// NewUsersRepository returns the bun backed Users repository.
func NewUsersRepository(db *bun.DB) Users {
	return &users{db: db}
}

// IsRecordNotFound reports whether err is the storage-level missing row error.
func IsRecordNotFound(err error) bool {
	if err == nil {
		return false
	}
	return goerrors.Is(err, sql.ErrNoRows) || goerrors.IsNotFound(err)
}

func (r *users) GetByID(ctx context.Context, id int64) (*User, error) {
	return r.GetByIDTx(ctx, r.db, id)
}

func (r *users) GetByIDTx(ctx context.Context, tx bun.IDB, id int64) (*User, error) {
	record := &User{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (r *users) GetByEmail(ctx context.Context, email string) (*User, error) {
	return r.GetByEmailTx(ctx, r.db, email)
}

func (r *users) GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*User, error) {
	record := &User{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.email = ?", strings.TrimSpace(email)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (r *users) Create(ctx context.Context, user *User) (*User, error) {
	return r.CreateTx(ctx, r.db, user)
}

func (r *users) CreateTx(ctx context.Context, tx bun.IDB, user *User) (*User, error) {
	now := time.Now()
	if user.CreatedAt == nil {
		user.CreatedAt = &now
	}
	if user.UpdatedAt == nil {
		user.UpdatedAt = &now
	}

	if _, err := tx.NewInsert().Model(user).Returning("*").Exec(ctx); err != nil {
		return nil, err
	}
	return user, nil
}

func (r *users) UpdateNamesTx(ctx context.Context, tx bun.IDB, id int64, firstName, lastName string) error {
	q := tx.NewUpdate().
		Model((*User)(nil)).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id)

	if firstName != "" {
		q = q.Set("first_name = ?", firstName)
	}
	if lastName != "" {
		q = q.Set("last_name = ?", lastName)
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *users) MarkEmailVerifiedTx(ctx context.Context, tx bun.IDB, id int64) error {
	res, err := tx.NewUpdate().
		Model((*User)(nil)).
		Set("email_verified = ?", true).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *users) ResetPasswordTx(ctx context.Context, tx bun.IDB, id int64, passwordHash string) error {
	res, err := tx.NewUpdate().
		Model((*User)(nil)).
		Set("password_hash = ?", passwordHash).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *users) ActivateTx(ctx context.Context, tx bun.IDB, id int64, passwordHash string) (*User, error) {
	record := &User{}
	err := tx.NewRaw(ActivateUserSQL, passwordHash, time.Now(), id).Scan(ctx, record)
	if err != nil {
		return nil, err
	}
	return record, nil
}

// requireRow converts a zero-rows update into sql.ErrNoRows so callers can
// treat "the row vanished" uniformly through IsRecordNotFound.
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
