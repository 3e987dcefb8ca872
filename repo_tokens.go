package identity

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// tokenBytes is the entropy of a verification token: 32 random bytes, hex
// encoded, 64 characters on the wire.
const tokenBytes = 32

// VerificationTokens is the single-use token store. Consume is the only
// mutation path that retires a token for use; callers must not reimplement it
// with a read-then-write pair.
type VerificationTokens interface {
	Issue(ctx context.Context, userID int64, tokenType TokenType, ttl time.Duration) (*VerificationToken, error)
	IssueTx(ctx context.Context, tx bun.IDB, userID int64, tokenType TokenType, ttl time.Duration) (*VerificationToken, error)
	Consume(ctx context.Context, token string, tokenType TokenType) (int64, error)
	ConsumeTx(ctx context.Context, tx bun.IDB, token string, tokenType TokenType) (int64, error)
	PeekUsedBy(ctx context.Context, token string, tokenType TokenType) (*VerificationToken, error)
	InvalidateActiveTx(ctx context.Context, tx bun.IDB, userID int64, tokenType TokenType) (int64, error)
}

type verificationTokens struct {
	db *bun.DB
}

var _ VerificationTokens = (*verificationTokens)(nil)

// NewVerificationTokensRepository returns the bun backed token store.
func NewVerificationTokensRepository(db *bun.DB) VerificationTokens {
	return &verificationTokens{db: db}
}

// GenerateTokenString returns an unguessable random token value.
func GenerateTokenString() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate token entropy")
	}
	return hex.EncodeToString(buf), nil
}

func (r *verificationTokens) Issue(ctx context.Context, userID int64, tokenType TokenType, ttl time.Duration) (*VerificationToken, error) {
	return r.IssueTx(ctx, r.db, userID, tokenType, ttl)
}

// IssueTx retires any still-active tokens of the same type for the user, then
// inserts a fresh one. The supersede step keeps the "at most one active token
// per (user, type)" invariant without a partial unique index.
func (r *verificationTokens) IssueTx(ctx context.Context, tx bun.IDB, userID int64, tokenType TokenType, ttl time.Duration) (*VerificationToken, error) {
	if !ValidTokenType(tokenType) {
		return nil, goerrors.New("unknown verification token type", goerrors.CategoryBadInput).
			WithMetadata(map[string]any{"type": tokenType})
	}
	if ttl <= 0 {
		return nil, goerrors.New("verification token ttl must be positive", goerrors.CategoryBadInput)
	}

	if _, err := r.InvalidateActiveTx(ctx, tx, userID, tokenType); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to supersede active tokens")
	}

	value, err := GenerateTokenString()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	record := &VerificationToken{
		UserID:    userID,
		Token:     value,
		TokenType: tokenType,
		ExpiresAt: now.Add(ttl),
		CreatedAt: &now,
	}

	if _, err := tx.NewInsert().Model(record).Returning("*").Exec(ctx); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to insert verification token")
	}

	return record, nil
}

func (r *verificationTokens) Consume(ctx context.Context, token string, tokenType TokenType) (int64, error) {
	return r.ConsumeTx(ctx, r.db, token, tokenType)
}

// ConsumeTx retires the token and returns its owner in one conditional write.
// The used_at IS NULL guard makes the statement a compare-and-swap: with two
// concurrent calls exactly one sees a row, the other gets the diagnostics
// classification below. Never split this into a select followed by an update.
func (r *verificationTokens) ConsumeTx(ctx context.Context, tx bun.IDB, token string, tokenType TokenType) (int64, error) {
	now := time.Now()

	var userID int64
	_, err := tx.NewUpdate().
		Model((*VerificationToken)(nil)).
		Set("used_at = ?", now).
		Where("token = ?", token).
		Where("token_type = ?", tokenType).
		Where("used_at IS NULL").
		Where("expires_at > ?", now).
		Returning("user_id").
		Exec(ctx, &userID)

	if err == nil {
		return userID, nil
	}

	if !goerrors.Is(err, sql.ErrNoRows) {
		return 0, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to consume verification token")
	}

	return 0, r.classifyConsumeFailure(ctx, tx, token, tokenType, now)
}

// classifyConsumeFailure runs after the CAS already lost; it only reads, and
// only so logs and tests can tell why. Callers collapse every one of these
// into the generic invalid-or-expired signal before responding.
func (r *verificationTokens) classifyConsumeFailure(ctx context.Context, tx bun.IDB, token string, tokenType TokenType, now time.Time) error {
	record := &VerificationToken{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.token = ?", token).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if goerrors.Is(err, sql.ErrNoRows) {
			return ErrTokenNotFound
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to inspect verification token")
	}

	switch {
	case record.TokenType != tokenType:
		return ErrTokenTypeMismatch
	case record.UsedAt != nil:
		return ErrTokenUsed
	default:
		return ErrVerificationExpired
	}
}

// PeekUsedBy looks a token up by value and type regardless of used or expired
// state, without mutating anything. It backs the idempotent re-verification
// fallback and nothing else.
func (r *verificationTokens) PeekUsedBy(ctx context.Context, token string, tokenType TokenType) (*VerificationToken, error) {
	record := &VerificationToken{}
	err := r.db.NewSelect().
		Model(record).
		Where("?TableAlias.token = ?", token).
		Where("?TableAlias.token_type = ?", tokenType).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if goerrors.Is(err, sql.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up verification token")
	}
	return record, nil
}

// InvalidateActiveTx marks every still-active token of the given type owned
// by the user as used. Returns the number of superseded rows.
func (r *verificationTokens) InvalidateActiveTx(ctx context.Context, tx bun.IDB, userID int64, tokenType TokenType) (int64, error) {
	now := time.Now()
	res, err := tx.NewUpdate().
		Model((*VerificationToken)(nil)).
		Set("used_at = ?", now).
		Where("user_id = ?", userID).
		Where("token_type = ?", tokenType).
		Where("used_at IS NULL").
		Where("expires_at > ?", now).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
