package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/signinbridge/internal/model"
)

// ErrSessionIDConflict は生成したセッションIDが既存セッションと衝突した場合のエラー。
var ErrSessionIDConflict = errors.New("session id already exists")

// PostgresSessionRepo はサインインリンク償還時に発行されるセッションをPostgreSQLに保存する。
// 期限切れ行の削除はcleanupワーカーが担うため、参照時はexpires_atで除外するのみ。
type PostgresSessionRepo struct {
	db *sql.DB
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

// Create は償還済みリンクのアカウントに紐づくセッションを保存する。
// 同一IDの行が既にあれば上書きせずErrSessionIDConflictを返す。
func (r *PostgresSessionRepo) Create(ctx context.Context, session *model.Session) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, account_id, expires_at, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO NOTHING`,
		session.ID, session.AccountID, session.ExpiresAt.UTC(), session.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert session for account %s: %w", session.AccountID, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read inserted session count: %w", err)
	}
	if n == 0 {
		return ErrSessionIDConflict
	}
	return nil
}

// FindByID はCookieのセッションIDから有効なセッションを取得する。
// 存在しない、または期限切れの場合はnil, nilを返す。
func (r *PostgresSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	var s model.Session
	err := r.db.QueryRowContext(ctx,
		`SELECT id, account_id, expires_at, created_at
		 FROM sessions
		 WHERE id = $1 AND expires_at > now()`,
		id,
	).Scan(&s.ID, &s.AccountID, &s.ExpiresAt, &s.CreatedAt)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("failed to look up session: %w", err)
	}
	return &s, nil
}

// DeleteByID はログアウト時にセッションを削除する。存在しないIDでもエラーにしない。
func (r *PostgresSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

var _ SessionRepository = (*PostgresSessionRepo)(nil)
