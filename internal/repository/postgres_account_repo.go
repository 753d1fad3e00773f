package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/signinbridge/internal/model"
	"github.com/lib/pq"
)

// uniqueViolation はPostgreSQLの一意制約違反のSQLSTATE。
const uniqueViolation = "23505"

// PostgresAccountRepo はPostgreSQLを使用したローカルIDストア。
// accounts.emailのUNIQUE制約が同時作成時の唯一の整合性担保となる。
type PostgresAccountRepo struct {
	db     *sql.DB
	config LinkConfig
}

// NewPostgresAccountRepo はPostgresAccountRepoを生成する。
func NewPostgresAccountRepo(db *sql.DB, config LinkConfig) *PostgresAccountRepo {
	return &PostgresAccountRepo{db: db, config: config}
}

// FindByEmail はメールアドレスが完全一致するアカウントを取得する。見つからない場合はnilを返す。
func (r *PostgresAccountRepo) FindByEmail(ctx context.Context, email string) (*model.Account, error) {
	return r.findOne(ctx,
		`SELECT id, email, email_confirmed, metadata, created_at FROM accounts WHERE email = $1`,
		email,
	)
}

// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
func (r *PostgresAccountRepo) FindByID(ctx context.Context, id string) (*model.Account, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	return r.findOne(ctx,
		`SELECT id, email, email_confirmed, metadata, created_at FROM accounts WHERE id = $1`,
		id,
	)
}

func (r *PostgresAccountRepo) findOne(ctx context.Context, query string, arg string) (*model.Account, error) {
	account := &model.Account{}
	var metadata []byte
	err := r.db.QueryRowContext(ctx, query, arg).
		Scan(&account.ID, &account.Email, &account.EmailConfirmed, &metadata, &account.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}

	if err := json.Unmarshal(metadata, &account.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode account metadata: %w", err)
	}

	return account, nil
}

// Create はアカウントを作成する。
// email列の一意制約違反はErrAccountExistsとして返す。
func (r *PostgresAccountRepo) Create(ctx context.Context, params *model.NewAccount) (*model.Account, error) {
	metadata, err := json.Marshal(params.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to encode account metadata: %w", err)
	}

	account := &model.Account{
		ID:             uuid.New().String(),
		Email:          params.Email,
		EmailConfirmed: params.EmailConfirmed,
		Metadata:       params.Metadata,
		CreatedAt:      time.Now().UTC(),
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO accounts (id, email, email_confirmed, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		account.ID, account.Email, account.EmailConfirmed, metadata, account.CreatedAt,
	)
	if isUniqueViolation(err) {
		return nil, ErrAccountExists
	}
	if err != nil {
		return nil, fmt.Errorf("failed to insert account: %w", err)
	}

	return account, nil
}

// GenerateSignInLink は使い捨てのサインインリンクを発行する。
// トークンはハッシュのみを保存し、平文はリンクURLにのみ含める。
func (r *PostgresAccountRepo) GenerateSignInLink(ctx context.Context, account *model.Account, redirectTo string) (*model.SignInLink, error) {
	token, hash, err := newLinkToken()
	if err != nil {
		return nil, err
	}
	linkURL, err := buildLinkURL(r.config.VerifyURL, token)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	expiresAt := now.Add(r.config.TTL)

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO sign_in_links (token_hash, account_id, redirect_to, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		hash, account.ID, redirectTo, expiresAt, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert sign-in link: %w", err)
	}

	return &model.SignInLink{
		URL:       linkURL,
		AccountID: account.ID,
		ExpiresAt: expiresAt,
	}, nil
}

// Redeem は未使用かつ有効期限内のリンクを1文のUPDATEで使用済みにする。
// 同一トークンの同時償還はどちらか一方のみが成功する。
func (r *PostgresAccountRepo) Redeem(ctx context.Context, token string) (*RedeemedLink, error) {
	link := &RedeemedLink{}
	err := r.db.QueryRowContext(ctx,
		`UPDATE sign_in_links
		 SET used_at = now()
		 WHERE token_hash = $1 AND used_at IS NULL AND expires_at > now()
		 RETURNING account_id, redirect_to`,
		hashLinkToken(token),
	).Scan(&link.AccountID, &link.RedirectTo)

	if err == sql.ErrNoRows {
		return nil, ErrLinkInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("failed to redeem sign-in link: %w", err)
	}

	return link, nil
}

// isUniqueViolation はエラーがPostgreSQLの一意制約違反かどうかを判定する。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}
	return false
}

// compile-time interface check
var (
	_ AccountStore  = (*PostgresAccountRepo)(nil)
	_ LinkRedeemer  = (*PostgresAccountRepo)(nil)
	_ AccountFinder = (*PostgresAccountRepo)(nil)
)
