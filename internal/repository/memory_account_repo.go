package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/signinbridge/internal/model"
)

type memoryLink struct {
	accountID  string
	redirectTo string
	expiresAt  time.Time
	used       bool
}

// MemoryAccountRepo はプロセス内メモリを使用したIDストア。
// ローカル開発とテスト用。メールアドレスの一意性はmutexで保証する。
type MemoryAccountRepo struct {
	mu       sync.Mutex
	accounts map[string]*model.Account // key: account ID
	byEmail  map[string]string         // key: email, value: account ID
	links    map[string]*memoryLink    // key: token hash
	config   LinkConfig
	now      func() time.Time
}

// NewMemoryAccountRepo はMemoryAccountRepoを生成する。
func NewMemoryAccountRepo(config LinkConfig) *MemoryAccountRepo {
	return &MemoryAccountRepo{
		accounts: make(map[string]*model.Account),
		byEmail:  make(map[string]string),
		links:    make(map[string]*memoryLink),
		config:   config,
		now:      time.Now,
	}
}

// FindByEmail はメールアドレスが完全一致するアカウントを取得する。見つからない場合はnilを返す。
func (r *MemoryAccountRepo) FindByEmail(_ context.Context, email string) (*model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byEmail[email]
	if !ok {
		return nil, nil
	}
	account := *r.accounts[id]
	return &account, nil
}

// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
func (r *MemoryAccountRepo) FindByID(_ context.Context, id string) (*model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[id]
	if !ok {
		return nil, nil
	}
	account := *a
	return &account, nil
}

// Create はアカウントを作成する。既に同一メールアドレスが存在する場合はErrAccountExistsを返す。
func (r *MemoryAccountRepo) Create(_ context.Context, params *model.NewAccount) (*model.Account, error) {
	if params.Email == "" {
		return nil, fmt.Errorf("email is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byEmail[params.Email]; exists {
		return nil, ErrAccountExists
	}

	account := &model.Account{
		ID:             uuid.New().String(),
		Email:          params.Email,
		EmailConfirmed: params.EmailConfirmed,
		Metadata:       params.Metadata,
		CreatedAt:      r.now(),
	}
	r.accounts[account.ID] = account
	r.byEmail[account.Email] = account.ID

	created := *account
	return &created, nil
}

// GenerateSignInLink は使い捨てのサインインリンクを発行する。
func (r *MemoryAccountRepo) GenerateSignInLink(_ context.Context, account *model.Account, redirectTo string) (*model.SignInLink, error) {
	token, hash, err := newLinkToken()
	if err != nil {
		return nil, err
	}
	linkURL, err := buildLinkURL(r.config.VerifyURL, token)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.accounts[account.ID]; !ok {
		return nil, fmt.Errorf("account not found: %s", account.ID)
	}

	expiresAt := r.now().Add(r.config.TTL)
	r.links[hash] = &memoryLink{
		accountID:  account.ID,
		redirectTo: redirectTo,
		expiresAt:  expiresAt,
	}

	return &model.SignInLink{
		URL:       linkURL,
		AccountID: account.ID,
		ExpiresAt: expiresAt,
	}, nil
}

// Redeem は未使用かつ有効期限内のリンクを使用済みにして返す。
func (r *MemoryAccountRepo) Redeem(_ context.Context, token string) (*RedeemedLink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	link, ok := r.links[hashLinkToken(token)]
	if !ok || link.used || !r.now().Before(link.expiresAt) {
		return nil, ErrLinkInvalid
	}
	link.used = true

	return &RedeemedLink{
		AccountID:  link.accountID,
		RedirectTo: link.redirectTo,
	}, nil
}

// Count は保持しているアカウント数を返す。テストおよび運用確認用。
func (r *MemoryAccountRepo) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.accounts)
}

// MemorySessionRepo はプロセス内メモリを使用したセッションリポジトリ。
type MemorySessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
	now      func() time.Time
}

// NewMemorySessionRepo はMemorySessionRepoを生成する。
func NewMemorySessionRepo() *MemorySessionRepo {
	return &MemorySessionRepo{
		sessions: make(map[string]*model.Session),
		now:      time.Now,
	}
}

// Create はセッションを作成する。同一IDが既にあればErrSessionIDConflictを返す。
func (r *MemorySessionRepo) Create(_ context.Context, session *model.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[session.ID]; exists {
		return ErrSessionIDConflict
	}
	s := *session
	r.sessions[session.ID] = &s
	return nil
}

// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
func (r *MemorySessionRepo) FindByID(_ context.Context, id string) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok || !r.now().Before(s.ExpiresAt) {
		return nil, nil
	}
	session := *s
	return &session, nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *MemorySessionRepo) DeleteByID(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, id)
	return nil
}

// compile-time interface check
var (
	_ AccountStore      = (*MemoryAccountRepo)(nil)
	_ LinkRedeemer      = (*MemoryAccountRepo)(nil)
	_ AccountFinder     = (*MemoryAccountRepo)(nil)
	_ SessionRepository = (*MemorySessionRepo)(nil)
)
