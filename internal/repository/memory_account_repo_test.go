package repository

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/hitoshi/signinbridge/internal/model"
)

func newTestMemoryRepo() *MemoryAccountRepo {
	return NewMemoryAccountRepo(LinkConfig{
		VerifyURL: "http://localhost:8080/auth/v1/verify",
		TTL:       time.Hour,
	})
}

func TestMemoryAccountRepo_CreateAndFind(t *testing.T) {
	ctx := context.Background()
	repo := newTestMemoryRepo()

	params := &model.NewAccount{
		Email:          "new@example.com",
		EmailConfirmed: true,
		Metadata: model.AccountMetadata{
			Provider:   "consentkeys",
			ProviderID: "sub-1",
			FullName:   "New User",
			Username:   "new",
		},
	}

	created, err := repo.Create(ctx, params)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected generated account ID")
	}

	found, err := repo.FindByEmail(ctx, "new@example.com")
	if err != nil {
		t.Fatalf("FindByEmail() error = %v", err)
	}
	if diff := cmp.Diff(created, found); diff != "" {
		t.Errorf("FindByEmail() mismatch (-created +found):\n%s", diff)
	}

	want := &model.Account{
		Email:          "new@example.com",
		EmailConfirmed: true,
		Metadata:       params.Metadata,
	}
	if diff := cmp.Diff(want, found, cmpopts.IgnoreFields(model.Account{}, "ID", "CreatedAt")); diff != "" {
		t.Errorf("account mismatch (-want +got):\n%s", diff)
	}
}

func TestMemoryAccountRepo_FindByEmail_NotFoundReturnsNil(t *testing.T) {
	repo := newTestMemoryRepo()

	account, err := repo.FindByEmail(context.Background(), "missing@example.com")
	if err != nil {
		t.Fatalf("FindByEmail() error = %v", err)
	}
	if account != nil {
		t.Errorf("expected nil account, got %+v", account)
	}
}

func TestMemoryAccountRepo_FindByEmail_IsExactMatch(t *testing.T) {
	ctx := context.Background()
	repo := newTestMemoryRepo()

	if _, err := repo.Create(ctx, &model.NewAccount{Email: "Case@example.com"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	account, err := repo.FindByEmail(ctx, "case@example.com")
	if err != nil {
		t.Fatalf("FindByEmail() error = %v", err)
	}
	if account != nil {
		t.Error("email lookup should not fold case")
	}
}

func TestMemoryAccountRepo_Create_DuplicateReturnsErrAccountExists(t *testing.T) {
	ctx := context.Background()
	repo := newTestMemoryRepo()

	if _, err := repo.Create(ctx, &model.NewAccount{Email: "dup@example.com"}); err != nil {
		t.Fatalf("first Create() error = %v", err)
	}

	_, err := repo.Create(ctx, &model.NewAccount{Email: "dup@example.com"})
	if !errors.Is(err, ErrAccountExists) {
		t.Errorf("second Create() error = %v, want ErrAccountExists", err)
	}
	if repo.Count() != 1 {
		t.Errorf("Count() = %d, want 1", repo.Count())
	}
}

func TestMemoryAccountRepo_Create_ConcurrentSameEmailCreatesOne(t *testing.T) {
	ctx := context.Background()
	repo := newTestMemoryRepo()

	const workers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	created, conflicts := 0, 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Create(ctx, &model.NewAccount{Email: "race@example.com"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, ErrAccountExists):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if created != 1 {
		t.Errorf("created = %d, want 1", created)
	}
	if conflicts != workers-1 {
		t.Errorf("conflicts = %d, want %d", conflicts, workers-1)
	}
}

func TestMemoryAccountRepo_GenerateSignInLink_IsFreshEachTime(t *testing.T) {
	ctx := context.Background()
	repo := newTestMemoryRepo()

	account, err := repo.Create(ctx, &model.NewAccount{Email: "link@example.com"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	first, err := repo.GenerateSignInLink(ctx, account, "http://localhost:5173")
	if err != nil {
		t.Fatalf("GenerateSignInLink() error = %v", err)
	}
	second, err := repo.GenerateSignInLink(ctx, account, "http://localhost:5173")
	if err != nil {
		t.Fatalf("GenerateSignInLink() error = %v", err)
	}

	if first.URL == second.URL {
		t.Error("each call should mint a distinct link")
	}
	if first.AccountID != account.ID {
		t.Errorf("AccountID = %q, want %q", first.AccountID, account.ID)
	}

	u, err := url.Parse(first.URL)
	if err != nil {
		t.Fatalf("invalid link URL: %v", err)
	}
	if u.Path != "/auth/v1/verify" {
		t.Errorf("path = %q, want /auth/v1/verify", u.Path)
	}
	if u.Query().Get("token") == "" {
		t.Error("link should carry a token")
	}
}

func TestMemoryAccountRepo_GenerateSignInLink_UnknownAccount(t *testing.T) {
	repo := newTestMemoryRepo()

	_, err := repo.GenerateSignInLink(context.Background(), &model.Account{ID: "nope"}, "http://localhost:5173")
	if err == nil {
		t.Fatal("expected error for unknown account")
	}
}

func TestMemoryAccountRepo_Redeem_SingleUse(t *testing.T) {
	ctx := context.Background()
	repo := newTestMemoryRepo()

	account, _ := repo.Create(ctx, &model.NewAccount{Email: "once@example.com"})
	link, err := repo.GenerateSignInLink(ctx, account, "http://localhost:5173/dashboard")
	if err != nil {
		t.Fatalf("GenerateSignInLink() error = %v", err)
	}
	token := mustToken(t, link.URL)

	redeemed, err := repo.Redeem(ctx, token)
	if err != nil {
		t.Fatalf("Redeem() error = %v", err)
	}
	if redeemed.AccountID != account.ID {
		t.Errorf("AccountID = %q, want %q", redeemed.AccountID, account.ID)
	}
	if redeemed.RedirectTo != "http://localhost:5173/dashboard" {
		t.Errorf("RedirectTo = %q", redeemed.RedirectTo)
	}

	if _, err := repo.Redeem(ctx, token); !errors.Is(err, ErrLinkInvalid) {
		t.Errorf("second Redeem() error = %v, want ErrLinkInvalid", err)
	}
}

func TestMemoryAccountRepo_Redeem_Expired(t *testing.T) {
	ctx := context.Background()
	repo := newTestMemoryRepo()

	account, _ := repo.Create(ctx, &model.NewAccount{Email: "late@example.com"})
	link, _ := repo.GenerateSignInLink(ctx, account, "http://localhost:5173")

	repo.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	if _, err := repo.Redeem(ctx, mustToken(t, link.URL)); !errors.Is(err, ErrLinkInvalid) {
		t.Errorf("Redeem() error = %v, want ErrLinkInvalid", err)
	}
}

func TestMemoryAccountRepo_Redeem_UnknownToken(t *testing.T) {
	repo := newTestMemoryRepo()

	if _, err := repo.Redeem(context.Background(), "deadbeef"); !errors.Is(err, ErrLinkInvalid) {
		t.Errorf("Redeem() error = %v, want ErrLinkInvalid", err)
	}
}

func TestMemorySessionRepo_Lifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewMemorySessionRepo()

	session := &model.Session{
		ID:        "s-1",
		AccountID: "a-1",
		ExpiresAt: time.Now().Add(time.Hour),
		CreatedAt: time.Now(),
	}
	if err := repo.Create(ctx, session); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := repo.Create(ctx, session); !errors.Is(err, ErrSessionIDConflict) {
		t.Errorf("duplicate Create() error = %v, want ErrSessionIDConflict", err)
	}

	found, err := repo.FindByID(ctx, "s-1")
	if err != nil || found == nil {
		t.Fatalf("FindByID() = %v, %v", found, err)
	}
	if found.AccountID != "a-1" {
		t.Errorf("AccountID = %q, want a-1", found.AccountID)
	}

	if err := repo.DeleteByID(ctx, "s-1"); err != nil {
		t.Fatalf("DeleteByID() error = %v", err)
	}
	if found, _ := repo.FindByID(ctx, "s-1"); found != nil {
		t.Error("session should be gone after delete")
	}
}

func TestMemorySessionRepo_ExpiredIsNil(t *testing.T) {
	ctx := context.Background()
	repo := NewMemorySessionRepo()

	_ = repo.Create(ctx, &model.Session{ID: "old", AccountID: "a", ExpiresAt: time.Now().Add(-time.Minute)})

	if found, _ := repo.FindByID(ctx, "old"); found != nil {
		t.Error("expired session should not be returned")
	}
}

func mustToken(t *testing.T, rawURL string) string {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("invalid link URL %q: %v", rawURL, err)
	}
	token := u.Query().Get("token")
	if token == "" {
		t.Fatalf("link URL %q has no token", rawURL)
	}
	return token
}
