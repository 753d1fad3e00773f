// Package gotrue はSupabase Auth（GoTrue）管理APIのクライアントを提供する。
// アカウントの検索・作成とマジックリンク発行をIDストアとして公開する。
package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/signinbridge/internal/model"
	"github.com/hitoshi/signinbridge/internal/repository"
)

const (
	// usersPerPage は一覧取得1ページあたりの件数。
	usersPerPage = 200
	// maxUserPages はメール検索で走査する最大ページ数。
	maxUserPages = 50
	// maxErrorBody はエラーレスポンスから読み取る最大バイト数。
	maxErrorBody = 4096
)

// ErrLookupLimitExceeded はメール検索が上限ページまで走査しても結論を出せなかった場合のエラー。
var ErrLookupLimitExceeded = errors.New("user lookup exceeded the page limit")

// APIError は管理APIが2xx以外を返した場合のエラー。
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("GoTrue admin APIがステータス %d を返しました (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("GoTrue admin APIがステータス %d を返しました: %s", e.StatusCode, e.Message)
}

// Client はGoTrue管理APIのクライアント。
// サービスロールキーで認証し、repository.AccountStoreを実装する。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
	adminKey   string
}

// NewClient はClientの新しいインスタンスを生成する。
// baseURLはプロジェクトURL（例: https://xyz.supabase.co）。
func NewClient(httpClient *http.Client, logger *slog.Logger, baseURL, adminKey string) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		adminKey:   adminKey,
	}
}

// user は管理APIのユーザー表現。
type user struct {
	ID               string                `json:"id"`
	Email            string                `json:"email"`
	EmailConfirmedAt *time.Time            `json:"email_confirmed_at,omitempty"`
	UserMetadata     model.AccountMetadata `json:"user_metadata"`
	CreatedAt        time.Time             `json:"created_at"`
}

func (u *user) toAccount() *model.Account {
	return &model.Account{
		ID:             u.ID,
		Email:          u.Email,
		EmailConfirmed: u.EmailConfirmedAt != nil,
		Metadata:       u.UserMetadata,
		CreatedAt:      u.CreatedAt,
	}
}

type listUsersResponse struct {
	Users []user `json:"users"`
}

type createUserRequest struct {
	Email        string                `json:"email"`
	EmailConfirm bool                  `json:"email_confirm"`
	UserMetadata model.AccountMetadata `json:"user_metadata"`
}

type generateLinkRequest struct {
	Type       string `json:"type"`
	Email      string `json:"email"`
	RedirectTo string `json:"redirect_to,omitempty"`
}

type generateLinkResponse struct {
	ActionLink string `json:"action_link"`
	// 旧バージョンはproperties配下に返す
	Properties *struct {
		ActionLink string `json:"action_link"`
	} `json:"properties,omitempty"`
}

type errorResponse struct {
	Code      json.RawMessage `json:"code"`
	ErrorCode string          `json:"error_code"`
	Msg       string          `json:"msg"`
	Message   string          `json:"message"`
	Error     string          `json:"error"`
	ErrorDesc string          `json:"error_description"`
}

// FindByEmail はメールアドレスが一致するアカウントを取得する。見つからない場合はnilを返す。
// GoTrueはメールアドレスを小文字化して保存するため、比較は大文字小文字を区別しない。
// filterクエリで候補を絞り込んだうえでページ単位に走査する。
func (c *Client) FindByEmail(ctx context.Context, email string) (*model.Account, error) {
	for page := 1; page <= maxUserPages; page++ {
		q := url.Values{}
		q.Set("page", strconv.Itoa(page))
		q.Set("per_page", strconv.Itoa(usersPerPage))
		q.Set("filter", email)

		var resp listUsersResponse
		if err := c.do(ctx, http.MethodGet, "/auth/v1/admin/users?"+q.Encode(), nil, &resp); err != nil {
			return nil, fmt.Errorf("ユーザー一覧の取得に失敗しました: %w", err)
		}

		for i := range resp.Users {
			if strings.EqualFold(resp.Users[i].Email, email) {
				return resp.Users[i].toAccount(), nil
			}
		}

		if len(resp.Users) < usersPerPage {
			return nil, nil
		}
	}

	c.logger.Error("ユーザー一覧の走査が上限ページに達しました",
		slog.Int("max_pages", maxUserPages),
	)
	return nil, ErrLookupLimitExceeded
}

// Create はメール確認済みのアカウントを作成する。
// 同一メールアドレスが既に登録済みの場合はrepository.ErrAccountExistsを返す。
func (c *Client) Create(ctx context.Context, params *model.NewAccount) (*model.Account, error) {
	body := createUserRequest{
		Email:        params.Email,
		EmailConfirm: params.EmailConfirmed,
		UserMetadata: params.Metadata,
	}

	var created user
	err := c.do(ctx, http.MethodPost, "/auth/v1/admin/users", body, &created)
	if isEmailExists(err) {
		return nil, repository.ErrAccountExists
	}
	if err != nil {
		return nil, fmt.Errorf("ユーザーの作成に失敗しました: %w", err)
	}

	return created.toAccount(), nil
}

// GenerateSignInLink はマジックリンクを発行する。
func (c *Client) GenerateSignInLink(ctx context.Context, account *model.Account, redirectTo string) (*model.SignInLink, error) {
	body := generateLinkRequest{
		Type:       "magiclink",
		Email:      account.Email,
		RedirectTo: redirectTo,
	}

	var resp generateLinkResponse
	if err := c.do(ctx, http.MethodPost, "/auth/v1/admin/generate_link", body, &resp); err != nil {
		return nil, fmt.Errorf("マジックリンクの発行に失敗しました: %w", err)
	}

	link := resp.ActionLink
	if link == "" && resp.Properties != nil {
		link = resp.Properties.ActionLink
	}
	if link == "" {
		return nil, errors.New("マジックリンクの発行に失敗しました: action_linkが空です")
	}

	return &model.SignInLink{
		URL:       link,
		AccountID: account.ID,
	}, nil
}

// do は管理APIを呼び出し、2xxの場合にレスポンスをoutへデコードする。
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var reqBody io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("リクエストJSONの生成に失敗しました: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("apikey", c.adminKey)
	req.Header.Set("Authorization", "Bearer "+c.adminKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("GoTrue admin APIの呼び出しに失敗しました",
			slog.String("method", method),
			slog.String("path", req.URL.Path),
			slog.String("error", err.Error()),
		)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := decodeAPIError(resp)
		c.logger.Error("GoTrue admin APIがエラーステータスを返しました",
			slog.String("method", method),
			slog.String("path", req.URL.Path),
			slog.Int("http_status", resp.StatusCode),
			slog.String("error_code", apiErr.Code),
		)
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil || len(body) == 0 {
		apiErr.Message = http.StatusText(resp.StatusCode)
		return apiErr
	}

	var er errorResponse
	if err := json.Unmarshal(body, &er); err != nil {
		apiErr.Message = strings.TrimSpace(string(body))
		return apiErr
	}

	apiErr.Code = er.ErrorCode
	if apiErr.Code == "" && len(er.Code) > 0 && er.Code[0] == '"' {
		_ = json.Unmarshal(er.Code, &apiErr.Code)
	}
	for _, m := range []string{er.Msg, er.Message, er.ErrorDesc, er.Error} {
		if m != "" {
			apiErr.Message = m
			break
		}
	}
	return apiErr
}

// isEmailExists は作成失敗が既存メールアドレスとの衝突によるものかを判定する。
func isEmailExists(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.Code == "email_exists" || apiErr.Code == "user_already_exists" {
		return true
	}
	return apiErr.StatusCode == http.StatusUnprocessableEntity &&
		strings.Contains(strings.ToLower(apiErr.Message), "already been registered")
}

// compile-time interface check
var _ repository.AccountStore = (*Client)(nil)
