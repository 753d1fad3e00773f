package repository

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"time"
)

// LinkConfig はローカルIDストアが発行するサインインリンクの設定。
type LinkConfig struct {
	// VerifyURL はリンク償還エンドポイントの絶対URL（例: https://bridge.example.com/auth/v1/verify）。
	VerifyURL string
	// TTL はリンクの有効期間。
	TTL time.Duration
}

// newLinkToken は暗号的に安全なリンクトークンとそのハッシュを生成する。
// ストアにはハッシュのみを保存する。
func newLinkToken() (token, hash string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("failed to generate link token: %w", err)
	}
	token = hex.EncodeToString(b)
	return token, hashLinkToken(token), nil
}

// hashLinkToken はトークンのSHA-256ハッシュを16進文字列で返す。
func hashLinkToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// buildLinkURL はVerifyURLにトークンを付与したサインインリンクを組み立てる。
func buildLinkURL(verifyURL, token string) (string, error) {
	u, err := url.Parse(verifyURL)
	if err != nil {
		return "", fmt.Errorf("invalid verify URL: %w", err)
	}
	if !u.IsAbs() {
		return "", fmt.Errorf("verify URL must be absolute: %q", verifyURL)
	}
	q := u.Query()
	q.Set("token", token)
	q.Set("type", "magiclink")
	u.RawQuery = q.Encode()
	return u.String(), nil
}
