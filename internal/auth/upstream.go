package auth

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/signinbridge/internal/metrics"
	"github.com/hitoshi/signinbridge/internal/repository"
)

// upstream は外部呼び出しの共通設定。
type upstream struct {
	timeout time.Duration
	metrics metrics.MetricsCollector
}

// callUpstream はfnをタイムアウト付きコンテキストで1回だけ実行し、レイテンシと失敗を記録する。
// ErrAccountExistsは競合の合図であり失敗として数えない。
func callUpstream[T any](ctx context.Context, u upstream, call string, fn func(context.Context) (T, error)) (T, error) {
	if u.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.timeout)
		defer cancel()
	}

	start := time.Now()
	v, err := fn(ctx)
	u.metrics.RecordUpstreamLatency(call, time.Since(start))

	if err != nil && !errors.Is(err, repository.ErrAccountExists) {
		u.metrics.RecordUpstreamFailure(call)
	}
	return v, err
}

// isTimeout は上流呼び出しがタイムアウトで失敗したかを判定する。
func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
