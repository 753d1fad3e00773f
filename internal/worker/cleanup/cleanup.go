// Package cleanup は期限切れのサインインリンクとセッションの削除ジョブを提供する。
// ローカルIDストア（postgres）でのみ使用し、日次バッチで実行する。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// target は削除対象テーブルとその条件。
type target struct {
	name  string
	query string
}

// 使用済みリンクは監査用にGraceHours時間残してから削除する。
var targets = []target{
	{
		name:  "sign_in_links",
		query: `DELETE FROM sign_in_links WHERE expires_at < now() - $1::interval OR used_at < now() - $1::interval`,
	},
	{
		name:  "sessions",
		query: `DELETE FROM sessions WHERE expires_at < now() - $1::interval`,
	},
}

// CleanupJob は期限切れデータの削除ジョブ。
// 冪等な削除処理のみを行い、何度実行しても結果は変わらない。
type CleanupJob struct {
	db         Executor
	logger     *slog.Logger
	GraceHours int // 期限切れ後に保持する時間（デフォルト: 24）
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(db Executor, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		db:         db,
		logger:     logger,
		GraceHours: 24,
	}
}

// Run は期限切れのサインインリンクとセッションを削除する。
// 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	interval := fmt.Sprintf("%d hours", j.GraceHours)

	attrs := []any{slog.Int("grace_hours", j.GraceHours)}
	for _, t := range targets {
		result, err := j.db.ExecContext(ctx, t.query, interval)
		if err != nil {
			j.logger.Error("クリーンアップジョブの実行に失敗しました",
				slog.String("table", t.name),
				slog.String("error", err.Error()),
			)
			return fmt.Errorf("%sのクリーンアップに失敗: %w", t.name, err)
		}

		deleted, err := result.RowsAffected()
		if err != nil {
			j.logger.Error("削除件数の取得に失敗しました",
				slog.String("table", t.name),
				slog.String("error", err.Error()),
			)
			return fmt.Errorf("削除件数の取得に失敗: %w", err)
		}
		attrs = append(attrs, slog.Int64(t.name+"_deleted", deleted))
	}

	attrs = append(attrs, slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())))
	j.logger.Info("クリーンアップジョブが完了しました", attrs...)

	return nil
}
