package cleanup

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

type fakeResult struct {
	rowsAffected int64
}

func (r *fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r *fakeResult) RowsAffected() (int64, error) { return r.rowsAffected, nil }

type execCall struct {
	query string
	args  []interface{}
}

// mockExecutor はExecContextの呼び出しを記録し、順に結果を返す。
type mockExecutor struct {
	calls   []execCall
	results []sql.Result
	err     error
}

func (m *mockExecutor) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.calls = append(m.calls, execCall{query: query, args: args})
	if m.err != nil {
		return nil, m.err
	}
	i := len(m.calls) - 1
	if i < len(m.results) {
		return m.results[i], nil
	}
	return &fakeResult{}, nil
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

func TestNewCleanupJob_Defaults(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&mockExecutor{}, newTestLogger(&buf))

	if job.GraceHours != 24 {
		t.Errorf("GraceHours = %d, want 24", job.GraceHours)
	}
}

func TestCleanupJob_Run_DeletesLinksAndSessions(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{
		results: []sql.Result{&fakeResult{rowsAffected: 7}, &fakeResult{rowsAffected: 3}},
	}
	job := NewCleanupJob(mock, newTestLogger(&buf))

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(mock.calls) != 2 {
		t.Fatalf("ExecContext calls = %d, want 2", len(mock.calls))
	}
	if !strings.Contains(mock.calls[0].query, "DELETE FROM sign_in_links") {
		t.Errorf("first query = %q", mock.calls[0].query)
	}
	if !strings.Contains(mock.calls[0].query, "used_at") || !strings.Contains(mock.calls[0].query, "expires_at") {
		t.Errorf("links query should cover used and expired links: %q", mock.calls[0].query)
	}
	if !strings.Contains(mock.calls[1].query, "DELETE FROM sessions") {
		t.Errorf("second query = %q", mock.calls[1].query)
	}
	for i, c := range mock.calls {
		if len(c.args) != 1 || c.args[0] != "24 hours" {
			t.Errorf("call %d args = %v, want [24 hours]", i, c.args)
		}
	}

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log: %v\nraw: %s", err, buf.String())
	}
	if entry["sign_in_links_deleted"] != float64(7) {
		t.Errorf("sign_in_links_deleted = %v, want 7", entry["sign_in_links_deleted"])
	}
	if entry["sessions_deleted"] != float64(3) {
		t.Errorf("sessions_deleted = %v, want 3", entry["sessions_deleted"])
	}
	if _, ok := entry["duration_ms"]; !ok {
		t.Error("expected duration_ms in log")
	}
}

func TestCleanupJob_Run_CustomGraceHours(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{}
	job := NewCleanupJob(mock, newTestLogger(&buf))
	job.GraceHours = 1

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if mock.calls[0].args[0] != "1 hours" {
		t.Errorf("interval = %v, want %q", mock.calls[0].args[0], "1 hours")
	}
}

func TestCleanupJob_Run_Idempotent_ZeroRows(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{}
	job := NewCleanupJob(mock, newTestLogger(&buf))

	for i := 0; i < 2; i++ {
		if err := job.Run(context.Background()); err != nil {
			t.Fatalf("run %d: error = %v", i, err)
		}
	}
}

func TestCleanupJob_Run_DBFailure(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{err: errors.New("connection refused")}
	job := NewCleanupJob(mock, newTestLogger(&buf))

	err := job.Run(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "sign_in_links") {
		t.Errorf("error should name the table, got %v", err)
	}
	if len(mock.calls) != 1 {
		t.Errorf("should stop after the first failure, calls = %d", len(mock.calls))
	}
	if !strings.Contains(buf.String(), `"level":"ERROR"`) {
		t.Errorf("expected error log, got %s", buf.String())
	}
}

func TestCleanupJob_Run_RespectsContext(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{}
	job := NewCleanupJob(mock, newTestLogger(&buf))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := job.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}
