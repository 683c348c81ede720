package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Event は認証操作1回分の監査レコードです。
// パスワードおよびそのハッシュは決して含めません。
type Event struct {
	ID      string    // イベントID
	Action  string    // signup / signin / current_user
	Email   string    // 対象メールアドレス（判明している場合）
	UserID  string    // 対象アカウントID（判明している場合）
	Success bool      // 操作の成否
	Reason  string    // 失敗理由（成功時は空）
	At      time.Time // 発生時刻
}

// Sink は監査レコードの出力先です。
// 認証サービスを実ログ基盤なしでテストできるよう注入可能にしています。
type Sink interface {
	Record(ctx context.Context, e Event)
}

// SlogSink は slog に構造化ログとして監査レコードを出力します。
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink は SlogSink を作成します。
func NewSlogSink(logger *slog.Logger) *SlogSink {
	return &SlogSink{logger: logger}
}

// Record は監査レコードを1件出力します。
func (s *SlogSink) Record(ctx context.Context, e Event) {
	level := slog.LevelInfo
	if !e.Success {
		level = slog.LevelWarn
	}
	s.logger.LogAttrs(ctx, level, "auth audit",
		slog.String("event_id", e.ID),
		slog.String("action", e.Action),
		slog.String("email", e.Email),
		slog.String("user_id", e.UserID),
		slog.Bool("success", e.Success),
		slog.String("reason", e.Reason),
		slog.Time("at", e.At),
	)
}

// NopSink は何も記録しない Sink です。
type NopSink struct{}

// Record は何もしません。
func (NopSink) Record(ctx context.Context, e Event) {}

// newEvent は共通フィールドを埋めた Event を作成します。
func newEvent(action, email string) Event {
	return Event{
		ID:     uuid.New().String(),
		Action: action,
		Email:  email,
		At:     time.Now().UTC(),
	}
}
