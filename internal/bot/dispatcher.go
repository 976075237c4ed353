// Package bot はLINEのイベントを会話状態機械に通し、セッション保存・副作用・返信をまとめて実行する。
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru"
	"github.com/hitoshi/docbot/internal/assembly"
	"github.com/hitoshi/docbot/internal/conversation"
	"github.com/hitoshi/docbot/internal/line"
	"github.com/hitoshi/docbot/internal/metrics"
	"github.com/hitoshi/docbot/internal/model"
	"github.com/hitoshi/docbot/internal/session"
	"github.com/hitoshi/docbot/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
)

const (
	// DefaultDedupCacheSize は重複排除のために覚えておくイベントIDの数。
	DefaultDedupCacheSize = 4096
	// DefaultRateLimit はユーザーごとの1分あたりの受付イベント数。
	DefaultRateLimit = 30
	// DefaultEventTimeout は1イベントの処理上限。書類生成を含む。
	DefaultEventTimeout = 90 * time.Second
	// maxPersistAttempts はバージョン競合時に状態機械を再実行する回数の上限。
	maxPersistAttempts = 3
	// limiterCacheSize は保持するユーザー別レートリミッタの数。
	limiterCacheSize = 10000
)

// StateMachine は1入力から次の状態を決める。
type StateMachine interface {
	Handle(ctx context.Context, sess *model.Session, in conversation.Input) conversation.Result
}

// ProfileWriter はプロフィールを永続化する。
type ProfileWriter interface {
	Save(ctx context.Context, profile *model.UserProfile) error
	SaveEmail(ctx context.Context, userID, email string) error
}

// DocumentAssembler はセッションから書類を生成する。
type DocumentAssembler interface {
	Assemble(ctx context.Context, sess *model.Session) (*assembly.Links, error)
}

// Sender はLINEにメッセージを送る。
type Sender interface {
	Send(ctx context.Context, dest line.Destination, msgs []model.Message) error
}

// Config は Dispatcher の設定。
type Config struct {
	DedupCacheSize int
	// RateLimit はユーザーごとの1分あたりの受付イベント数。0以下で無制限。
	RateLimit    int
	EventTimeout time.Duration
	Metrics      metrics.MetricsCollector
	Logger       *slog.Logger
}

// Dispatcher はイベント処理の入口。
type Dispatcher struct {
	machine   StateMachine
	sessions  session.Store
	locker    session.Locker
	profiles  ProfileWriter
	assembler DocumentAssembler
	sender    Sender
	cfg       Config

	seen     *lru.Cache
	limiters *lru.Cache
	limMu    sync.Mutex
	wg       sync.WaitGroup
}

// NewDispatcher は新しい Dispatcher を生成する。
func NewDispatcher(
	machine StateMachine,
	sessions session.Store,
	locker session.Locker,
	profiles ProfileWriter,
	assembler DocumentAssembler,
	sender Sender,
	cfg Config,
) (*Dispatcher, error) {
	if cfg.DedupCacheSize <= 0 {
		cfg.DedupCacheSize = DefaultDedupCacheSize
	}
	if cfg.EventTimeout <= 0 {
		cfg.EventTimeout = DefaultEventTimeout
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Nop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	seen, err := lru.New(cfg.DedupCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create dedup cache: %w", err)
	}
	limiters, err := lru.New(limiterCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create limiter cache: %w", err)
	}

	return &Dispatcher{
		machine:   machine,
		sessions:  sessions,
		locker:    locker,
		profiles:  profiles,
		assembler: assembler,
		sender:    sender,
		cfg:       cfg,
		seen:      seen,
		limiters:  limiters,
	}, nil
}

// Dispatch はイベント列をバックグラウンドで受信順に処理する。
// 呼び出し元のキャンセルは引き継がず、イベントごとに EventTimeout を設ける。
func (d *Dispatcher) Dispatch(ctx context.Context, events []line.Event) {
	if len(events) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for _, ev := range events {
			evCtx, cancel := context.WithTimeout(ctx, d.cfg.EventTimeout)
			if err := d.HandleEvent(evCtx, ev); err != nil {
				d.cfg.Logger.Error("failed to handle event",
					slog.String("user_id", ev.UserID),
					slog.String("event_id", ev.WebhookEventID),
					slog.String("error", err.Error()),
				)
			}
			cancel()
		}
	}()
}

// Wait は Dispatch で開始した処理の完了を待つ。ctx が先に終わった場合はそのエラーを返す。
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleEvent は1件のイベントを処理する。
// 重複イベントとレート超過は何も返信せずに捨てる。
// イベントIDは処理に成功した時点で既読にするため、失敗したイベントの再送は再び処理される。
func (d *Dispatcher) HandleEvent(ctx context.Context, ev line.Event) error {
	ctx, span := telemetry.StartSpan(ctx, "bot.HandleEvent",
		attribute.String("line.event_type", string(ev.Type)),
		attribute.String("line.event_id", ev.WebhookEventID),
	)
	defer span.End()

	d.cfg.Metrics.RecordEvent(string(ev.Type))

	if ev.WebhookEventID != "" {
		if d.seen.Contains(ev.WebhookEventID) {
			d.cfg.Metrics.RecordEventDropped(metrics.DropDuplicate)
			d.cfg.Logger.Debug("duplicate event dropped",
				slog.String("event_id", ev.WebhookEventID),
				slog.Bool("redelivery", ev.Redelivery),
			)
			return nil
		}
	}

	if !d.allow(ev.UserID) {
		d.cfg.Metrics.RecordEventDropped(metrics.DropRateLimited)
		d.cfg.Logger.Warn("event rate limited", slog.String("user_id", ev.UserID))
		return nil
	}

	in, ok := toInput(ev)
	if !ok {
		d.markSeen(ev.WebhookEventID)
		return nil
	}

	err := d.process(ctx, in, line.Destination{UserID: ev.UserID, ReplyToken: ev.ReplyToken})
	telemetry.RecordError(span, err)
	if err != nil {
		return err
	}
	d.markSeen(ev.WebhookEventID)
	return nil
}

func (d *Dispatcher) markSeen(eventID string) {
	if eventID != "" {
		d.seen.Add(eventID, struct{}{})
	}
}

// NotifyAuthCompleted はGoogle認証の完了を会話に通知する。返信トークンがないためプッシュで送る。
func (d *Dispatcher) NotifyAuthCompleted(ctx context.Context, userID string) error {
	ctx, span := telemetry.StartSpan(ctx, "bot.NotifyAuthCompleted")
	defer span.End()

	d.cfg.Metrics.RecordEvent(string(conversation.KindAuthCompleted))
	in := conversation.Input{Kind: conversation.KindAuthCompleted, UserID: userID}
	err := d.process(ctx, in, line.Destination{UserID: userID})
	telemetry.RecordError(span, err)
	return err
}

// toInput はLINEイベントを状態機械の入力に変換する。
func toInput(ev line.Event) (conversation.Input, bool) {
	in := conversation.Input{UserID: ev.UserID}
	switch ev.Type {
	case line.EventMessage:
		in.Kind = conversation.KindText
		in.Text = ev.Text
	case line.EventPostback:
		in.Kind = conversation.KindAction
		in.Action = ev.PostbackData
	case line.EventFollow:
		in.Kind = conversation.KindFollow
	case line.EventUnfollow:
		in.Kind = conversation.KindUnfollow
	default:
		return in, false
	}
	return in, in.UserID != ""
}

// allow はユーザーごとのトークンバケットでイベントを受け付けるか判定する。
func (d *Dispatcher) allow(userID string) bool {
	if d.cfg.RateLimit <= 0 {
		return true
	}

	d.limMu.Lock()
	var limiter *rate.Limiter
	if v, ok := d.limiters.Get(userID); ok {
		limiter = v.(*rate.Limiter)
	} else {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(d.cfg.RateLimit)), d.cfg.RateLimit)
		d.limiters.Add(userID, limiter)
	}
	d.limMu.Unlock()

	return limiter.Allow()
}

// process はユーザーロックを保持したまま、状態遷移・副作用・送信・書類生成を行う。
func (d *Dispatcher) process(ctx context.Context, in conversation.Input, dest line.Destination) error {
	unlock, err := d.locker.Lock(ctx, in.UserID)
	if err != nil {
		d.cfg.Metrics.RecordEventDropped(metrics.DropLock)
		return fmt.Errorf("failed to lock user %s: %w", in.UserID, err)
	}
	defer unlock()

	res, err := d.transition(ctx, in)
	if err != nil {
		d.cfg.Logger.Error("failed to persist session",
			slog.String("user_id", in.UserID),
			slog.String("input_kind", string(in.Kind)),
			slog.String("error", err.Error()),
		)
		d.send(ctx, dest, []model.Message{conversation.InternalError()})
		return err
	}

	d.runEffects(ctx, res.Effects)
	d.send(ctx, dest, res.Messages)

	for _, eff := range res.Effects {
		if gen, ok := eff.(conversation.EffectGenerate); ok {
			d.generate(ctx, gen.Session, line.Destination{UserID: in.UserID})
		}
	}
	return nil
}

// transition は現在のセッションで状態機械を実行し、結果を保存する。
// 保存が競合した場合は最新のセッションを読み直してやり直す。
func (d *Dispatcher) transition(ctx context.Context, in conversation.Input) (conversation.Result, error) {
	for attempt := 1; ; attempt++ {
		prev, err := d.sessions.Get(ctx, in.UserID)
		if err != nil {
			return conversation.Result{}, fmt.Errorf("failed to get session: %w", err)
		}

		res := d.machine.Handle(ctx, prev, in)

		err = d.persist(ctx, in.UserID, prev, res)
		if err == nil {
			if res.Session != nil {
				d.cfg.Metrics.RecordTransition(string(res.Session.State))
			}
			return res, nil
		}
		if !isConflict(err) || attempt >= maxPersistAttempts {
			return conversation.Result{}, err
		}
		d.cfg.Metrics.RecordVersionConflict()
		d.cfg.Logger.Warn("session version conflict, retrying",
			slog.String("user_id", in.UserID),
			slog.Int("attempt", attempt),
		)
	}
}

func (d *Dispatcher) persist(ctx context.Context, userID string, prev *model.Session, res conversation.Result) error {
	switch {
	case res.Clear:
		if err := d.sessions.Delete(ctx, userID); err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}
	case res.Session == nil:
	case prev == nil:
		if err := d.sessions.Create(ctx, res.Session); err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}
	default:
		if err := d.sessions.Update(ctx, res.Session); err != nil {
			return fmt.Errorf("failed to update session: %w", err)
		}
	}
	return nil
}

func isConflict(err error) bool {
	return errors.Is(err, session.ErrVersionConflict) || errors.Is(err, session.ErrNotFound)
}

// runEffects はプロフィール保存の副作用を実行する。失敗しても会話は進める。
func (d *Dispatcher) runEffects(ctx context.Context, effects []conversation.Effect) {
	for _, eff := range effects {
		switch e := eff.(type) {
		case conversation.EffectSaveEmail:
			if err := d.profiles.SaveEmail(ctx, e.UserID, e.Email); err != nil {
				d.cfg.Logger.Error("failed to save email",
					slog.String("user_id", e.UserID),
					slog.String("error", err.Error()),
				)
			}
		case conversation.EffectSaveProfile:
			profile := e.Profile
			if err := d.profiles.Save(ctx, &profile); err != nil {
				d.cfg.Logger.Error("failed to save profile",
					slog.String("user_id", profile.LineUserID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// send はメッセージを送る。送信に失敗してもセッションは巻き戻さない。
func (d *Dispatcher) send(ctx context.Context, dest line.Destination, msgs []model.Message) {
	if len(msgs) == 0 {
		return
	}
	if err := d.sender.Send(ctx, dest, msgs); err != nil {
		d.cfg.Metrics.RecordSendFailure()
		d.cfg.Logger.Error("failed to send messages",
			slog.String("user_id", dest.UserID),
			slog.Int("count", len(msgs)),
			slog.String("error", err.Error()),
		)
	}
}
