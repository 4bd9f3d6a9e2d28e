package onboarding

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nao1215/onboarding/pkg/event"
)

// ErrInvalidDate はセッション日付を解釈できないことを表す。
var ErrInvalidDate = errors.New("セッション日付が不正です")

// onboardedHour はonboarded_atに設定する時刻（セッション日の正午）。
const onboardedHour = 12

// IDGenerator は一意な識別子を生成する関数。並行に呼び出される。
type IDGenerator func() string

// RecordInput はオンボーディングセッション記録の入力。
type RecordInput struct {
	// Attendees は参加した学生IDのリスト。
	Attendees []string
	// Date はセッションの開催日（YYYY-MM-DD またはRFC3339）。
	Date string
}

// Recorder はオンボーディングセッションを記録するユースケース。
type Recorder struct {
	store      *Store
	dispatcher Dispatcher
	newID      IDGenerator
	location   *time.Location
}

// RecorderOption はRecorderの設定を変更する関数。
type RecorderOption func(*Recorder)

// WithIDGenerator は識別子の生成方法を差し替える。
func WithIDGenerator(gen IDGenerator) RecorderOption {
	return func(r *Recorder) {
		r.newID = gen
	}
}

// WithLocation はonboarded_atの正午を解釈するタイムゾーンを設定する。
func WithLocation(loc *time.Location) RecorderOption {
	return func(r *Recorder) {
		if loc != nil {
			r.location = loc
		}
	}
}

// NewRecorder は新しいRecorderを生成する。
// デフォルトではUUIDで識別子を生成し、UTCの正午をonboarded_atとする。
func NewRecorder(store *Store, dispatcher Dispatcher, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:      store,
		dispatcher: dispatcher,
		newID:      uuid.NewString,
		location:   time.UTC,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record はオンボーディングセッションを1トランザクションで記録し、生成したセッションIDを返す。
//
// セッション行の挿入後、参加者ごとに学生のonboarded_at更新（未設定の場合のみ）と
// 参加者リンク行の挿入を並行に実行し、すべて完了してからコミットする。
// いずれかが失敗した場合はトランザクション全体をロールバックしてエラーを返す。
// コミット後、参加者ごとにonboarding_session.attendedイベントを投入する。
// 参加者が空の場合はセッション行のみを記録し、イベントは投入しない。
func (r *Recorder) Record(ctx context.Context, in RecordInput) (string, error) {
	date, err := ParseSessionDate(in.Date)
	if err != nil {
		return "", err
	}
	onboardedAt := time.Date(date.Year(), date.Month(), date.Day(), onboardedHour, 0, 0, 0, r.location)

	sessionID := r.newID()

	err = r.store.WithTx(ctx, func(tx *Tx) error {
		if err := tx.InsertSession(ctx, Session{ID: sessionID, Date: date.Format(time.DateOnly)}); err != nil {
			return err
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, studentID := range in.Attendees {
			studentID := studentID
			g.Go(func() error {
				// 既にオンボーディング済みの学生は更新されないが、参加記録は必ず残す
				if _, err := tx.MarkStudentOnboarded(gctx, studentID, onboardedAt); err != nil {
					return err
				}
				return tx.InsertAttendee(gctx, Attendee{
					ID:        r.newID(),
					SessionID: sessionID,
					StudentID: studentID,
				})
			})
		}
		return g.Wait()
	})
	if err != nil {
		return "", fmt.Errorf("オンボーディングセッションの記録に失敗: %w", err)
	}

	log.Printf("[Onboarding] セッションを記録しました: session_id=%s, date=%s, attendees=%d",
		sessionID, date.Format(time.DateOnly), len(in.Attendees))

	r.dispatchAttended(context.WithoutCancel(ctx), sessionID, in.Attendees)
	return sessionID, nil
}

// dispatchAttended は参加者ごとにattendedイベントを投入する。
// コミット済みのため失敗してもロールバックはできず、ログに記録して次へ進む。
func (r *Recorder) dispatchAttended(ctx context.Context, sessionID string, attendees []string) {
	for _, studentID := range attendees {
		ev, err := event.New(sessionID, event.AggregateTypeOnboardingSession, event.TypeOnboardingSessionAttended,
			event.OnboardingSessionAttendedData{
				OnboardingSessionID: sessionID,
				StudentID:           studentID,
			})
		if err != nil {
			log.Printf("[Onboarding] イベント生成に失敗: session_id=%s, student_id=%s: %v", sessionID, studentID, err)
			continue
		}
		if err := r.dispatcher.Dispatch(ctx, ev); err != nil {
			log.Printf("[Onboarding] %sイベントの投入に失敗: session_id=%s, student_id=%s: %v",
				ev.EventType, sessionID, studentID, err)
		}
	}
}

// ParseSessionDate はセッション日付を解釈する。
// YYYY-MM-DD形式を基本とし、RFC3339形式の場合はその日付部分を使用する。
func ParseSessionDate(s string) (time.Time, error) {
	if d, err := time.Parse(time.DateOnly, s); err == nil {
		return d, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
}
