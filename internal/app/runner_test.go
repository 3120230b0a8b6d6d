package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"trivia-live-service/internal/app"
	"trivia-live-service/internal/broadcast"
	"trivia-live-service/internal/domain"
	"trivia-live-service/internal/infra/memory"
)

func fastTimings() app.Timings {
	return app.Timings{
		Countdown:        20 * time.Millisecond,
		ResultsPause:     40 * time.Millisecond,
		FastResultsPause: 30 * time.Millisecond,
		AnswerGrace:      time.Second,
		AutoAdvance:      true,
	}
}

// fastQuiz keeps question windows short so deadline-path tests stay quick.
func fastQuiz() domain.Quiz {
	return domain.Quiz{
		ID:    "quiz-fast",
		Title: "Fast",
		Questions: []domain.Question{
			{ID: "q1", Text: "One?", Options: []string{"a", "b"}, CorrectOption: 0, TimeLimit: 1},
			{ID: "q2", Text: "Two?", Options: []string{"a", "b"}, CorrectOption: 1, TimeLimit: 1},
		},
	}
}

type gameHarness struct {
	store   *memory.GameStore
	broker  *memory.Broker
	service *app.Service
}

func newHarness(t *testing.T, timings app.Timings) *gameHarness {
	t.Helper()
	store := memory.NewGameStore()
	broker := memory.NewBroker()
	quizRepo := memory.NewQuizRepository(memory.NewStaticQuizLoader(map[string]domain.Quiz{
		"quiz-fast":  fastQuiz(),
		"quiz-empty": {ID: "quiz-empty", Title: "Empty"},
	}), 5*time.Minute)
	return &gameHarness{
		store:   store,
		broker:  broker,
		service: app.NewService(store, quizRepo, broker, timings),
	}
}

func (h *gameHarness) createWithPlayers(t *testing.T, quizID string, names ...string) (domain.Session, []domain.Participant) {
	t.Helper()
	ctx := context.Background()
	sess, err := h.service.CreateSession(ctx, quizID)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	var players []domain.Participant
	for _, name := range names {
		_, p, err := h.service.Join(ctx, sess.RoomCode, name, "")
		if err != nil {
			t.Fatalf("join %s: %v", name, err)
		}
		players = append(players, p)
	}
	return sess, players
}

func nextMessage(t *testing.T, ch <-chan broadcast.Message, within time.Duration) broadcast.Message {
	t.Helper()
	select {
	case msg, ok := <-ch:
		if !ok {
			t.Fatal("broadcast channel closed")
		}
		return msg
	case <-time.After(within):
		t.Fatal("timed out waiting for broadcast")
	}
	return broadcast.Message{}
}

func TestStartGuards(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, fastTimings())

	empty, err := h.service.CreateSession(ctx, "quiz-empty")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := h.service.Start(ctx, empty.ID, true); !errors.Is(err, domain.ErrNoQuestions) {
		t.Fatalf("expected ErrNoQuestions, got %v", err)
	}

	sess, _ := h.createWithPlayers(t, "quiz-fast")
	if err := h.service.Start(ctx, sess.ID, false); !errors.Is(err, domain.ErrNoParticipants) {
		t.Fatalf("expected ErrNoParticipants, got %v", err)
	}
	// The explicit override lets an empty lobby start.
	if err := h.service.Start(ctx, sess.ID, true); err != nil {
		t.Fatalf("start with override: %v", err)
	}
	if err := h.service.Start(ctx, sess.ID, true); !errors.Is(err, domain.ErrInvalidPhase) {
		t.Fatalf("double start should fail, got %v", err)
	}
}

// Full auto-advance run: everyone answers promptly, the all-answered fast
// path reveals each question exactly once, and the session finishes on its
// own with correct persisted state.
func TestAutoAdvanceFullGame(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, fastTimings())
	sess, players := h.createWithPlayers(t, "quiz-fast", "Alice", "Bob", "Cara")

	msgs, cancel := h.broker.Subscribe(sess.ID)
	defer cancel()

	if err := h.service.Start(ctx, sess.ID, false); err != nil {
		t.Fatalf("start: %v", err)
	}

	counts := map[string]int{}
	deadline := time.After(5 * time.Second)
loop:
	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				break loop
			}
			counts[msg.Type]++
			if msg.Type == broadcast.TypeShowResults && counts[msg.Type] == 1 {
				// Live scores are readable mid-game from the runner cache.
				scores := h.service.RunnerScores(sess.ID)
				if len(scores) != len(players) {
					t.Fatalf("expected live scores for all players, got %v", scores)
				}
				if scores[players[0].ID] < 500 {
					t.Fatalf("correct answer must score at least the floor, got %v", scores)
				}
				if scores[players[1].ID] != 0 {
					t.Fatalf("wrong answer must score zero, got %v", scores)
				}
			}
			if msg.Type == broadcast.TypeQuestion {
				if msg.Question.Question.TimeLimit == 0 {
					t.Fatalf("question payload missing time limit: %+v", msg.Question)
				}
				for i, p := range players {
					// First player answers correctly, the rest pick option
					// i%2 so both outcomes occur.
					res, err := h.service.SubmitAnswer(ctx, sess.ID, p.ID, msg.Question.Question.ID, i%2, time.Now())
					if err != nil {
						t.Fatalf("submit: %v", err)
					}
					if !res.Accepted {
						t.Fatalf("expected accepted submission, got %+v", res)
					}
				}
			}
			if msg.Type == broadcast.TypeGameEnd {
				break loop
			}
		case <-deadline:
			t.Fatalf("game did not finish; message counts: %v", counts)
		}
	}

	if counts[broadcast.TypeCountdown] != 2 || counts[broadcast.TypeQuestion] != 2 {
		t.Fatalf("expected 2 countdowns and 2 questions, got %v", counts)
	}
	if counts[broadcast.TypeShowResults] != 2 {
		t.Fatalf("results must be revealed exactly once per question, got %d", counts[broadcast.TypeShowResults])
	}

	final, err := h.store.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if !final.Finished() || final.EndedAt.IsZero() {
		t.Fatalf("session not terminal: %+v", final)
	}

	answers, _ := h.store.ListAnswers(ctx, sess.ID)
	if len(answers) != 6 {
		t.Fatalf("expected 6 answers, got %d", len(answers))
	}

	// Mirrored participant scores equal a ledger rebuilt from the answers.
	rebuilt := app.RebuildLedger(answers)
	participants, _ := h.store.ListParticipants(ctx, sess.ID)
	for _, p := range participants {
		if p.Score != rebuilt.Score(p.ID) {
			t.Fatalf("participant %s: mirrored %d, rebuilt %d", p.Nickname, p.Score, rebuilt.Score(p.ID))
		}
	}
}

// With a silent participant the deadline timer, not the fast path, reveals
// results; the no-answer case shows up in stats, never as an answer row.
func TestDeadlineRevealWithSilentParticipant(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, fastTimings())
	sess, players := h.createWithPlayers(t, "quiz-fast", "Alice", "Ghost")

	msgs, cancel := h.broker.Subscribe(sess.ID)
	defer cancel()

	if err := h.service.Start(ctx, sess.ID, false); err != nil {
		t.Fatalf("start: %v", err)
	}

	msg := nextMessage(t, msgs, time.Second)
	if msg.Type != broadcast.TypeCountdown {
		t.Fatalf("expected countdown first, got %s", msg.Type)
	}
	msg = nextMessage(t, msgs, time.Second)
	if msg.Type != broadcast.TypeQuestion {
		t.Fatalf("expected question, got %s", msg.Type)
	}

	if _, err := h.service.SubmitAnswer(ctx, sess.ID, players[0].ID, "q1", 0, time.Now()); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// Only one of two answered, so the reveal waits for the 1s deadline.
	revealed := nextMessage(t, msgs, 3*time.Second)
	if revealed.Type != broadcast.TypeShowResults {
		t.Fatalf("expected show_results, got %s", revealed.Type)
	}

	if err := h.service.End(ctx, sess.ID); err != nil {
		t.Fatalf("end: %v", err)
	}

	report, err := h.service.Results(ctx, sess.ID)
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	if report.Questions[0].Answered != 1 {
		t.Fatalf("silent participant must not count as answered: %+v", report.Questions[0])
	}
}

// Force-ending cancels pending timers: nothing fires after game_end.
func TestForceEndCancelsTimers(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, fastTimings())
	sess, _ := h.createWithPlayers(t, "quiz-fast", "Alice")

	msgs, cancel := h.broker.Subscribe(sess.ID)
	defer cancel()

	if err := h.service.Start(ctx, sess.ID, false); err != nil {
		t.Fatalf("start: %v", err)
	}
	if msg := nextMessage(t, msgs, time.Second); msg.Type != broadcast.TypeCountdown {
		t.Fatalf("expected countdown, got %s", msg.Type)
	}

	// End during countdown; the question timer must never fire.
	if err := h.service.End(ctx, sess.ID); err != nil {
		t.Fatalf("end: %v", err)
	}
	if msg := nextMessage(t, msgs, time.Second); msg.Type != broadcast.TypeGameEnd {
		t.Fatalf("expected game_end, got %s", msg.Type)
	}

	select {
	case msg, ok := <-msgs:
		if ok {
			t.Fatalf("stale timer fired after finish: %s", msg.Type)
		}
	case <-time.After(1500 * time.Millisecond):
	}

	final, _ := h.store.GetSession(ctx, sess.ID)
	if !final.Finished() {
		t.Fatalf("session not terminal after force end: %+v", final)
	}

	// Ending an already finished session is a no-op.
	if err := h.service.End(ctx, sess.ID); err != nil {
		t.Fatalf("idempotent end: %v", err)
	}
}

// Host-paced mode: results wait for an explicit next; the question window is
// still machine-driven because it is a scoring boundary.
func TestManualModePacing(t *testing.T) {
	ctx := context.Background()
	timings := fastTimings()
	timings.AutoAdvance = false
	h := newHarness(t, timings)
	sess, players := h.createWithPlayers(t, "quiz-fast", "Alice")

	msgs, cancel := h.broker.Subscribe(sess.ID)
	defer cancel()

	if err := h.service.Start(ctx, sess.ID, false); err != nil {
		t.Fatalf("start: %v", err)
	}
	nextMessage(t, msgs, time.Second) // countdown
	q := nextMessage(t, msgs, time.Second)
	if q.Type != broadcast.TypeQuestion {
		t.Fatalf("expected question, got %s", q.Type)
	}

	if _, err := h.service.SubmitAnswer(ctx, sess.ID, players[0].ID, "q1", 0, time.Now()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if msg := nextMessage(t, msgs, time.Second); msg.Type != broadcast.TypeShowResults {
		t.Fatalf("expected show_results, got %s", msg.Type)
	}

	// No auto-advance: nothing arrives until the host acts.
	select {
	case msg := <-msgs:
		t.Fatalf("unexpected auto-advance in manual mode: %s", msg.Type)
	case <-time.After(200 * time.Millisecond):
	}

	if err := h.service.Next(ctx, sess.ID); err != nil {
		t.Fatalf("next: %v", err)
	}
	if msg := nextMessage(t, msgs, time.Second); msg.Type != broadcast.TypeCountdown {
		t.Fatalf("expected countdown after next, got %s", msg.Type)
	}
	q2 := nextMessage(t, msgs, time.Second)
	if q2.Type != broadcast.TypeQuestion || q2.Question.QuestionIndex != 1 {
		t.Fatalf("expected question 1, got %+v", q2)
	}

	// Host reveals early instead of waiting out the window.
	if err := h.service.Reveal(ctx, sess.ID); err != nil {
		t.Fatalf("reveal: %v", err)
	}
	if msg := nextMessage(t, msgs, time.Second); msg.Type != broadcast.TypeShowResults {
		t.Fatalf("expected show_results, got %s", msg.Type)
	}

	// Next after the last question finishes the game.
	if err := h.service.Next(ctx, sess.ID); err != nil {
		t.Fatalf("final next: %v", err)
	}
	if msg := nextMessage(t, msgs, time.Second); msg.Type != broadcast.TypeGameEnd {
		t.Fatalf("expected game_end, got %s", msg.Type)
	}
}

// Persisted state always leads the broadcast: by the time a message arrives,
// the store already reflects the phase it announces.
func TestPersistBeforeBroadcast(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, fastTimings())
	sess, _ := h.createWithPlayers(t, "quiz-fast", "Alice")

	msgs, cancel := h.broker.Subscribe(sess.ID)
	defer cancel()

	if err := h.service.Start(ctx, sess.ID, false); err != nil {
		t.Fatalf("start: %v", err)
	}
	if msg := nextMessage(t, msgs, time.Second); msg.Type != broadcast.TypeCountdown {
		t.Fatalf("expected countdown, got %s", msg.Type)
	}
	row, _ := h.store.GetSession(ctx, sess.ID)
	if row.Status != domain.StatusActive {
		t.Fatalf("store not updated before countdown broadcast: %+v", row)
	}

	q := nextMessage(t, msgs, time.Second)
	if q.Type != broadcast.TypeQuestion {
		t.Fatalf("expected question, got %s", q.Type)
	}
	row, _ = h.store.GetSession(ctx, sess.ID)
	if row.CurrentQuestionIndex != 0 || row.QuestionStartedAt.IsZero() {
		t.Fatalf("store not updated before question broadcast: %+v", row)
	}
	if !row.QuestionStartedAt.Equal(q.Question.StartedAt) {
		t.Fatalf("broadcast start stamp %v differs from store %v", q.Question.StartedAt, row.QuestionStartedAt)
	}
}

// flakyStore fails a fixed number of session writes before healing, standing
// in for a briefly unreachable database.
type flakyStore struct {
	app.GameStore
	mu       sync.Mutex
	failures int
}

func (s *flakyStore) UpdateSession(ctx context.Context, sess domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("connection reset by peer")
	}
	return s.GameStore.UpdateSession(ctx, sess)
}

// A transition whose write never lands must leave the runner where it was, so
// the same command succeeds once the store heals.
func TestFailedPersistLeavesStartRetryable(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{GameStore: memory.NewGameStore(), failures: 2}
	broker := memory.NewBroker()
	quizRepo := memory.NewQuizRepository(memory.NewStaticQuizLoader(map[string]domain.Quiz{
		"quiz-fast": fastQuiz(),
	}), 5*time.Minute)
	service := app.NewService(store, quizRepo, broker, fastTimings())

	sess, err := service.CreateSession(ctx, "quiz-fast")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, _, err := service.Join(ctx, sess.RoomCode, "Alice", ""); err != nil {
		t.Fatalf("join: %v", err)
	}

	msgs, cancel := broker.Subscribe(sess.ID)
	defer cancel()

	if err := service.Start(ctx, sess.ID, false); err == nil {
		t.Fatal("start must surface the store failure")
	}

	// The aborted start left both the store and the broadcast stream alone.
	row, err := store.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if row.Phase != domain.PhaseLobby || row.Status != domain.StatusLobby {
		t.Fatalf("aborted start must not change the stored session: %+v", row)
	}
	select {
	case msg := <-msgs:
		t.Fatalf("aborted start must not broadcast, got %s", msg.Type)
	default:
	}

	// Once the store heals, the same command goes through.
	if err := service.Start(ctx, sess.ID, false); err != nil {
		t.Fatalf("retried start: %v", err)
	}
	if msg := nextMessage(t, msgs, time.Second); msg.Type != broadcast.TypeCountdown {
		t.Fatalf("expected countdown, got %s", msg.Type)
	}
	row, _ = store.GetSession(ctx, sess.ID)
	if row.Status != domain.StatusActive {
		t.Fatalf("retried start not persisted: %+v", row)
	}
}

// Submissions inside the grace window are accepted while the session is live;
// the clamp still scores them as deadline answers.
func TestGraceWindowAcceptsLateSubmission(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, fastTimings())
	sess, players := h.createWithPlayers(t, "quiz-fast", "Alice", "Ghost")

	msgs, cancel := h.broker.Subscribe(sess.ID)
	defer cancel()

	if err := h.service.Start(ctx, sess.ID, false); err != nil {
		t.Fatalf("start: %v", err)
	}
	nextMessage(t, msgs, time.Second) // countdown
	q := nextMessage(t, msgs, time.Second)
	if q.Type != broadcast.TypeQuestion {
		t.Fatalf("expected question, got %s", q.Type)
	}

	// Wait until just past the nominal limit but inside the grace second.
	limit := time.Duration(q.Question.Question.TimeLimit) * time.Second
	time.Sleep(time.Until(q.Question.StartedAt.Add(limit + 150*time.Millisecond)))

	res, err := h.service.SubmitAnswer(ctx, sess.ID, players[0].ID, q.Question.Question.ID, 0, time.Now())
	if err != nil {
		t.Fatalf("grace submit: %v", err)
	}
	if !res.Accepted || res.Points != 500 {
		t.Fatalf("grace submission must be accepted at the floor score, got %+v", res)
	}
}
