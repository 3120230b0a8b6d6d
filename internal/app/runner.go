package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"trivia-live-service/internal/broadcast"
	"trivia-live-service/internal/domain"
)

// Timings holds the host-side durations driving the state machine.
type Timings struct {
	Countdown        time.Duration // lobby/results -> question lead-in
	ResultsPause     time.Duration // pause after a deadline-driven reveal
	FastResultsPause time.Duration // pause after the all-answered fast path
	AnswerGrace      time.Duration // window slack for network latency
	AutoAdvance      bool          // false = host paces results -> next
}

// DefaultTimings mirrors the live game pacing: a 3s countdown, a 5s results
// pause (3s when everyone already answered), and a 2s submission grace.
func DefaultTimings() Timings {
	return Timings{
		Countdown:        3 * time.Second,
		ResultsPause:     5 * time.Second,
		FastResultsPause: 3 * time.Second,
		AnswerGrace:      2 * time.Second,
		AutoAdvance:      true,
	}
}

type timerAction int

const (
	timerCountdownDone timerAction = iota + 1
	timerQuestionDeadline
	timerResultsPause
)

type runnerEvent struct {
	// command fields; reply receives the outcome for host-driven actions
	start      bool
	allowEmpty bool
	reveal     bool
	next       bool
	end        bool
	scores     bool
	reply      chan error
	scoresOut  chan map[string]int

	// timer fields
	timerFired bool
	action     timerAction
	gen        int
}

// Runner is the single logical coordinator for one session. Every phase
// transition, ledger application, and timer decision for the session runs on
// its one goroutine, so no two of them ever execute concurrently. Sessions
// share nothing, so independent runners can proceed in parallel.
type Runner struct {
	sessionID string
	quiz      domain.Quiz
	store     GameStore
	caster    broadcast.Broadcaster
	timings   Timings
	clock     func() time.Time

	events chan runnerEvent
	done   chan struct{}

	// loop-owned state; never touched outside the run goroutine
	sess         domain.Session
	ledger       *Ledger
	participants map[string]struct{}
	answered     map[string]struct{}
	pending      *time.Timer
	timerGen     int
}

// NewRunner builds a runner for a session still in its lobby. The ledger and
// participant set are rebuilt from the store, so a restarted host resumes
// with correct totals.
func NewRunner(ctx context.Context, sessionID string, quiz domain.Quiz, store GameStore, caster broadcast.Broadcaster, timings Timings, clock func() time.Time) (*Runner, error) {
	sess, err := store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	participants, err := store.ListParticipants(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	answers, err := store.ListAnswers(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if clock == nil {
		clock = time.Now
	}
	r := &Runner{
		sessionID:    sessionID,
		quiz:         quiz,
		store:        store,
		caster:       caster,
		timings:      timings,
		clock:        clock,
		events:       make(chan runnerEvent, 16),
		done:         make(chan struct{}),
		sess:         sess,
		ledger:       RebuildLedger(answers),
		participants: make(map[string]struct{}, len(participants)),
		answered:     make(map[string]struct{}),
	}
	for _, p := range participants {
		r.participants[p.ID] = struct{}{}
	}

	feed, cancelFeed := store.Feed(sessionID)
	go r.run(feed, cancelFeed)
	return r, nil
}

// Start moves the session out of the lobby. allowEmpty is the host's
// explicit override for starting with zero participants.
func (r *Runner) Start(allowEmpty bool) error {
	return r.send(runnerEvent{start: true, allowEmpty: allowEmpty})
}

// Reveal forces an early question_active -> results transition.
func (r *Runner) Reveal() error {
	return r.send(runnerEvent{reveal: true})
}

// Next advances past the results phase in host-paced mode.
func (r *Runner) Next() error {
	return r.send(runnerEvent{next: true})
}

// End force-finishes the session, cancelling every pending timer.
func (r *Runner) End() error {
	return r.send(runnerEvent{end: true})
}

// Scores returns the ledger's current participant totals.
func (r *Runner) Scores() map[string]int {
	out := make(chan map[string]int, 1)
	select {
	case r.events <- runnerEvent{scores: true, scoresOut: out}:
		return <-out
	case <-r.done:
		return nil
	}
}

// Done is closed when the session reaches its terminal state.
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

func (r *Runner) send(ev runnerEvent) error {
	ev.reply = make(chan error, 1)
	select {
	case r.events <- ev:
		return <-ev.reply
	case <-r.done:
		return domain.ErrSessionFinished
	}
}

func (r *Runner) run(feed <-chan FeedEvent, cancelFeed func()) {
	defer cancelFeed()
	for {
		select {
		case ev := <-r.events:
			r.handle(ev)
		case fe, ok := <-feed:
			if !ok {
				return
			}
			r.handleFeed(fe)
		}
		if r.sess.Phase == domain.PhaseFinished {
			return
		}
	}
}

func (r *Runner) handle(ev runnerEvent) {
	switch {
	case ev.scores:
		ev.scoresOut <- r.ledger.Snapshot()
	case ev.start:
		ev.reply <- r.handleStart(ev.allowEmpty)
	case ev.reveal:
		ev.reply <- r.handleReveal()
	case ev.next:
		ev.reply <- r.handleNext()
	case ev.end:
		ev.reply <- r.finish()
	case ev.timerFired:
		r.handleTimer(ev)
	}
}

func (r *Runner) handleStart(allowEmpty bool) error {
	if r.sess.Phase != domain.PhaseLobby {
		return domain.ErrInvalidPhase
	}
	if len(r.quiz.Questions) == 0 {
		return domain.ErrNoQuestions
	}
	if len(r.participants) == 0 && !allowEmpty {
		return domain.ErrNoParticipants
	}

	next := r.sess
	next.Status = domain.StatusActive
	next.Phase = domain.PhaseCountdown
	if err := r.persistSession(next); err != nil {
		return err
	}
	r.sess = next
	r.publish(broadcast.NewCountdown(0))
	r.schedule(timerCountdownDone, r.timings.Countdown)
	return nil
}

func (r *Runner) showQuestion(index int) error {
	next := r.sess
	next.CurrentQuestionIndex = index
	next.QuestionStartedAt = r.clock()
	next.Phase = domain.PhaseQuestionActive
	if err := r.persistSession(next); err != nil {
		return err
	}
	r.sess = next
	r.answered = make(map[string]struct{})

	q := r.quiz.Questions[index]
	// The live window runs to the limit plus the grace; scoring still
	// clamps at the limit.
	r.publish(broadcast.NewQuestion(index, next.QuestionStartedAt, q))
	r.schedule(timerQuestionDeadline, time.Duration(q.TimeLimit)*time.Second+r.timings.AnswerGrace)
	return nil
}

func (r *Runner) handleReveal() error {
	if r.sess.Phase != domain.PhaseQuestionActive {
		return domain.ErrInvalidPhase
	}
	return r.reveal(false)
}

// reveal moves question_active -> results. fast marks the all-answered path,
// which uses the shorter pause because nobody is still thinking.
func (r *Runner) reveal(fast bool) error {
	next := r.sess
	next.Phase = domain.PhaseResults
	if err := r.persistSession(next); err != nil {
		return err
	}
	r.sess = next
	r.cancelTimer()
	r.publish(broadcast.NewShowResults(next.CurrentQuestionIndex))

	if r.timings.AutoAdvance {
		pause := r.timings.ResultsPause
		if fast {
			pause = r.timings.FastResultsPause
		}
		r.schedule(timerResultsPause, pause)
	}
	return nil
}

func (r *Runner) handleNext() error {
	if r.sess.Phase != domain.PhaseResults {
		return domain.ErrInvalidPhase
	}
	return r.advance()
}

func (r *Runner) advance() error {
	nextIndex := r.sess.CurrentQuestionIndex + 1
	if nextIndex >= len(r.quiz.Questions) {
		return r.finish()
	}
	next := r.sess
	next.Phase = domain.PhaseCountdown
	if err := r.persistSession(next); err != nil {
		return err
	}
	r.sess = next
	r.cancelTimer()
	r.publish(broadcast.NewCountdown(nextIndex))
	r.schedule(timerCountdownDone, r.timings.Countdown)
	return nil
}

func (r *Runner) finish() error {
	if r.sess.Phase == domain.PhaseFinished {
		return nil
	}
	next := r.sess
	next.Phase = domain.PhaseFinished
	next.Status = domain.StatusFinished
	next.EndedAt = r.clock()
	if err := r.persistSession(next); err != nil {
		return err
	}
	r.sess = next
	r.cancelTimer()
	r.publish(broadcast.NewGameEnd())
	close(r.done)
	return nil
}

func (r *Runner) handleTimer(ev runnerEvent) {
	// A stale fire is one the current generation superseded; a faster path
	// already advanced the phase and cancelled this timer logically.
	if ev.gen != r.timerGen {
		return
	}
	var err error
	switch ev.action {
	case timerCountdownDone:
		if r.sess.Phase == domain.PhaseCountdown {
			err = r.showQuestion(r.sess.CurrentQuestionIndex + 1)
		}
	case timerQuestionDeadline:
		if r.sess.Phase == domain.PhaseQuestionActive {
			err = r.reveal(false)
		}
	case timerResultsPause:
		if r.sess.Phase == domain.PhaseResults {
			err = r.advance()
		}
	}
	if err != nil {
		log.Printf("session %s: transition failed: %v", r.sessionID, err)
	}
}

func (r *Runner) handleFeed(fe FeedEvent) {
	switch fe.Kind {
	case FeedParticipantJoined:
		r.participants[fe.Participant.ID] = struct{}{}
	case FeedAnswerRecorded:
		r.applyAnswer(fe.Answer)
	}
}

func (r *Runner) applyAnswer(a domain.Answer) {
	if !r.ledger.Apply(a.ParticipantID, a.QuestionID, a.Points) {
		return
	}
	if a.Points != 0 {
		if err := r.store.AddScore(context.Background(), a.ParticipantID, a.Points); err != nil {
			log.Printf("session %s: mirror score for %s: %v", r.sessionID, a.ParticipantID, err)
		}
	}

	if r.sess.Phase != domain.PhaseQuestionActive || a.QuestionIndex != r.sess.CurrentQuestionIndex {
		return
	}
	r.answered[a.ParticipantID] = struct{}{}
	if r.allAnswered() {
		if err := r.reveal(true); err != nil {
			log.Printf("session %s: early reveal failed: %v", r.sessionID, err)
		}
	}
}

func (r *Runner) allAnswered() bool {
	if len(r.participants) == 0 {
		return false
	}
	for id := range r.participants {
		if _, ok := r.answered[id]; !ok {
			return false
		}
	}
	return true
}

// schedule arms the session's single pending timer, superseding any prior
// one. Fires are tagged with a generation so a timer stopped too late to
// prevent delivery is still ignored.
func (r *Runner) schedule(action timerAction, d time.Duration) {
	r.cancelTimer()
	r.timerGen++
	gen := r.timerGen
	r.pending = time.AfterFunc(d, func() {
		select {
		case r.events <- runnerEvent{timerFired: true, action: action, gen: gen}:
		case <-r.done:
		}
	})
}

func (r *Runner) cancelTimer() {
	if r.pending != nil {
		r.pending.Stop()
		r.pending = nil
	}
	r.timerGen++
}

// persistSession writes a candidate transition before anything is broadcast,
// so a reconnecting player can always reconstruct the phase from the store
// alone. A failed write is retried once; repeated failure aborts the
// transition with the runner's own state untouched, so the same transition
// stays retryable.
func (r *Runner) persistSession(sess domain.Session) error {
	ctx := context.Background()
	if err := r.store.UpdateSession(ctx, sess); err != nil {
		log.Printf("session %s: persist failed, retrying: %v", r.sessionID, err)
		if err := r.store.UpdateSession(ctx, sess); err != nil {
			return fmt.Errorf("persist session %s: %w", r.sessionID, err)
		}
	}
	return nil
}

// publish is best-effort: losing the broadcast channel never halts the state
// machine, players fall back to store-based resync.
func (r *Runner) publish(msg broadcast.Message) {
	if err := r.caster.Publish(context.Background(), r.sessionID, msg); err != nil {
		log.Printf("session %s: broadcast %s failed: %v", r.sessionID, msg.Type, err)
	}
}
