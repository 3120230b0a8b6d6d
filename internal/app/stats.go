package app

import (
	"sort"

	"trivia-live-service/internal/domain"
)

// LeaderboardEntry is one ranked row of the scoreboard.
type LeaderboardEntry struct {
	Rank          int    `json:"rank"`
	ParticipantID string `json:"participantId"`
	Nickname      string `json:"nickname"`
	Score         int    `json:"score"`
}

// Leaderboard ranks participants by score descending. Ties break by join
// order (first joined ranks higher) so the ranking is deterministic and
// reproducible across reads.
func Leaderboard(participants []domain.Participant) []LeaderboardEntry {
	sorted := make([]domain.Participant, len(participants))
	copy(sorted, participants)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].JoinedAt.Before(sorted[j].JoinedAt)
	})

	entries := make([]LeaderboardEntry, len(sorted))
	for i, p := range sorted {
		entries[i] = LeaderboardEntry{
			Rank:          i + 1,
			ParticipantID: p.ID,
			Nickname:      p.Nickname,
			Score:         p.Score,
		}
	}
	return entries
}

// QuestionStats aggregates one question's answers. Participants who never
// answered count toward neither Answered nor Distribution.
type QuestionStats struct {
	QuestionIndex int     `json:"questionIndex"`
	QuestionID    string  `json:"questionId"`
	Answered      int     `json:"answered"`
	Correct       int     `json:"correct"`
	Accuracy      float64 `json:"accuracy"` // 0 if nobody answered
	AvgTime       float64 `json:"avgTime"`  // seconds
	Distribution  []int   `json:"distribution"`
}

// ComputeQuestionStats builds per-question accuracy, average answer time,
// and the option-pick distribution.
func ComputeQuestionStats(q domain.Question, index int, answers []domain.Answer) QuestionStats {
	stats := QuestionStats{
		QuestionIndex: index,
		QuestionID:    q.ID,
		Distribution:  make([]int, len(q.Options)),
	}
	var totalTime float64
	for _, a := range answers {
		if a.QuestionID != q.ID {
			continue
		}
		stats.Answered++
		if a.Correct {
			stats.Correct++
		}
		totalTime += a.TimeTaken.Seconds()
		if a.SelectedOption >= 0 && a.SelectedOption < len(stats.Distribution) {
			stats.Distribution[a.SelectedOption]++
		}
	}
	if stats.Answered > 0 {
		stats.Accuracy = float64(stats.Correct) / float64(stats.Answered)
		stats.AvgTime = totalTime / float64(stats.Answered)
	}
	return stats
}

// SessionReport is the retrospective view of a session: final standings,
// per-question breakdown, and overall accuracy (the unweighted mean of
// per-question accuracies).
type SessionReport struct {
	SessionID       string             `json:"sessionId"`
	QuizTitle       string             `json:"quizTitle"`
	Leaderboard     []LeaderboardEntry `json:"leaderboard"`
	Questions       []QuestionStats    `json:"questions"`
	OverallAccuracy float64            `json:"overallAccuracy"`
}

// BuildReport aggregates a full session from its persisted rows. It works
// both live (mid-session) and after the session finished.
func BuildReport(sessionID string, quiz domain.Quiz, participants []domain.Participant, answers []domain.Answer) SessionReport {
	report := SessionReport{
		SessionID:   sessionID,
		QuizTitle:   quiz.Title,
		Leaderboard: Leaderboard(participants),
		Questions:   make([]QuestionStats, 0, len(quiz.Questions)),
	}
	var accuracySum float64
	for i, q := range quiz.Questions {
		stats := ComputeQuestionStats(q, i, answers)
		report.Questions = append(report.Questions, stats)
		accuracySum += stats.Accuracy
	}
	if len(report.Questions) > 0 {
		report.OverallAccuracy = accuracySum / float64(len(report.Questions))
	}
	return report
}
