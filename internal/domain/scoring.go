package domain

import (
	"math"
	"time"
)

const (
	maxPoints = 1000
	minPoints = 500
)

// Score maps (time taken, time limit, correctness) to points.
//
// Incorrect answers earn 0. Correct answers earn 500-1000 scaled linearly by
// speed: an instant answer earns the full 1000, an answer at the limit earns
// 500. A non-positive time limit is treated as an instant answer.
func Score(timeTaken, timeLimit time.Duration, correct bool) int {
	if !correct {
		return 0
	}
	if timeLimit <= 0 {
		return maxPoints
	}
	clamped := timeTaken
	if clamped < 0 {
		clamped = 0
	}
	if clamped > timeLimit {
		clamped = timeLimit
	}
	speedFactor := 1 - 0.5*(clamped.Seconds()/timeLimit.Seconds())
	points := int(math.Round(maxPoints * speedFactor))
	if points < minPoints {
		points = minPoints
	}
	return points
}
