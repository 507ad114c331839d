package domain

// Mood change labels.
const (
	MoodImproving = "improving"
	MoodDeclining = "declining"
	MoodStable    = "stable"
)

// Score directions. Equal consecutive scores are DirectionFlat.
const (
	DirectionUp   = "up"
	DirectionDown = "down"
	DirectionFlat = "flat"
)

// Trend compares the two most recent discussions of a country.
type Trend struct {
	ScoreChange float64 `json:"score_change"`
	MoodChange  string  `json:"mood_change"`
	Direction   string  `json:"direction"`
}

var moodOrdinals = map[string]int{
	MoodSad:     0,
	MoodNeutral: 1,
	MoodHappy:   2,
}

// MoodOrdinal maps a mood onto sad < neutral < happy. Unrecognised moods rank as neutral.
func MoodOrdinal(mood string) int {
	if v, ok := moodOrdinals[mood]; ok {
		return v
	}
	return moodOrdinals[MoodNeutral]
}

// CompareMoods labels the move from previous to latest.
func CompareMoods(previous, latest string) string {
	prev, next := MoodOrdinal(previous), MoodOrdinal(latest)
	switch {
	case next > prev:
		return MoodImproving
	case next < prev:
		return MoodDeclining
	default:
		return MoodStable
	}
}

// ComputeTrend expects summaries sorted most recent first and returns nil
// when fewer than two are available.
func ComputeTrend(discussions []DiscussionSummary) *Trend {
	if len(discussions) < 2 {
		return nil
	}
	latest, previous := discussions[0], discussions[1]

	change := latest.FinalScore - previous.FinalScore
	direction := DirectionFlat
	switch {
	case change > 0:
		direction = DirectionUp
	case change < 0:
		direction = DirectionDown
	}

	return &Trend{
		ScoreChange: change,
		MoodChange:  CompareMoods(previous.FinalMood, latest.FinalMood),
		Direction:   direction,
	}
}
