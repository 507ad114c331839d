package domain

// Mood values recorded by the panel. Anything else is treated as neutral
// when comparing moods.
const (
	MoodHappy   = "happy"
	MoodNeutral = "neutral"
	MoodSad     = "sad"
	MoodUnknown = "unknown"
)

// DiscussionSummary is rebuilt from object-store listing and object metadata
// on every uncached listing call.
type DiscussionSummary struct {
	DiscussionID string  `json:"discussion_id"`
	CountryCode  string  `json:"country_code"`
	Timestamp    string  `json:"timestamp"`
	FinalMood    string  `json:"final_mood"`
	FinalScore   float64 `json:"final_score"`
	StorageKey   string  `json:"storage_key"`
}

// Vote is a single expert's closing vote in a panel discussion.
type Vote struct {
	ExpertRole string  `json:"expert_role"`
	VoteMood   string  `json:"vote_mood"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// DiscussionMetadata is the metadata block of a stored discussion.
type DiscussionMetadata struct {
	Timestamp  string `json:"timestamp"`
	TotalTurns int    `json:"total_turns"`
}

// Discussion holds the typed view of a stored discussion document.
type Discussion struct {
	CountryCode  string             `json:"country_code"`
	Topic        string             `json:"topic"`
	FinalMood    string             `json:"final_mood"`
	FinalScore   float64            `json:"final_score"`
	Introduction string             `json:"introduction"`
	Conclusion   string             `json:"conclusion"`
	Metadata     DiscussionMetadata `json:"metadata"`
	Votes        []Vote             `json:"votes"`
}

// DiscussionDigest is the lightweight view of a discussion without its transcript.
type DiscussionDigest struct {
	DiscussionID string  `json:"discussion_id"`
	CountryCode  string  `json:"country_code"`
	Topic        string  `json:"topic"`
	FinalMood    string  `json:"final_mood"`
	FinalScore   float64 `json:"final_score"`
	Introduction string  `json:"introduction"`
	Conclusion   string  `json:"conclusion"`
	Timestamp    string  `json:"timestamp"`
	TotalTurns   int     `json:"total_turns"`
	Votes        []Vote  `json:"votes"`
}

// Digest projects a full discussion into its summary view.
func (d Discussion) Digest(discussionID string) DiscussionDigest {
	votes := d.Votes
	if votes == nil {
		votes = []Vote{}
	}
	return DiscussionDigest{
		DiscussionID: discussionID,
		CountryCode:  d.CountryCode,
		Topic:        d.Topic,
		FinalMood:    d.FinalMood,
		FinalScore:   d.FinalScore,
		Introduction: d.Introduction,
		Conclusion:   d.Conclusion,
		Timestamp:    d.Metadata.Timestamp,
		TotalTurns:   d.Metadata.TotalTurns,
		Votes:        votes,
	}
}

// CountryHistory is the discussion history of one country with its latest trend.
type CountryHistory struct {
	CountryCode string              `json:"country_code"`
	Discussions []DiscussionSummary `json:"discussions"`
	Trend       *Trend              `json:"trend"`
	Latest      *DiscussionSummary  `json:"latest"`
}
