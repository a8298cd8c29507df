package types

// Stats summarizes the pipeline for dashboards and the chat interface.
type Stats struct {
	PostingsDiscovered int           `json:"postings_discovered"`
	PostingsMatched    int           `json:"postings_matched"`
	PostingsRejected   int           `json:"postings_rejected"`
	PostingsPending    int           `json:"postings_pending"`
	ByStage            map[Stage]int `json:"by_stage"`
	Submitted          int           `json:"submitted"`
	SubmittedToday     int           `json:"submitted_today"`
	Responses          int           `json:"responses"`
	Interviews         int           `json:"interviews"`
	Rejections         int           `json:"rejections"`
	NeedsAttention     int           `json:"needs_attention"`
	AverageMatchScore  float64       `json:"average_match_score"`
	// ResponseRate is responses (including interviews and outcome rejections) over submitted, in percent.
	ResponseRate float64 `json:"response_rate"`
}
