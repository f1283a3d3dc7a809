package classify

// Verdict is the decision derived from a driver's spoken response.
type Verdict string

const (
	Accepted   Verdict = "ACCEPTED"
	Declined   Verdict = "DECLINED"
	Unclear    Verdict = "UNCLEAR"
	NoResponse Verdict = "NO_RESPONSE"
)

// Confidence grades how strongly the transcript supports the verdict.
type Confidence string

const (
	Low    Confidence = "low"
	Medium Confidence = "medium"
	High   Confidence = "high"
)

// Analysis is the full classifier output. MatchedKeywords is kept for audit:
// it is serialized into the queue entry so operators can see why a call was
// interpreted the way it was.
type Analysis struct {
	Verdict         Verdict    `json:"verdict"`
	Confidence      Confidence `json:"confidence"`
	Reason          string     `json:"reason"`
	MatchedKeywords []string   `json:"matched_keywords,omitempty"`
}

// Classifier maps a call transcript to a dispatch decision. Implementations
// must be pure: no I/O, no side effects, deterministic for a given input. The
// state machine depends only on this interface so the keyword matcher can be
// swapped for a model-based classifier later.
type Classifier interface {
	Classify(transcript string) Analysis
}
