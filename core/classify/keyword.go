package classify

import (
	"fmt"
	"strings"
)

// Keyword sets cover English plus the Hindi phrases drivers commonly answer
// with. Matching is case-insensitive substring containment.
var positiveKeywords = []string{
	"yes", "yeah", "sure", "okay", "ok", "fine", "accept", "available",
	"i can", "i will", "i am available", "i'm available", "on my way",
	"coming", "reach", "confirm", "haan", "ha", "thik hai", "theek hai",
}

var negativeKeywords = []string{
	"no", "not", "busy", "can't", "cannot", "unable", "unavailable",
	"not available", "occupied", "engaged", "sorry", "nahi", "nhi",
	"not possible", "won't", "will not", "refuse", "decline", "far",
	"too far", "another case", "other work",
}

// Transcripts carry speaker labels when the call connected, so their presence
// distinguishes an unclear answer from a call that never got one.
var conversationMarkers = []string{"user", "assistant"}

// KeywordClassifier decides by counting positive and negative keyword hits.
type KeywordClassifier struct{}

// NewKeywordClassifier returns the default transcript classifier.
func NewKeywordClassifier() KeywordClassifier { return KeywordClassifier{} }

// Classify applies the keyword decision table to the transcript.
func (KeywordClassifier) Classify(transcript string) Analysis {
	if strings.TrimSpace(transcript) == "" {
		return Analysis{Verdict: NoResponse, Confidence: Low, Reason: "empty transcript"}
	}

	text := strings.ToLower(transcript)
	posHits := matches(text, positiveKeywords)
	negHits := matches(text, negativeKeywords)

	switch {
	case len(posHits) > 0 && len(negHits) == 0:
		conf := Medium
		if len(posHits) >= 2 {
			conf = High
		}
		return Analysis{
			Verdict:         Accepted,
			Confidence:      conf,
			Reason:          fmt.Sprintf("found %d positive indicators", len(posHits)),
			MatchedKeywords: posHits,
		}
	case len(negHits) > 0 && len(posHits) == 0:
		conf := Medium
		if len(negHits) >= 2 {
			conf = High
		}
		return Analysis{
			Verdict:         Declined,
			Confidence:      conf,
			Reason:          fmt.Sprintf("found %d negative indicators", len(negHits)),
			MatchedKeywords: negHits,
		}
	case len(posHits) > 0 && len(negHits) > 0:
		// Mixed answer: whichever side has more hits wins, ties accept.
		if len(negHits) > len(posHits) {
			return Analysis{
				Verdict:         Declined,
				Confidence:      Medium,
				Reason:          "more negative indicators than positive",
				MatchedKeywords: negHits,
			}
		}
		return Analysis{
			Verdict:         Accepted,
			Confidence:      Medium,
			Reason:          "more positive indicators than negative",
			MatchedKeywords: posHits,
		}
	}

	for _, m := range conversationMarkers {
		if strings.Contains(text, m) {
			return Analysis{Verdict: Unclear, Confidence: Low, Reason: "conversation detected but no clear response"}
		}
	}
	return Analysis{Verdict: NoResponse, Confidence: Low, Reason: "no clear indicators found"}
}

func matches(text string, keywords []string) []string {
	var hits []string
	for _, k := range keywords {
		if strings.Contains(text, k) {
			hits = append(hits, k)
		}
	}
	return hits
}
