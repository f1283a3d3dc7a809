package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeywordClassifier_Classify(t *testing.T) {
	c := NewKeywordClassifier()

	tests := []struct {
		name       string
		transcript string
		verdict    Verdict
		confidence Confidence
	}{
		{"clear acceptance", "Yes, I can come", Accepted, High},
		{"single positive", "sure", Accepted, Medium},
		{"clear decline", "No sorry too far", Declined, High},
		{"single negative", "busy", Declined, Medium},
		{"empty transcript", "", NoResponse, Low},
		{"whitespace only", "   \n\t ", NoResponse, Low},
		{"mixed tie accepts", "maybe yes but actually no", Accepted, Medium},
		{"mixed negative wins", "yes but I am busy, too far, not possible", Declined, Medium},
		{"mixed positive wins", "no no, yes I will confirm, coming now", Accepted, Medium},
		{"conversation without answer", "user: hello? assistant: hello, anyone?", Unclear, Low},
		{"gibberish", "beep beep silence", NoResponse, Low},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := c.Classify(tt.transcript)
			assert.Equal(t, tt.verdict, res.Verdict)
			assert.Equal(t, tt.confidence, res.Confidence)
		})
	}
}

func TestKeywordClassifier_Deterministic(t *testing.T) {
	c := NewKeywordClassifier()
	first := c.Classify("Haan, thik hai, on my way")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, c.Classify("Haan, thik hai, on my way"))
	}
	assert.Equal(t, Accepted, first.Verdict)
	assert.Equal(t, High, first.Confidence)
	assert.NotEmpty(t, first.MatchedKeywords)
}

func TestKeywordClassifier_HindiKeywords(t *testing.T) {
	c := NewKeywordClassifier()
	assert.Equal(t, Declined, c.Classify("nahi, main busy hu").Verdict)
	assert.Equal(t, Accepted, c.Classify("theek hai, aata hu").Verdict)
}
