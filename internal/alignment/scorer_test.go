package alignment

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScore_MCQFastPath(t *testing.T) {
	s := NewScorer()

	a := s.Score(
		"Answer the following multiple-choice question: What is 2+2? A) 3 B) 4 C) 5 D) 6",
		"B",
		0.3,
	)

	assert.Equal(t, 0.75, a.AlignmentScore)
	assert.Equal(t, true, a.Features["is_mcq"])
	assert.Equal(t, true, a.Features["valid_mcq_response"])
	assert.Equal(t, 0.25, a.BaselineUsed)
	assert.True(t, a.IsTrivial)
}

func TestScore_MCQInvalidResponseFallsThrough(t *testing.T) {
	s := NewScorer()

	a := s.Score(
		"Answer the following multiple-choice question: What is 2+2? A) 3 B) 4 C) 5 D) 6",
		"That is a very interesting arithmetic question with a long history.",
		0.3,
	)

	assert.Equal(t, true, a.Features["is_mcq"])
	assert.Equal(t, false, a.Features["valid_mcq_response"])
	assert.NotEqual(t, 0.75, a.AlignmentScore)
}

func TestScore_MCQAnswerPhrase(t *testing.T) {
	s := NewScorer()

	a := s.Score(
		"Which option is correct? A) red B) green C) blue D) yellow",
		"I believe the answer is C because of the wavelength.",
		0.4,
	)

	assert.Equal(t, 0.75, a.AlignmentScore)
}

func TestScore_TrivialFactual(t *testing.T) {
	s := NewScorer()

	a := s.Score("What is 2+2?", "4", 0.3)

	assert.GreaterOrEqual(t, a.AlignmentScore, 0.65)
	assert.True(t, a.IsTrivial)
	assert.Equal(t, 0.25, a.BaselineUsed)
	assert.NotContains(t, a.Reasoning, "off-topic")
}

func TestScore_ClassificationFastPath(t *testing.T) {
	s := NewScorer()

	a := s.Score(
		"Classify the user message into one of the following intents. Intents: billing, support, sales. Respond with the intent only.",
		"Intent: billing",
		0.3,
	)

	assert.Equal(t, 0.72, a.AlignmentScore)
	assert.Equal(t, true, a.Features["is_classification"])
}

func TestScore_ClassificationNaturalLanguage(t *testing.T) {
	s := NewScorer()

	a := s.Score(
		"Classify this support ticket. Categories: bug, feature, question. Answer with one category.",
		"The intent is bug",
		0.3,
	)

	assert.Equal(t, 0.72, a.AlignmentScore)
}

func TestScore_FunctionCallFastPath(t *testing.T) {
	s := NewScorer()

	a := s.Score(
		"You have access to the following tools: get_weather(location). Call the appropriate tool to answer the user.",
		`{"name": "get_weather", "parameters": {"location": "Paris"}}`,
		0.5,
	)

	assert.Equal(t, 0.72, a.AlignmentScore)
	assert.Equal(t, true, a.Features["is_function_call"])
}

func TestScore_FunctionCallNoToolNeeded(t *testing.T) {
	s := NewScorer()

	a := s.Score(
		"You have access to the following tools: get_weather(location). Call the appropriate tool if needed.",
		"No tool needed for this request, the user is just saying hello.",
		0.5,
	)

	assert.Equal(t, 0.72, a.AlignmentScore)
}

func TestScore_RoleplayFastPath(t *testing.T) {
	s := NewScorer()

	a := s.Score(
		"Act as a pirate captain and greet the crew.",
		"Arr matey, welcome aboard the finest ship on the seven seas!",
		0.4,
	)

	assert.Equal(t, 0.70, a.AlignmentScore)
	assert.Equal(t, true, a.Features["is_roleplay"])
}

func TestScore_RoleplayRefusalRejected(t *testing.T) {
	s := NewScorer()

	a := s.Score(
		"Act as a pirate captain and greet the crew.",
		"As an AI language model I cannot pretend to be a pirate captain.",
		0.4,
	)

	assert.Equal(t, false, a.Features["valid_roleplay_response"])
	assert.NotEqual(t, 0.70, a.AlignmentScore)
}

func TestScore_ExtractionFastPath(t *testing.T) {
	s := NewScorer()

	a := s.Score(
		"Extract all email addresses from the following text: contact alice@example.com or bob@example.com for details.",
		"- alice@example.com\n- bob@example.com\n- support@example.com",
		0.3,
	)

	assert.Equal(t, 0.70, a.AlignmentScore)
	assert.Equal(t, true, a.Features["is_extraction"])
}

func TestScore_MultiTurnFastPath(t *testing.T) {
	s := NewScorer()

	a := s.Score(
		"Conversation history:\nUser: hi\nAssistant: hello\nUser: what's the weather like?\nNow respond to the latest user message.",
		"It looks sunny and warm today in your area.",
		0.3,
	)

	assert.Equal(t, 0.72, a.AlignmentScore)
	assert.Equal(t, true, a.Features["is_multi_turn"])
}

func TestScore_MultiTurnGarbageRejected(t *testing.T) {
	s := NewScorer()

	a := s.Score(
		"Conversation history:\nUser: hi\nAssistant: hello\nUser: ok?\nNow respond to the latest user message.",
		"null null null null",
		0.3,
	)

	assert.Equal(t, false, a.Features["valid_multi_turn_response"])
}

func TestScore_LongContextFastPath(t *testing.T) {
	s := NewScorer()

	filler := strings.Repeat("the quick brown fox jumps over the lazy dog ", 40)
	query := filler + "Question: What color is the fox? Respond based on the passage."

	a := s.Score(query, "According to the passage, the fox is brown.", 0.5)

	assert.Equal(t, 0.72, a.AlignmentScore)
	assert.Equal(t, true, a.Features["is_long_context_qa"])
}

func TestScore_LongContextShortAnswer(t *testing.T) {
	s := NewScorer()

	filler := strings.Repeat("alpha beta gamma delta epsilon zeta eta theta iota kappa ", 35)
	query := filler + "Question: Is the statement true? Respond based on the passage."

	a := s.Score(query, "Yes", 0.5)

	assert.Equal(t, 0.72, a.AlignmentScore)
}

func TestScore_OffTopicPenalty(t *testing.T) {
	s := NewScorer()

	a := s.Score(
		"How does photosynthesis work in plants?",
		"The stock market closed higher today with tech shares leading gains across all major indices.",
		0.6,
	)

	assert.LessOrEqual(t, a.AlignmentScore, 0.15)
	assert.Contains(t, a.Reasoning, "off-topic")
}

func TestScore_HardQueryWithExplanation(t *testing.T) {
	s := NewScorer()

	response := "The sky appears blue because sunlight scatters off air molecules. " +
		"First, shorter wavelengths scatter more strongly, therefore blue light reaches " +
		"our eyes from every direction. This means the effect, explained in detail by " +
		"Rayleigh, dominates the daytime sky. For example, at sunset the light path " +
		"lengthens and the blue is scattered away, since the angle changes."

	a := s.Score("Explain why the sky is blue in detail", response, 0.8)

	assert.GreaterOrEqual(t, a.AlignmentScore, 0.5)
	assert.LessOrEqual(t, a.AlignmentScore, 1.0)
	assert.False(t, a.IsTrivial)
}

func TestScore_UncertaintyPenalty(t *testing.T) {
	s := NewScorer()

	a := s.Score(
		"Why do leaves change color in autumn season?",
		"I'm not sure about that.",
		0.4,
	)

	pattern, ok := a.Features["answer_pattern"].(float64)
	require.True(t, ok)
	assert.Less(t, pattern, 0.0)
}

func TestScore_Deterministic(t *testing.T) {
	s := NewScorer()

	query := "Compare the difference between TCP and UDP protocols"
	response := "TCP is connection-oriented and reliable, therefore it retransmits lost " +
		"packets, whereas UDP is connectionless and faster because it skips acknowledgements."

	first := s.Score(query, response, 0.6)
	second := s.Score(query, response, 0.6)

	assert.Equal(t, first.AlignmentScore, second.AlignmentScore)
	assert.Equal(t, first.Features, second.Features)
}

func TestScore_ClampedToUnitInterval(t *testing.T) {
	s := NewScorer()

	cases := []struct{ query, response string; difficulty float64 }{
		{"", "", 0},
		{"x", "y", 1},
		{"What is the capital of France?", "Paris", 0.1},
		{strings.Repeat("word ", 500), strings.Repeat("text ", 500), 0.9},
	}
	for _, tc := range cases {
		a := s.Score(tc.query, tc.response, tc.difficulty)
		assert.GreaterOrEqual(t, a.AlignmentScore, 0.0)
		assert.LessOrEqual(t, a.AlignmentScore, 1.0)
	}
}
