package alignment

import (
	"regexp"
	"strings"
)

// Format fast paths. Each pairs a prompt detector with a response
// validator; when both pass the scorer returns a fixed high score and
// skips additive scoring entirely. Ordered, first match wins.

const (
	scoreMCQ            = 0.75
	scoreClassification = 0.72
	scoreLongContext    = 0.72
	scoreFunctionCall   = 0.72
	scoreRoleplay       = 0.70
	scoreExtraction     = 0.70
	scoreMultiTurn      = 0.72
)

var (
	reChoiceMarker  = regexp.MustCompile(`\b[A-D][.)] `)
	reMCQLetter     = regexp.MustCompile(`(?i)^\s*[A-D]\s*$`)
	reMCQLetterTerm = regexp.MustCompile(`(?i)^\s*[A-D][.)!]\s*$`)
	reMCQAnswer     = regexp.MustCompile(`(?i)(the answer is|i (believe|think) the answer is|choose|option)\s+[A-D]\b`)

	reIntentLabel   = regexp.MustCompile(`(?i)(intent|category|label|classification):\s*\w+`)
	reIntentNatural = regexp.MustCompile(`(?i)(the )?intent is \w+`)

	reJSONCall       = regexp.MustCompile(`\{\s*"(name|function|tool)"\s*:`)
	reJSONSchema     = regexp.MustCompile(`"(parameters|input_schema|properties)"\s*:`)
	reStructuredCall = regexp.MustCompile(`(?i)\b(function|tool|call):\s*\w+`)
	reToolPhrase     = regexp.MustCompile(`(?i)\b(use|call|invoke|using)\b.{0,40}\b(tool|function)\b`)
	reNoToolNeeded   = regexp.MustCompile(`(?i)no (tool|function)( call)?( is)? (needed|required|necessary)`)
	reParamPattern   = regexp.MustCompile(`\w+\(\s*\w+\s*[=:]`)
	reKnownFunction  = regexp.MustCompile(`(?i)\b(get_\w+|search_\w+|create_\w+|list_\w+|fetch_\w+|calculate\w*|lookup\w*|query_\w+)\b`)

	reTurnNumber   = regexp.MustCompile(`(?i)\bturn\s*\d`)
	reRepeatedNull = regexp.MustCompile(`(?i)(null\s*){3,}|(undefined\s*){3,}`)

	reAnswerMarker = regexp.MustCompile(`(?i)(the answer is|according to|based on|it is|this is|it states)`)
	reBulletList   = regexp.MustCompile(`(?m)^\s*([-*•]|\d+[.)])\s+`)
	reJSONArray    = regexp.MustCompile(`\[\s*["{\d]`)
)

type fastPath struct {
	name     string
	score    float64
	detect   func(query string) bool
	validate func(query, response string) bool
}

var fastPaths = []fastPath{
	{name: "mcq", score: scoreMCQ, detect: detectMCQ, validate: validateMCQ},
	{name: "classification", score: scoreClassification, detect: detectClassification, validate: validateClassification},
	{name: "long_context_qa", score: scoreLongContext, detect: detectLongContext, validate: validateLongContext},
	{name: "function_call", score: scoreFunctionCall, detect: detectFunctionCall, validate: validateFunctionCall},
	{name: "roleplay", score: scoreRoleplay, detect: detectRoleplay, validate: validateRoleplay},
	{name: "extraction", score: scoreExtraction, detect: detectExtraction, validate: validateExtraction},
	{name: "multi_turn", score: scoreMultiTurn, detect: detectMultiTurn, validate: validateMultiTurn},
}

// F1: multiple-choice questions.

func detectMCQ(query string) bool {
	lower := strings.ToLower(query)
	if strings.Contains(lower, "multiple-choice question") || strings.Contains(lower, "multiple choice question") {
		return true
	}
	if len(reChoiceMarker.FindAllString(query, -1)) >= 2 {
		return true
	}
	trimmed := strings.TrimSpace(lower)
	return strings.HasSuffix(trimmed, "answer:")
}

func validateMCQ(_, response string) bool {
	if reMCQLetter.MatchString(response) || reMCQLetterTerm.MatchString(response) {
		return true
	}
	return reMCQAnswer.MatchString(response)
}

// F2: intent classification.

func detectClassification(query string) bool {
	lower := strings.ToLower(query)
	instruction := strings.Contains(lower, "classify") ||
		strings.Contains(lower, "categorize") ||
		strings.Contains(lower, "what is the intent") ||
		strings.Contains(lower, "identify the intent") ||
		strings.Contains(lower, "determine the intent")
	if !instruction {
		return false
	}
	intentList := strings.Contains(lower, "intents:") ||
		strings.Contains(lower, "categories:") ||
		strings.Contains(lower, "possible intents") ||
		strings.Contains(lower, "possible categories") ||
		strings.Contains(lower, "labels:") ||
		strings.Contains(lower, "options:")
	outputFormat := strings.Contains(lower, "output format") ||
		strings.Contains(lower, "respond with") ||
		strings.Contains(lower, "answer with") ||
		strings.Contains(lower, "return only") ||
		strings.Contains(lower, "reply with")
	return intentList || outputFormat
}

func validateClassification(_, response string) bool {
	return reIntentLabel.MatchString(response) || reIntentNatural.MatchString(response)
}

// F3: long-context question answering.

func detectLongContext(query string) bool {
	if len(strings.Fields(query)) < 300 {
		return false
	}
	lower := strings.ToLower(query)
	qaMarker := strings.Contains(lower, "question:") ||
		strings.Contains(lower, "answer the") ||
		strings.Contains(lower, "based on the") ||
		strings.Contains(lower, "according to the")
	functionMarker := strings.Contains(lower, "function") || strings.Contains(lower, "tool")
	codeFence := strings.Contains(query, "```")
	return qaMarker || functionMarker || codeFence
}

var shortFactualAnswers = map[string]bool{
	"yes": true, "no": true, "true": true, "false": true,
	"none": true, "unknown": true, "n/a": true,
}

func validateLongContext(_, response string) bool {
	words := strings.Fields(strings.TrimSpace(response))
	if len(words) == 0 {
		return false
	}
	if len(words) <= 2 {
		for _, w := range words {
			lower := strings.ToLower(trimEdgePunct(w))
			if lower == "" {
				return false
			}
			if shortFactualAnswers[lower] {
				continue
			}
			for _, r := range lower {
				if !isAlphanumeric(r) && r != '-' && r != '/' {
					return false
				}
			}
		}
		return true
	}
	if reJSONCall.MatchString(response) || reStructuredCall.MatchString(response) {
		return true
	}
	if reAnswerMarker.MatchString(response) {
		return true
	}
	if len(words) < 5 {
		return false
	}
	alphabetic := 0
	for _, w := range words {
		if isAlphaWord(trimEdgePunct(w)) {
			alphabetic++
		}
	}
	return alphabetic >= 3 && response != strings.ToUpper(response)
}

// F4: function calling.

func detectFunctionCall(query string) bool {
	lower := strings.ToLower(query)
	marker := strings.Contains(lower, "function") ||
		strings.Contains(lower, "tool") ||
		strings.Contains(lower, "api call")
	if !marker {
		return false
	}
	if reJSONSchema.MatchString(query) {
		return true
	}
	instruction := strings.Contains(lower, "call the") ||
		strings.Contains(lower, "use the") ||
		strings.Contains(lower, "invoke")
	if instruction {
		return true
	}
	listing := strings.Contains(lower, "available tools") ||
		strings.Contains(lower, "available functions") ||
		strings.Contains(lower, "tools:") ||
		strings.Contains(lower, "functions:")
	if listing {
		return true
	}
	formatMarkers := 0
	for _, m := range []string{"output format", "respond with", "return only", "json", "reply with"} {
		if strings.Contains(lower, m) {
			formatMarkers++
		}
	}
	return formatMarkers >= 2
}

func validateFunctionCall(_, response string) bool {
	if reJSONCall.MatchString(response) {
		return true
	}
	if strings.Contains(response, "```") && (strings.ContainsAny(response, "(){}")) {
		return true
	}
	if reStructuredCall.MatchString(response) {
		return true
	}
	if reToolPhrase.MatchString(response) {
		return true
	}
	if reKnownFunction.MatchString(response) {
		return true
	}
	if reParamPattern.MatchString(response) {
		return true
	}
	return reNoToolNeeded.MatchString(response)
}

// F5: roleplay / persona.

func detectRoleplay(query string) bool {
	lower := strings.ToLower(query)
	for _, phrase := range []string{
		"act as", "pretend you are", "you are a", "you are an",
		"in the style of", "roleplay as", "imagine you are",
		"speak like", "respond as if",
	} {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func validateRoleplay(_, response string) bool {
	if len(strings.Fields(response)) < 5 {
		return false
	}
	lower := strings.ToLower(response)
	for _, refusal := range []string{
		"as an ai", "as a language model", "i cannot", "i can't",
		"i am not able", "i'm not able",
	} {
		if strings.Contains(lower, refusal) {
			return false
		}
	}
	return true
}

// F6: extraction / listing.

func detectExtraction(query string) bool {
	lower := strings.ToLower(query)
	for _, phrase := range []string{
		"extract", "list all", "find all", "identify all",
		"pull out", "enumerate", "list the", "name all",
	} {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func validateExtraction(_, response string) bool {
	if len(strings.Fields(response)) < 3 {
		return false
	}
	if reBulletList.MatchString(response) {
		return true
	}
	if reJSONArray.MatchString(response) {
		return true
	}
	return len(strings.Split(response, ",")) >= 3
}

// F7: multi-turn continuation.

func detectMultiTurn(query string) bool {
	lower := strings.ToLower(query)
	if strings.Contains(lower, "conversation history") ||
		strings.Contains(lower, "previous conversation") ||
		strings.Contains(lower, "chat history") {
		return true
	}
	if reTurnNumber.MatchString(query) {
		return true
	}
	paired := strings.Contains(lower, "user:") && strings.Contains(lower, "assistant:")
	current := strings.Contains(lower, "current") ||
		strings.Contains(lower, "now respond") ||
		strings.Contains(lower, "latest")
	return paired && current
}

func validateMultiTurn(_, response string) bool {
	if len(strings.Fields(response)) < 3 {
		return false
	}
	lower := strings.ToLower(response)
	if strings.Contains(lower, "lorem ipsum") {
		return false
	}
	return !reRepeatedNull.MatchString(response)
}

func isAlphanumeric(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
}

func isAlphaWord(w string) bool {
	if w == "" {
		return false
	}
	for _, r := range strings.ToLower(w) {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return true
}
