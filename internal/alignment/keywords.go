package alignment

import (
	"strings"
	"unicode"
)

// stopwords are discarded before coverage scoring. Kept deliberately
// small; aggressive stopword lists eat domain terms.
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true,
	"but": true, "is": true, "are": true, "was": true, "were": true,
	"be": true, "been": true, "being": true, "have": true, "has": true,
	"had": true, "do": true, "does": true, "did": true, "will": true,
	"would": true, "could": true, "should": true, "may": true,
	"might": true, "can": true, "this": true, "that": true,
	"these": true, "those": true, "i": true, "you": true, "he": true,
	"she": true, "it": true, "we": true, "they": true, "what": true,
	"which": true, "who": true, "when": true, "where": true,
	"why": true, "how": true, "of": true, "in": true, "on": true,
	"at": true, "to": true, "for": true, "with": true, "about": true,
	"from": true, "by": true, "as": true, "into": true, "please": true,
	"me": true, "my": true, "your": true, "their": true, "its": true,
	"if": true, "then": true, "than": true, "so": true, "not": true,
	"no": true, "yes": true, "tell": true, "give": true, "explain": true,
}

// abbreviations are short tokens that carry meaning despite failing the
// length filter.
var abbreviations = map[string]bool{
	"ai": true, "ml": true, "api": true, "sql": true, "css": true,
	"xml": true, "ui": true, "ux": true, "os": true, "ip": true,
	"id": true, "url": true, "cpu": true, "gpu": true, "ram": true,
	"db": true, "js": true, "go": true, "c++": true, "aws": true,
	"gcp": true, "k8s": true, "http": true, "json": true, "dns": true,
	"tcp": true, "udp": true, "ssh": true, "tls": true, "jwt": true,
	"llm": true, "nlp": true, "gpt": true, "rest": true, "io": true,
}

// synonyms credits near-matches at a discount during coverage scoring.
var synonyms = map[string][]string{
	"big":      {"large", "huge", "enormous", "massive"},
	"small":    {"little", "tiny", "minor", "compact"},
	"fast":     {"quick", "rapid", "speedy", "swift"},
	"slow":     {"sluggish", "gradual", "leisurely"},
	"make":     {"create", "build", "produce", "construct"},
	"create":   {"make", "build", "generate", "produce"},
	"use":      {"utilize", "employ", "apply"},
	"show":     {"display", "demonstrate", "present", "illustrate"},
	"start":    {"begin", "launch", "initiate", "commence"},
	"end":      {"finish", "conclude", "terminate", "complete"},
	"buy":      {"purchase", "acquire", "obtain"},
	"car":      {"vehicle", "automobile", "auto"},
	"house":    {"home", "residence", "dwelling"},
	"job":      {"work", "occupation", "profession", "career"},
	"money":    {"cash", "funds", "currency", "capital"},
	"help":     {"assist", "aid", "support"},
	"problem":  {"issue", "difficulty", "challenge", "trouble"},
	"answer":   {"response", "reply", "solution"},
	"question": {"query", "inquiry", "prompt"},
	"error":    {"bug", "fault", "mistake", "failure"},
	"code":     {"program", "script", "implementation"},
	"write":    {"compose", "author", "draft"},
	"important": {"significant", "critical", "essential", "key"},
	"method":   {"approach", "technique", "way", "procedure"},
	"result":   {"outcome", "consequence", "output"},
}

// trimEdgePunct strips leading and trailing punctuation from a token.
func trimEdgePunct(tok string) string {
	return strings.TrimFunc(tok, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSymbol(r)
	})
}

func containsDigit(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// extractKeywords tokenizes by whitespace and keeps tokens that carry a
// digit, are a known abbreviation, or are longer than two characters,
// minus stopwords. Tokens containing digits survive edge trimming so
// "2+2?" keeps its arithmetic core.
func extractKeywords(text string) []string {
	var kept []string
	for _, raw := range strings.Fields(strings.ToLower(text)) {
		tok := trimEdgePunct(raw)
		if tok == "" {
			if containsDigit(raw) {
				tok = strings.TrimRight(raw, "?!.,;:")
			}
			if tok == "" {
				continue
			}
		}
		if stopwords[tok] {
			continue
		}
		if containsDigit(tok) || abbreviations[tok] || len(tok) > 2 {
			kept = append(kept, tok)
		}
	}
	return kept
}

// importantWords picks out the query terms a good answer is most likely
// to echo: capitalized words that are not question starters, long words,
// and anything carrying a digit.
func importantWords(query string) []string {
	questionStarters := map[string]bool{
		"what": true, "why": true, "how": true, "when": true,
		"where": true, "who": true, "which": true, "is": true,
		"are": true, "can": true, "does": true, "do": true,
	}
	var words []string
	for _, raw := range strings.Fields(query) {
		tok := trimEdgePunct(raw)
		if tok == "" {
			continue
		}
		lower := strings.ToLower(tok)
		first := []rune(tok)[0]
		capitalized := unicode.IsUpper(first) && !questionStarters[lower]
		if capitalized || len(tok) > 8 || containsDigit(tok) {
			words = append(words, lower)
		}
	}
	return words
}
