package util

import (
	"strings"
	"unicode"
)

// MinKeywordLength is the exclusive lower bound on keyword length.
const MinKeywordLength = 3

var stopWords = map[string]struct{}{
	"about": {}, "after": {}, "agent": {}, "also": {}, "been": {}, "before": {},
	"being": {}, "both": {}, "could": {}, "does": {}, "each": {}, "from": {},
	"have": {}, "here": {}, "into": {}, "just": {}, "like": {}, "make": {},
	"many": {}, "more": {}, "most": {}, "much": {}, "only": {}, "other": {},
	"over": {}, "please": {}, "should": {}, "some": {}, "such": {}, "than": {},
	"that": {}, "their": {}, "them": {}, "then": {}, "there": {}, "these": {},
	"they": {}, "this": {}, "those": {}, "very": {}, "want": {}, "what": {},
	"when": {}, "where": {}, "which": {}, "while": {}, "with": {}, "would": {},
	"your": {}, "will": {}, "can't": {}, "help": {}, "helps": {}, "using": {},
}

// Keywords splits free text into lower-cased tokens longer than
// MinKeywordLength characters, dropping stop words and duplicates. Order of
// first appearance is preserved.
func Keywords(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_'
	})
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, "-_")
		if len([]rune(f)) <= MinKeywordLength {
			continue
		}
		if _, stop := stopWords[f]; stop {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// IsStopWord reports whether w (case-insensitive) is ignored by Keywords.
func IsStopWord(w string) bool {
	_, ok := stopWords[strings.ToLower(w)]
	return ok
}
