package service

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/google/uuid"
)

// LegacyDecode is the result of decoding a raw legacy membership payload.
// The legacy store kept membership as a free-text id list on the batch row,
// with inconsistent delimiters and occasional double encoding.
type LegacyDecode struct {
	IDs       []string // tokens with a valid id shape, in payload order
	Strict    bool     // payload parsed as a proper JSON string array
	BadTokens []string // tokens that do not look like ids at all
}

// DecodeLegacyMembers applies the layered recovery ladder:
// strict JSON parse first, then tolerant token extraction with per-token
// shape validation. Existence checks against the ledger are the caller's
// job; with zero usable ids the batch goes to manual review.
func DecodeLegacyMembers(raw string) LegacyDecode {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return LegacyDecode{Strict: true}
	}

	if ids, ok := decodeStrict(raw); ok {
		return LegacyDecode{IDs: ids, Strict: true}
	}

	var dec LegacyDecode
	for _, tok := range extractTokens(raw) {
		if looksLikeLineID(tok) {
			dec.IDs = append(dec.IDs, tok)
		} else {
			dec.BadTokens = append(dec.BadTokens, tok)
		}
	}
	return dec
}

// decodeStrict accepts only a JSON array of id-shaped strings.
func decodeStrict(raw string) ([]string, bool) {
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, false
	}
	for _, id := range ids {
		if !looksLikeLineID(id) {
			return nil, false
		}
	}
	return ids, true
}

// extractTokens splits a mangled payload on every delimiter observed in
// legacy data and strips quote/bracket debris from each token.
func extractTokens(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		switch r {
		case ',', ';', '|', ' ', '\t', '\n', '\r':
			return true
		}
		return false
	})

	var out []string
	for _, f := range fields {
		tok := strings.Trim(f, `"'[]{}()\`)
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out
}

// shortIDPattern matches the pre-uuid id generator: a base36 timestamp,
// a dash, and six random base36 characters.
var shortIDPattern = regexp.MustCompile(`^[0-9a-z]{6,13}-[0-9a-z]{6}$`)

func looksLikeLineID(s string) bool {
	if _, err := uuid.Parse(s); err == nil {
		return true
	}
	return shortIDPattern.MatchString(s)
}

// maxSuggestDistance bounds how far a mangled token may be from a known id
// before we stop suggesting anything.
const maxSuggestDistance = 8

// SuggestLineID returns the known line id closest to a mangled token, for
// the manual-review report only. Repairs never act on a suggestion.
func SuggestLineID(token string, known []string) (string, bool) {
	best := ""
	bestDist := maxSuggestDistance + 1
	for _, id := range known {
		d := levenshtein.ComputeDistance(token, id)
		if d < bestDist {
			best, bestDist = id, d
		}
	}
	return best, best != ""
}
