package speaker

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// similarityThreshold is the Jaro-Winkler score above which two phonetically
// matching names are reported as similar.
const similarityThreshold = 0.80

// SimilarPair names two speakers whose display names likely refer to the
// same person, for example because transcription split one voice across two
// labels and the user typed the name twice with a different spelling.
type SimilarPair struct {
	First  string  `json:"first"`
	Second string  `json:"second"`
	Score  float64 `json:"score"`
}

// SimilarNames reports pairs of mappings whose names are identical
// (case-insensitively) or share a Double Metaphone code and score at least
// 0.80 Jaro-Winkler similarity. Blank names are ignored. Pairs are returned in
// collection order.
func SimilarNames(mappings []Mapping) []SimilarPair {
	type prepared struct {
		id    string
		name  string
		codes map[string]struct{}
	}

	names := make([]prepared, 0, len(mappings))
	for _, m := range mappings {
		name := strings.ToLower(strings.TrimSpace(m.Name))
		if name == "" {
			continue
		}
		names = append(names, prepared{id: m.SpeakerID, name: name, codes: metaphoneCodes(name)})
	}

	var out []SimilarPair
	for i := 0; i < len(names); i++ {
		for j := i + 1; j < len(names); j++ {
			a, b := names[i], names[j]
			if a.name == b.name {
				out = append(out, SimilarPair{First: a.id, Second: b.id, Score: 1})
				continue
			}
			if !sharesCode(a.codes, b.codes) {
				continue
			}
			if score := matchr.JaroWinkler(a.name, b.name, false); score >= similarityThreshold {
				out = append(out, SimilarPair{First: a.id, Second: b.id, Score: score})
			}
		}
	}
	return out
}

// metaphoneCodes returns the primary and secondary Double Metaphone codes of
// every word in name.
func metaphoneCodes(name string) map[string]struct{} {
	words := strings.Fields(name)
	codes := make(map[string]struct{}, len(words)*2)
	for _, w := range words {
		p, s := matchr.DoubleMetaphone(w)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func sharesCode(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}
