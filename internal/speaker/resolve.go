package speaker

import (
	"cmp"
	"regexp"
	"slices"
	"strings"
)

// Resolve rewrites every occurrence of a mapped speaker id in transcript with
// the mapping's display name, appending the role in parentheses when set.
// Unmapped speakers (blank name) keep their raw label.
//
// Longer ids are matched first so "Speaker 1" never rewrites the prefix of
// "Speaker 10".
func Resolve(transcript string, mappings []Mapping) string {
	labels := make(map[string]string, len(mappings))
	ids := make([]string, 0, len(mappings))
	for _, m := range mappings {
		if strings.TrimSpace(m.Name) == "" || m.SpeakerID == "" {
			continue
		}
		if _, dup := labels[m.SpeakerID]; dup {
			continue
		}
		labels[m.SpeakerID] = Label(m)
		ids = append(ids, m.SpeakerID)
	}
	if len(ids) == 0 {
		return transcript
	}

	slices.SortFunc(ids, func(a, b string) int {
		return cmp.Compare(len(b), len(a))
	})
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = regexp.QuoteMeta(id)
	}
	re := regexp.MustCompile(`\b(?:` + strings.Join(quoted, "|") + `)\b`)

	return re.ReplaceAllStringFunc(transcript, func(id string) string {
		return labels[id]
	})
}

// Label formats m for display: the name, followed by the role in parentheses
// when one is set. Blank names fall back to the speaker id.
func Label(m Mapping) string {
	name := strings.TrimSpace(m.Name)
	if name == "" {
		name = m.SpeakerID
	}
	if role := strings.TrimSpace(m.Role); role != "" {
		return name + " (" + role + ")"
	}
	return name
}
