package recognizer

import (
	"encoding/json"
	"strings"
)

// BuildVocabulary renders words as the JSON array grammar understood by the
// engine, lowercased and with blanks and duplicates removed. It returns an
// empty string for an empty word list, which means open vocabulary.
func BuildVocabulary(words []string) string {
	seen := make(map[string]struct{}, len(words))
	list := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		list = append(list, w)
	}
	if len(list) == 0 {
		return ""
	}

	// Marshalling a []string cannot fail.
	out, _ := json.Marshal(list)
	return string(out)
}
