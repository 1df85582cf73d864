package websearch

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ResultLink is one {title,url} pair recovered from an embedded result array.
type ResultLink struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// splitQueryAndLinks isolates a trailing JSON array embedded in free text.
// It finds the last ']' and scans backward, tracking bracket depth, to its
// matching '['; everything before the '[' is the query text, the bracketed
// span parses as the link array. String literals are not tracked — provider
// titles and URLs do not contain square brackets in practice, and a failed
// parse surfaces as an error rather than bad data.
func splitQueryAndLinks(content string) (string, []ResultLink, error) {
	end := strings.LastIndexByte(content, ']')
	if end < 0 {
		return "", nil, fmt.Errorf("no result array found")
	}

	depth := 0
	start := -1
	for i := end; i >= 0; i-- {
		switch content[i] {
		case ']':
			depth++
		case '[':
			depth--
			if depth == 0 {
				start = i
			}
		}
		if start >= 0 {
			break
		}
	}
	if start < 0 {
		return "", nil, fmt.Errorf("unbalanced result array")
	}

	var links []ResultLink
	if err := json.Unmarshal([]byte(content[start:end+1]), &links); err != nil {
		return "", nil, fmt.Errorf("parse result array: %w", err)
	}

	return strings.TrimSpace(content[:start]), links, nil
}
