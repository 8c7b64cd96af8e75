package repair

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Tier names the extraction step that produced the object.
type Tier string

const (
	// TierDirect means the (fence-stripped) text parsed as an object.
	TierDirect Tier = "direct"
	// TierSubstring means the text between the first '{' and the last '}'
	// parsed as an object.
	TierSubstring Tier = "substring"
	// TierLenient means the substring parsed after comment and
	// trailing-comma cleanup.
	TierLenient Tier = "lenient"
	// TierEmpty means nothing parsed; an empty object was used.
	TierEmpty Tier = "empty"
)

var (
	fencePattern         = regexp.MustCompile("(?im)^```(?:json)?\\s*|\\s*```$")
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
)

// Extract pulls a JSON object out of model output. It never fails: when no
// object can be recovered it returns an empty map and TierEmpty.
func Extract(text string) (map[string]interface{}, Tier) {
	cleaned := fencePattern.ReplaceAllString(strings.TrimSpace(text), "")

	if obj, ok := parseObject(cleaned); ok {
		return obj, TierDirect
	}

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start == -1 || end <= start {
		return map[string]interface{}{}, TierEmpty
	}
	sub := cleaned[start : end+1]

	if obj, ok := parseObject(sub); ok {
		return obj, TierSubstring
	}
	if obj, ok := parseObject(cleanJSON(sub)); ok {
		return obj, TierLenient
	}
	return map[string]interface{}{}, TierEmpty
}

func parseObject(s string) (map[string]interface{}, bool) {
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(s), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

// cleanJSON removes // comments outside strings and trailing commas.
func cleanJSON(raw string) string {
	lines := strings.Split(raw, "\n")
	for i, line := range lines {
		lines[i] = stripLineComment(line)
	}
	return trailingCommaPattern.ReplaceAllString(strings.Join(lines, "\n"), "$1")
}

// stripLineComment cuts a line at the first // that is not inside a
// string literal.
func stripLineComment(line string) string {
	if !strings.Contains(line, "//") {
		return line
	}

	inString := false
	escaped := false
	for i := 0; i < len(line); i++ {
		ch := line[i]
		switch {
		case escaped:
			escaped = false
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case !inString && ch == '/' && i+1 < len(line) && line[i+1] == '/':
			return strings.TrimRight(line[:i], " \t")
		}
	}
	return line
}
