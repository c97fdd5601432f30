package llm

import (
	"encoding/json"
	"regexp"
)

// Models answer "respond only with JSON" prompts either with bare JSON or
// with a fenced ```json block around it. Both parsers try the raw text
// first, then the first fenced block.

var fencedObjectRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")
var fencedArrayRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\[.*?\\])\\s*```")

// ParseJSONObject decodes a JSON object from a completion into out.
// Returns false when no parseable object is found.
func ParseJSONObject(text string, out any) bool {
	if json.Unmarshal([]byte(text), out) == nil {
		return true
	}
	if m := fencedObjectRe.FindStringSubmatch(text); m != nil {
		return json.Unmarshal([]byte(m[1]), out) == nil
	}
	return false
}

// ParseJSONArray decodes a JSON array from a completion into out.
// Returns false when no parseable array is found.
func ParseJSONArray(text string, out any) bool {
	if json.Unmarshal([]byte(text), out) == nil {
		return true
	}
	if m := fencedArrayRe.FindStringSubmatch(text); m != nil {
		return json.Unmarshal([]byte(m[1]), out) == nil
	}
	return false
}
