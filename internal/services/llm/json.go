package llm

import (
	"encoding/json"
	"strings"
)

// ExtractJSON strips markdown fences and prose around the first JSON value in text
func ExtractJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if end := strings.LastIndex(text, "```"); end >= 0 {
			text = text[:end]
		}
		text = strings.TrimSpace(text)
	}

	if json.Valid([]byte(text)) {
		return text
	}

	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return text
	}
	closer := byte('}')
	if text[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(text, closer)
	if end <= start {
		return text
	}
	return text[start : end+1]
}

// withSchemaInstruction appends the JSON-only instruction used for providers without native schemas
func withSchemaInstruction(system string, schema map[string]interface{}) string {
	encoded, err := json.Marshal(schema)
	if err != nil {
		return system
	}
	instruction := "Respond with a single JSON value that matches this JSON schema, with no other text:\n" + string(encoded)
	if system == "" {
		return instruction
	}
	return system + "\n\n" + instruction
}
