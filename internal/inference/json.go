package inference

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

var errNoJSON = errors.New("no JSON object in completion")

// ExtractJSON returns the first balanced JSON object in raw, ignoring code
// fences and surrounding prose
func ExtractJSON(raw string) (string, error) {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return "", errNoJSON
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return raw[start : i+1], nil
			}
		}
	}
	return "", errNoJSON
}

// DecodeJSON extracts and decodes the first JSON object in raw into v
func DecodeJSON(raw string, v interface{}) error {
	obj, err := ExtractJSON(raw)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(obj), v); err != nil {
		return fmt.Errorf("failed to decode completion: %w", err)
	}
	return nil
}

// NormalizeConfidence maps a backend confidence onto [0,1]. Values above 1
// are read as percentages.
func NormalizeConfidence(v float64) float64 {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v > 1 {
		v = v / 100
	}
	if v > 1 {
		return 1
	}
	return v
}
