package stream

import (
	"unicode"
	"unicode/utf8"
)

// Split cuts text into word units. Each unit keeps the whitespace that
// follows it and the first unit keeps any leading whitespace, so joining
// the units reproduces text byte for byte.
func Split(text string) []string {
	var units []string
	start, i := 0, 0

	// leading whitespace belongs to the first unit
	i = skip(text, i, true)
	for i < len(text) {
		i = skip(text, i, false)
		i = skip(text, i, true)
		units = append(units, text[start:i])
		start = i
	}
	if start < len(text) {
		units = append(units, text[start:])
	}
	return units
}

// skip advances past runes whose whitespace-ness equals space
func skip(text string, i int, space bool) int {
	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])
		if unicode.IsSpace(r) != space {
			break
		}
		i += size
	}
	return i
}
