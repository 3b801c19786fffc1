package message

import (
	"strings"
	"unicode/utf16"
)

// Hash is the 32-bit rolling hash the server uses for its trigger lists:
// h = 31*h + c over the UTF-16 code units of the lower-cased input, with
// two's complement wrap-around.
func Hash(input string) int32 {
	return StringHash(strings.ToLower(input))
}

// StringHash is Hash without case folding.
func StringHash(input string) int32 {
	var h int32
	for _, c := range utf16.Encode([]rune(input)) {
		h = (h << 5) - h + int32(c)
	}
	return h
}

// TypeNameHash hashes the record type concatenated with its name.
func (m *Message) TypeNameHash() int32 {
	return Hash(string(m.Type()) + m.Name())
}
