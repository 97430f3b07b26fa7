package mft

import (
	"fmt"

	"golang.org/x/text/encoding/unicode"
)

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// EncodeName converts a name to its on-disk UTF-16LE form.
func EncodeName(name string) ([]byte, error) {
	if name == "" {
		return nil, nil
	}
	b, err := utf16le.NewEncoder().Bytes([]byte(name))
	if err != nil {
		return nil, fmt.Errorf("encode name %q: %w", name, err)
	}
	return b, nil
}

// DecodeName converts an on-disk UTF-16LE name to a Go string.
func DecodeName(b []byte) (string, error) {
	if len(b) == 0 {
		return "", nil
	}
	s, err := utf16le.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("decode name: %w", err)
	}
	return string(s), nil
}

// NameLength returns the length of name in UTF-16 code units.
func NameLength(name string) int {
	n := 0
	for _, r := range name {
		if r >= 0x10000 {
			n += 2
		} else {
			n++
		}
	}
	return n
}

func align8(n int) int {
	return (n + 7) &^ 7
}
