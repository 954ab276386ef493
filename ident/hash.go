// Package ident computes stable content identities for text blocks.
//
// The identity is the primary key for every annotation kind attached to a
// paragraph, so the exact algorithm must be shared by every call site - any
// divergence silently orphans existing annotations.
package ident

import (
	"strconv"
	"unicode/utf16"
)

// Hash returns a short deterministic fingerprint of the visible text of a
// block. It is a 31-multiplier rolling accumulator over UTF-16 code units
// with signed 32-bit wraparound, rendered in base 36.
//
// The hash depends only on the visible text - never on markup or layout -
// which is what lets annotations survive re-pagination and reflow. It is not
// cryptographic: two blocks with identical text intentionally share one
// identity.
func Hash(text string) string {
	var h int32
	for _, u := range utf16.Encode([]rune(text)) {
		h = h*31 + int32(u)
	}
	return strconv.FormatUint(uint64(uint32(h)), 36)
}

// Key builds the composite key used for annotations which are scoped to a
// book, such as chat thread presence.
func Key(bookID, hash string) string {
	return bookID + "|" + hash
}
