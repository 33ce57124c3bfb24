// Package fingerprint computes 64-bit simhash fingerprints over normalized
// bookmark text. Similar inputs produce fingerprints with small Hamming
// distance, which the duplicate grouper exploits for near-duplicate detection.
package fingerprint

import (
	"math/bits"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

const (
	// ShingleSize is the word n-gram width used for shingling.
	ShingleSize = 3
	// charShingleSize is the rune n-gram width used for text without
	// word boundaries (CJK and similar scripts).
	charShingleSize = 5
)

// Normalize lowercases text, strips punctuation, and collapses whitespace.
// Identical input always yields identical output; Compute is deterministic
// over it.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	lastSpace := true
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r):
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// Shingles splits normalized text into overlapping word n-grams. Text with a
// single long token (no word boundaries) falls back to character n-grams so
// scripts without spaces still produce a usable shingle set. Very short text
// yields a single shingle of the whole input.
func Shingles(normalized string) []string {
	if normalized == "" {
		return nil
	}
	words := strings.Fields(normalized)
	if len(words) >= ShingleSize {
		out := make([]string, 0, len(words)-ShingleSize+1)
		for i := 0; i+ShingleSize <= len(words); i++ {
			out = append(out, strings.Join(words[i:i+ShingleSize], " "))
		}
		return out
	}
	if len(words) == 1 {
		runes := []rune(words[0])
		if len(runes) >= charShingleSize {
			out := make([]string, 0, len(runes)-charShingleSize+1)
			for i := 0; i+charShingleSize <= len(runes); i++ {
				out = append(out, string(runes[i:i+charShingleSize]))
			}
			return out
		}
	}
	return []string{strings.Join(words, " ")}
}

// Compute returns the 64-bit simhash of text: each output bit is the majority
// vote, over all shingle hashes, of that bit position. Empty text returns 0.
func Compute(text string) uint64 {
	normalized := Normalize(text)
	if normalized == "" {
		return 0
	}
	shingles := Shingles(normalized)
	if len(shingles) == 0 {
		return xxhash.Sum64String(normalized)
	}
	var votes [64]int
	for _, sh := range shingles {
		h := xxhash.Sum64String(sh)
		for i := 0; i < 64; i++ {
			if h>>uint(i)&1 == 1 {
				votes[i]++
			} else {
				votes[i]--
			}
		}
	}
	var result uint64
	for i := 0; i < 64; i++ {
		if votes[i] > 0 {
			result |= 1 << uint(i)
		}
	}
	return result
}

// ComputeWithFallback fingerprints the text, falling back to the URL plus
// title when the text normalizes to nothing. Every bookmark therefore
// participates in dedup even when extraction produced no content.
func ComputeWithFallback(text, url, title string) uint64 {
	if fp := Compute(text); fp != 0 {
		return fp
	}
	return Compute(url + " " + title)
}

// Hamming returns the number of differing bit positions between two
// fingerprints.
func Hamming(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// ToSigned converts a fingerprint for storage in a signed BIGINT column.
func ToSigned(fp uint64) int64 {
	return int64(fp)
}

// FromSigned recovers a fingerprint from its signed storage form.
func FromSigned(v int64) uint64 {
	return uint64(v)
}
