package dedupe

import (
	"encoding/binary"
	"encoding/hex"
	"hash/fnv"
	"strings"

	"github.com/DeafMist/market-news-radar/internal/processing"
)

const (
	signatureSize = 64
	shingleWords  = 3
)

// Signature is a MinHash sketch of an article's word shingles. The fraction of
// equal positions between two signatures estimates the Jaccard similarity of
// their shingle sets.
type Signature []uint64

// Similarity estimates the Jaccard similarity with other in [0, 1].
func (s Signature) Similarity(other Signature) float64 {
	if len(s) == 0 || len(s) != len(other) {
		return 0
	}
	equal := 0
	for i := range s {
		if s[i] == other[i] {
			equal++
		}
	}
	return float64(equal) / float64(len(s))
}

// String encodes the signature as hex for persistence.
func (s Signature) String() string {
	if len(s) == 0 {
		return ""
	}
	buf := make([]byte, 8*len(s))
	for i, v := range s {
		binary.BigEndian.PutUint64(buf[i*8:], v)
	}
	return hex.EncodeToString(buf)
}

// ParseSignature decodes String output. Malformed input yields nil.
func ParseSignature(raw string) Signature {
	buf, err := hex.DecodeString(raw)
	if err != nil || len(buf) == 0 || len(buf)%8 != 0 {
		return nil
	}
	sig := make(Signature, len(buf)/8)
	for i := range sig {
		sig[i] = binary.BigEndian.Uint64(buf[i*8:])
	}
	return sig
}

// Sign computes the signature of content. Empty content yields a nil signature.
func Sign(content string) Signature {
	tokens := processing.Tokenize(processing.NormalizeText(content))
	if len(tokens) == 0 {
		return nil
	}

	sig := make(Signature, signatureSize)
	for i := range sig {
		sig[i] = ^uint64(0)
	}

	for _, sh := range shingles(tokens) {
		base := hashString(sh)
		for i := range sig {
			if h := mix(base ^ seeds[i]); h < sig[i] {
				sig[i] = h
			}
		}
	}
	return sig
}

func shingles(tokens []string) []string {
	if len(tokens) < shingleWords {
		return []string{strings.Join(tokens, " ")}
	}
	out := make([]string, 0, len(tokens)-shingleWords+1)
	for i := 0; i+shingleWords <= len(tokens); i++ {
		out = append(out, strings.Join(tokens[i:i+shingleWords], " "))
	}
	return out
}

func hashString(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

// mix is the splitmix64 finalizer.
func mix(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

var seeds = func() [signatureSize]uint64 {
	var s [signatureSize]uint64
	state := uint64(0x5eed)
	for i := range s {
		state = mix(state)
		s[i] = state
	}
	return s
}()
