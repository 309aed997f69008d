package resolve

import (
	"hash/fnv"
	"math/bits"
	"strings"
)

// retransmitThreshold is the Hamming-distance ceiling under which two
// chunk payloads count as the same delivery.
const retransmitThreshold = 3

// fingerprint computes a 64-bit similarity hash of a chunk payload:
// FNV-64a per whitespace token, accumulated into a bit vector. Chunks
// that differ only in a timestamp or nonce land within a few bits of
// each other, which is what lets retransmits be recognised without
// byte-exact comparison.
func fingerprint(text string) uint64 {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return 0
	}

	var vector [64]int
	for _, tok := range tokens {
		h := fnv.New64a()
		h.Write([]byte(tok))
		sum := h.Sum64()
		for i := 0; i < 64; i++ {
			if sum&(1<<uint(i)) != 0 {
				vector[i]++
			} else {
				vector[i]--
			}
		}
	}

	var fp uint64
	for i := 0; i < 64; i++ {
		if vector[i] > 0 {
			fp |= 1 << uint(i)
		}
	}
	return fp
}

// isRetransmit reports whether fp is near-identical to any accepted
// fingerprint.
func isRetransmit(fp uint64, accepted []uint64) bool {
	for _, prev := range accepted {
		if bits.OnesCount64(fp^prev) <= retransmitThreshold {
			return true
		}
	}
	return false
}
