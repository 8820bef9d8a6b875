package schedule

import (
	"math/rand"
	"slices"

	"go.uber.org/zap"
)

// KeySequence is the ordered list of keys a participant must type to collect
// a reward.
type KeySequence struct {
	Keys []string
	// Flagged is set when the sequence still contains adjacent equal keys
	// after repair. It only happens when the alphabet cannot support the
	// requested length, e.g. a single-key alphabet.
	Flagged bool
}

// HasAdjacentRepeat reports whether two neighbouring keys are equal.
func (k KeySequence) HasAdjacentRepeat() bool {
	return hasAdjacentRepeat(k.Keys)
}

// Counts returns how often each key appears.
func (k KeySequence) Counts() map[string]int {
	counts := make(map[string]int, len(k.Keys))
	for _, key := range k.Keys {
		counts[key]++
	}
	return counts
}

// GenerateKeySequence draws a sequence of length keys from alphabet with
// near-equal counts per key and no immediate repeats.
func GenerateKeySequence(rng *rand.Rand, alphabet []string, length int) KeySequence {
	if length <= 0 || len(alphabet) == 0 {
		return KeySequence{}
	}

	symbols := slices.Clone(alphabet)
	quota := make([]int, len(symbols))
	for i := range quota {
		quota[i] = length / len(symbols)
		if i < length%len(symbols) {
			quota[i]++
		}
	}

	keys := make([]string, 0, length)
	prev := -1
	for remaining := length; remaining > 0; remaining-- {
		pick := draw(rng, quota, prev, remaining)
		keys = append(keys, symbols[pick])
		quota[pick]--
		prev = pick
	}

	repairAdjacent(keys)
	return KeySequence{Keys: keys, Flagged: hasAdjacentRepeat(keys)}
}

// draw picks the next symbol index. A symbol whose remaining quota can only be
// placed by taking it now is forced; otherwise the draw is weighted by quota
// and excludes the previous symbol. When only the previous symbol has quota
// left it is returned and the caller ends up with a repeat.
func draw(rng *rand.Rand, quota []int, prev, remaining int) int {
	for i, q := range quota {
		if i != prev && 2*q > remaining {
			return i
		}
	}
	total := 0
	for i, q := range quota {
		if i != prev {
			total += q
		}
	}
	if total == 0 {
		return prev
	}
	n := rng.Intn(total)
	for i, q := range quota {
		if i == prev {
			continue
		}
		if n < q {
			return i
		}
		n -= q
	}
	return prev
}

// repairAdjacent swaps keys to break up adjacent duplicates without creating
// new ones.
func repairAdjacent(keys []string) {
	for i := 1; i < len(keys); i++ {
		if keys[i] != keys[i-1] {
			continue
		}
		for j := len(keys) - 1; j >= 0; j-- {
			if j == i || keys[j] == keys[i] {
				continue
			}
			keys[i], keys[j] = keys[j], keys[i]
			if !repeatAround(keys, i) && !repeatAround(keys, j) {
				break
			}
			keys[i], keys[j] = keys[j], keys[i]
		}
	}
}

func repeatAround(keys []string, i int) bool {
	if i > 0 && keys[i] == keys[i-1] {
		return true
	}
	return i+1 < len(keys) && keys[i] == keys[i+1]
}

func hasAdjacentRepeat(keys []string) bool {
	for i := 1; i < len(keys); i++ {
		if keys[i] == keys[i-1] {
			return true
		}
	}
	return false
}

// KeyGenerator draws one key sequence per round from a fixed alphabet.
type KeyGenerator struct {
	rng      *rand.Rand
	alphabet []string
	length   int
}

// NewKeyGenerator falls back to fallback when alphabet is empty.
func NewKeyGenerator(rng *rand.Rand, alphabet, fallback []string, length int, logger *zap.Logger) *KeyGenerator {
	if len(alphabet) == 0 {
		if logger != nil {
			logger.Warn("empty key alphabet, using default", zap.Strings("default", fallback))
		}
		alphabet = fallback
	}
	return &KeyGenerator{rng: rng, alphabet: slices.Clone(alphabet), length: length}
}

func (g *KeyGenerator) Next() KeySequence {
	return GenerateKeySequence(g.rng, g.alphabet, g.length)
}

func (g *KeyGenerator) Alphabet() []string {
	return slices.Clone(g.alphabet)
}
