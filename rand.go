package mailspool

import (
	"math/rand/v2"
	"strings"
)

// globalRand draws from the math/rand/v2 top-level source, which is safe
// for concurrent use.
type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }

// randomString returns count characters drawn uniformly from alphabet.
func randomString(r Rand, alphabet string, count int) string {
	var sb strings.Builder
	sb.Grow(count)
	for i := 0; i < count; i++ {
		sb.WriteByte(alphabet[r.IntN(len(alphabet))])
	}
	return sb.String()
}
