// Package pow implements the proof-of-work challenge used to rate-limit
// admission requests. A solution is a counter whose SHA-256 digest over
// nonce+counter carries the requested number of leading zero bits.
package pow

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strconv"
)

// checkInterval is how many candidates are tried between context checks.
const checkInterval = 1 << 16

// Solve searches for the smallest counter whose digest satisfies the
// difficulty. Difficulty counts leading zero bits and must be between 1
// and 256. The search honours ctx cancellation.
func Solve(ctx context.Context, nonce string, difficulty int) (uint64, error) {
	if difficulty < 1 || difficulty > 256 {
		return 0, fmt.Errorf("difficulty must be between 1 and 256, got %d", difficulty)
	}

	for counter := uint64(0); ; counter++ {
		if counter%checkInterval == 0 {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			default:
			}
		}

		if digestSatisfies(nonce, counter, difficulty) {
			return counter, nil
		}

		if counter == ^uint64(0) {
			break
		}
	}

	return 0, fmt.Errorf("no solution found within 64-bit search space")
}

// Verify reports whether solution solves the challenge at the given
// difficulty. Out-of-range difficulties never verify.
func Verify(nonce string, difficulty int, solution uint64) bool {
	if difficulty < 1 || difficulty > 256 {
		return false
	}
	return digestSatisfies(nonce, solution, difficulty)
}

func digestSatisfies(nonce string, counter uint64, difficulty int) bool {
	data := nonce + strconv.FormatUint(counter, 10)
	sum := sha256.Sum256([]byte(data))
	return hasLeadingZeroBits(sum[:], difficulty)
}

func hasLeadingZeroBits(sum []byte, bits int) bool {
	full := bits / 8
	rem := bits % 8

	for i := 0; i < full; i++ {
		if sum[i] != 0 {
			return false
		}
	}
	if rem == 0 {
		return true
	}
	return sum[full]>>(8-rem) == 0
}
