// Package shortcode generates random short identifiers over a base62
// alphabet. Generation is stateless; uniqueness is enforced by the link
// store's check-and-insert.
package shortcode

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// DefaultLength gives 62^7 (~3.5 trillion) possible identifiers.
const DefaultLength = 7

var alphabetSize = big.NewInt(int64(len(alphabet)))

// Generate returns a random identifier of the given length. Each character
// is drawn with rand.Int, which rejects out-of-range values, so no alphabet
// position is favored.
func Generate(length int) (string, error) {
	if length <= 0 {
		length = DefaultLength
	}

	buf := make([]byte, length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", fmt.Errorf("read random index: %w", err)
		}
		buf[i] = alphabet[n.Int64()]
	}
	return string(buf), nil
}
