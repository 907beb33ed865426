package internal

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
)

var ten = big.NewInt(10)

// NumericCode returns a uniformly random decimal string of length n.
// Each digit is drawn independently from crypto/rand, so short codes keep
// their full keyspace (no modulo bias).
func NumericCode(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("numeric code length must be positive, got %d", n)
	}

	buf := make([]byte, n)
	for i := range buf {
		d, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", fmt.Errorf("read random digit: %w", err)
		}
		buf[i] = byte('0' + d.Int64())
	}
	return string(buf), nil
}

// RandomHex returns n random bytes hex-encoded (2n characters).
func RandomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
