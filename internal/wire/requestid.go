package wire

import (
	"crypto/rand"
	"math/big"
)

const (
	idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	// IDLength is the length of generated correlation identifiers.
	IDLength = 10
)

var alphabetLen = big.NewInt(int64(len(idAlphabet)))

// NewRequestID returns a random alphanumeric correlation identifier.
func NewRequestID() string {
	b := make([]byte, IDLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, alphabetLen)
		if err != nil {
			panic("wire: crypto/rand failed: " + err.Error())
		}
		b[i] = idAlphabet[n.Int64()]
	}
	return string(b)
}
