package sandbox

import "math/rand/v2"

// NameLength is the length of a generated sandbox name.
const NameLength = 16

const nameAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// NewName returns a random alphanumeric sandbox name. Names are not checked
// against live sandboxes; the engine rejects duplicates at create time.
func NewName() string {
	b := make([]byte, NameLength)
	for i := range b {
		b[i] = nameAlphabet[rand.IntN(len(nameAlphabet))]
	}
	return string(b)
}
