package tracefile

import (
	"bytes"
	"crypto/aes"
	"errors"
	"fmt"
	"math/rand/v2"
)

//ErrUnsupportedMode is returned when validation is requested for anything but AES-128 encryption
var ErrUnsupportedMode = errors.New("tracefile: unsupported algorithm/mode for validation")

// ValidationError reports the first trace whose ciphertext the candidate key does not reproduce.
type ValidationError struct {
	Key       []byte
	Plaintext []byte
	Expected  []byte
	Actual    []byte
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid key and/or corrupt data: K = %x, P = %x would expect C = %x but tracefile contains C = %x",
		e.Key, e.Plaintext, e.Expected, e.Actual)
}

// ValidateKey re-encrypts every plaintext under key with AES-128-ECB and compares against the stored ciphertext.
func (a *Archive) ValidateKey(key []byte) error {
	if a.Meta.Algorithm != AlgorithmAES128 || a.Meta.Mode != ModeEncrypt {
		return fmt.Errorf("%w: algorithm %q mode %q", ErrUnsupportedMode, a.Meta.Algorithm, a.Meta.Mode)
	}
	if len(key) != BlockSize {
		return fmt.Errorf("%w: key has %v bytes, want %v", ErrDecode, len(key), BlockSize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("failed to create cipher : %w", err)
	}

	var c [BlockSize]byte
	for i := range a.Traces {
		block.Encrypt(c[:], a.Traces[i].Plaintext[:])
		if !bytes.Equal(c[:], a.Traces[i].Ciphertext[:]) {
			return &ValidationError{
				Key:       append([]byte(nil), key...),
				Plaintext: append([]byte(nil), a.Traces[i].Plaintext[:]...),
				Expected:  append([]byte(nil), c[:]...),
				Actual:    append([]byte(nil), a.Traces[i].Ciphertext[:]...),
			}
		}
	}
	return nil
}

// SetCorrectKey stores key in the metadata after validating it. An already present key is kept.
// It reports whether key was stored.
func (a *Archive) SetCorrectKey(key []byte) (bool, error) {
	if a.Meta.CorrectKey != nil {
		return false, nil
	}
	if err := a.ValidateKey(key); err != nil {
		return false, err
	}
	a.Meta.CorrectKey = append([]byte(nil), key...)
	return true, nil
}

// Shuffle permutes the trace order uniformly at random. Trace contents are unchanged.
func (a *Archive) Shuffle(rng *rand.Rand) {
	rng.Shuffle(len(a.Traces), func(i, j int) {
		a.Traces[i], a.Traces[j] = a.Traces[j], a.Traces[i]
	})
}
