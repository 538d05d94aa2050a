package matrix

import (
	"fmt"
	"math/big"
	"strings"
)

// Recovery keys are the 32-byte backup seed wrapped in a two-byte tag and a
// parity byte, base58 encoded and chunked into groups of four for
// readability. The parity byte makes every valid key XOR to zero, which
// catches most transcription mistakes before any network traffic.

var (
	recoveryKeyPrefix = []byte{0x8b, 0x01}
	base58Alphabet    = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"
)

// encodeRecoveryKey wraps a 32-byte seed into the display form.
func encodeRecoveryKey(seed []byte) string {
	payload := make([]byte, 0, len(recoveryKeyPrefix)+len(seed)+1)
	payload = append(payload, recoveryKeyPrefix...)
	payload = append(payload, seed...)

	var parity byte
	for _, b := range payload {
		parity ^= b
	}
	payload = append(payload, parity)

	encoded := base58Encode(payload)

	var b strings.Builder
	for i, r := range encoded {
		if i > 0 && i%4 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// decodeRecoveryKey parses the display form back into the 32-byte seed,
// validating the tag and parity.
func decodeRecoveryKey(key string) ([]byte, error) {
	compact := strings.ReplaceAll(key, " ", "")
	payload, err := base58Decode(compact)
	if err != nil {
		return nil, fmt.Errorf("matrix: malformed recovery key: %w", err)
	}
	if len(payload) != len(recoveryKeyPrefix)+32+1 {
		return nil, fmt.Errorf("matrix: recovery key has wrong length")
	}
	if payload[0] != recoveryKeyPrefix[0] || payload[1] != recoveryKeyPrefix[1] {
		return nil, fmt.Errorf("matrix: recovery key has wrong tag")
	}
	var parity byte
	for _, b := range payload {
		parity ^= b
	}
	if parity != 0 {
		return nil, fmt.Errorf("matrix: recovery key parity check failed")
	}
	return payload[len(recoveryKeyPrefix) : len(payload)-1], nil
}

func base58Encode(data []byte) string {
	num := new(big.Int).SetBytes(data)
	base := big.NewInt(58)
	mod := new(big.Int)

	var out []byte
	for num.Sign() > 0 {
		num.DivMod(num, base, mod)
		out = append(out, base58Alphabet[mod.Int64()])
	}
	for _, b := range data {
		if b != 0 {
			break
		}
		out = append(out, base58Alphabet[0])
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return string(out)
}

func base58Decode(s string) ([]byte, error) {
	num := big.NewInt(0)
	base := big.NewInt(58)
	for _, r := range s {
		idx := strings.IndexRune(base58Alphabet, r)
		if idx < 0 {
			return nil, fmt.Errorf("invalid character %q", r)
		}
		num.Mul(num, base)
		num.Add(num, big.NewInt(int64(idx)))
	}

	decoded := num.Bytes()
	leading := 0
	for _, r := range s {
		if r != rune(base58Alphabet[0]) {
			break
		}
		leading++
	}
	out := make([]byte, leading+len(decoded))
	copy(out[leading:], decoded)
	return out, nil
}
