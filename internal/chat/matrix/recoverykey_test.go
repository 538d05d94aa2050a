package matrix

import (
	"bytes"
	"crypto/rand"
	"strings"
	"testing"
)

func TestRecoveryKeyRoundTrip(t *testing.T) {
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		t.Fatalf("generate seed: %v", err)
	}

	key := encodeRecoveryKey(seed)
	if !strings.Contains(key, " ") {
		t.Fatal("recovery keys are chunked for readability")
	}

	decoded, err := decodeRecoveryKey(key)
	if err != nil {
		t.Fatalf("decode recovery key: %v", err)
	}
	if !bytes.Equal(decoded, seed) {
		t.Fatal("decoded seed does not match original")
	}
}

func TestRecoveryKeyZeroSeed(t *testing.T) {
	seed := make([]byte, 32)
	decoded, err := decodeRecoveryKey(encodeRecoveryKey(seed))
	if err != nil {
		t.Fatalf("decode zero seed: %v", err)
	}
	if !bytes.Equal(decoded, seed) {
		t.Fatal("leading zero bytes must survive the round trip")
	}
}

func TestRecoveryKeyRejectsCorruption(t *testing.T) {
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		t.Fatalf("generate seed: %v", err)
	}
	key := encodeRecoveryKey(seed)

	// Flip one character to break the parity byte.
	corrupted := []byte(key)
	for i, c := range corrupted {
		if c == ' ' {
			continue
		}
		if c == 'A' {
			corrupted[i] = 'B'
		} else {
			corrupted[i] = 'A'
		}
		break
	}
	if _, err := decodeRecoveryKey(string(corrupted)); err == nil {
		t.Fatal("corrupted recovery key must be rejected")
	}
}

func TestRecoveryKeyRejectsGarbage(t *testing.T) {
	if _, err := decodeRecoveryKey("not a recovery key 0OIl"); err == nil {
		t.Fatal("invalid characters must be rejected")
	}
	if _, err := decodeRecoveryKey(""); err == nil {
		t.Fatal("empty input must be rejected")
	}
}
