package matrix

import (
	"bytes"
	"testing"
)

func TestAttachmentEncryptionRoundTrip(t *testing.T) {
	plaintext := []byte("attachment bytes, long enough to span a few AES blocks at least")

	ciphertext, file, err := encryptAttachment(plaintext)
	if err != nil {
		t.Fatalf("encrypt attachment: %v", err)
	}
	if bytes.Equal(ciphertext, plaintext) {
		t.Fatal("ciphertext must differ from plaintext")
	}
	if file.Key.Alg != "A256CTR" || file.V != "v2" {
		t.Fatalf("unexpected key envelope: %+v", file)
	}
	if file.Hashes["sha256"] == "" {
		t.Fatal("ciphertext hash must be recorded")
	}

	decrypted, err := decryptAttachment(ciphertext, file)
	if err != nil {
		t.Fatalf("decrypt attachment: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Fatal("decrypted bytes do not match original")
	}
}

func TestAttachmentDecryptionRejectsTampering(t *testing.T) {
	ciphertext, file, err := encryptAttachment([]byte("payload"))
	if err != nil {
		t.Fatalf("encrypt attachment: %v", err)
	}

	ciphertext[0] ^= 0xff
	if _, err := decryptAttachment(ciphertext, file); err == nil {
		t.Fatal("tampered ciphertext must fail the hash check")
	}
}

func TestSplitMXC(t *testing.T) {
	server, mediaID, err := splitMXC("mxc://example.org/abc123")
	if err != nil {
		t.Fatalf("split mxc: %v", err)
	}
	if server != "example.org" || mediaID != "abc123" {
		t.Fatalf("unexpected parts: %q %q", server, mediaID)
	}

	for _, bad := range []string{"https://example.org/abc", "mxc://", "mxc://onlyserver"} {
		if _, _, err := splitMXC(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}
