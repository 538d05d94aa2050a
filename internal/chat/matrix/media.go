package matrix

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const mediaPrefix = "/_matrix/media/v3"

// Upload pushes raw bytes to the media repository and returns the mxc URI.
func (c *Client) Upload(ctx context.Context, token, filename, contentType string, data []byte) (string, error) {
	query := url.Values{}
	if filename != "" {
		query.Set("filename", filename)
	}
	body, err := c.doRaw(ctx, http.MethodPost, mediaPrefix+"/upload", token, contentType, bytes.NewReader(data), query)
	if err != nil {
		return "", err
	}
	var resp UploadResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("matrix: decode upload response: %w", err)
	}
	return resp.ContentURI, nil
}

// Download fetches media bytes for an mxc URI.
func (c *Client) Download(ctx context.Context, token, mxcURI string) ([]byte, error) {
	server, mediaID, err := splitMXC(mxcURI)
	if err != nil {
		return nil, err
	}
	path := mediaPrefix + "/download/" + url.PathEscape(server) + "/" + url.PathEscape(mediaID)
	return c.doRaw(ctx, http.MethodGet, path, token, "", nil)
}

// splitMXC parses an mxc://server/mediaId URI.
func splitMXC(uri string) (server, mediaID string, err error) {
	rest, ok := strings.CutPrefix(uri, "mxc://")
	if !ok {
		return "", "", fmt.Errorf("matrix: not an mxc URI: %q", uri)
	}
	server, mediaID, ok = strings.Cut(rest, "/")
	if !ok || server == "" || mediaID == "" {
		return "", "", fmt.Errorf("matrix: malformed mxc URI: %q", uri)
	}
	return server, mediaID, nil
}

// encryptAttachment encrypts plaintext with a one-off AES-256 key in CTR
// mode. The IV uses 8 random bytes followed by a zero counter half so the
// counter cannot overflow into the random half for any realistic file size.
// Returns the ciphertext and the key material block recipients need.
func encryptAttachment(plaintext []byte) ([]byte, *EncryptedFile, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, nil, fmt.Errorf("matrix: generate attachment key: %w", err)
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv[:8]); err != nil {
		return nil, nil, fmt.Errorf("matrix: generate attachment iv: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, err
	}
	ciphertext := make([]byte, len(plaintext))
	cipher.NewCTR(block, iv).XORKeyStream(ciphertext, plaintext)

	digest := sha256.Sum256(ciphertext)
	unpadded := base64.RawURLEncoding

	file := &EncryptedFile{
		IV: unpadded.EncodeToString(iv),
		Key: EncryptedFileKey{
			Alg:    "A256CTR",
			Ext:    true,
			K:      unpadded.EncodeToString(key),
			KeyOps: []string{"encrypt", "decrypt"},
			Kty:    "oct",
		},
		Hashes: map[string]string{"sha256": unpadded.EncodeToString(digest[:])},
		V:      "v2",
	}
	return ciphertext, file, nil
}

// decryptAttachment reverses encryptAttachment, verifying the ciphertext
// hash before decrypting.
func decryptAttachment(ciphertext []byte, file *EncryptedFile) ([]byte, error) {
	unpadded := base64.RawURLEncoding

	wantHash, err := unpadded.DecodeString(file.Hashes["sha256"])
	if err != nil {
		return nil, fmt.Errorf("matrix: decode attachment hash: %w", err)
	}
	digest := sha256.Sum256(ciphertext)
	if !bytes.Equal(digest[:], wantHash) {
		return nil, fmt.Errorf("matrix: attachment hash mismatch")
	}

	key, err := unpadded.DecodeString(file.Key.K)
	if err != nil {
		return nil, fmt.Errorf("matrix: decode attachment key: %w", err)
	}
	iv, err := unpadded.DecodeString(file.IV)
	if err != nil {
		return nil, fmt.Errorf("matrix: decode attachment iv: %w", err)
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("matrix: attachment iv must be %d bytes", aes.BlockSize)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCTR(block, iv).XORKeyStream(plaintext, ciphertext)
	return plaintext, nil
}
