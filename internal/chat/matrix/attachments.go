package matrix

import (
	"context"
	"fmt"

	"github.com/murmurchat/murmur/internal/chat"
)

// uploadFile uploads plaintext media, e.g. a room avatar.
func (a *Adapter) uploadFile(ctx context.Context, token string, file *chat.FileUpload) (chat.FileRef, error) {
	uri, err := a.api.Upload(ctx, token, file.Name, file.ContentType, file.Data)
	if err != nil {
		return chat.FileRef{}, err
	}
	return chat.FileRef{URI: uri}, nil
}

// uploadAttachment uploads message media. For an encrypted room the payload
// is encrypted client-side first and the key material is returned for
// embedding in the message content; the repository only ever sees
// ciphertext.
func (a *Adapter) uploadAttachment(ctx context.Context, token string, file *chat.FileUpload, encrypted bool) (chat.FileRef, *EncryptedFile, error) {
	if !encrypted {
		ref, err := a.uploadFile(ctx, token, file)
		return ref, nil, err
	}

	ciphertext, encFile, err := encryptAttachment(file.Data)
	if err != nil {
		return chat.FileRef{}, nil, err
	}
	uri, err := a.api.Upload(ctx, token, file.Name, "application/octet-stream", ciphertext)
	if err != nil {
		return chat.FileRef{}, nil, err
	}
	encFile.URL = uri
	return chat.FileRef{URI: uri}, encFile, nil
}

// DownloadAttachment fetches message media, decrypting when the message
// carried encrypted key material.
func (a *Adapter) DownloadAttachment(ctx context.Context, uri string, file *EncryptedFile) ([]byte, error) {
	_, token, err := a.session()
	if err != nil {
		return nil, err
	}
	data, err := a.api.Download(ctx, token, uri)
	if err != nil {
		return nil, fmt.Errorf("download media: %w", err)
	}
	if file == nil {
		return data, nil
	}
	return decryptAttachment(data, file)
}
