package matrix

import (
	"context"
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/pbkdf2"

	"github.com/murmurchat/murmur/internal/chat"
	"github.com/murmurchat/murmur/internal/store"
)

// backupAuthData is the auth_data payload of a curve25519 key backup.
// The salt and iteration count are present when the backup key can also be
// derived from a passphrase.
type backupAuthData struct {
	PublicKey            string `json:"public_key"`
	PrivateKeySalt       string `json:"private_key_salt,omitempty"`
	PrivateKeyIterations int    `json:"private_key_iterations,omitempty"`
}

const defaultPassphraseIterations = 500000

// BackupVersion fetches the current key backup version. A missing backup is
// a *APIError with M_NOT_FOUND.
func (c *Client) BackupVersion(ctx context.Context, token string) (*BackupVersionResponse, error) {
	body, err := c.do(ctx, http.MethodGet, clientPrefix+"/room_keys/version", token, nil)
	if err != nil {
		return nil, err
	}
	var resp BackupVersionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("matrix: decode backup version: %w", err)
	}
	return &resp, nil
}

// CreateBackupVersion registers a new key backup and returns its version.
func (c *Client) CreateBackupVersion(ctx context.Context, token, algorithm string, authData any) (string, error) {
	req := map[string]any{
		"algorithm": algorithm,
		"auth_data": authData,
	}
	body, err := c.do(ctx, http.MethodPost, clientPrefix+"/room_keys/version", token, req)
	if err != nil {
		return "", err
	}
	var resp struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("matrix: decode create backup response: %w", err)
	}
	return resp.Version, nil
}

// SecureBackup reports the key backup status. Nil without error means no
// backup is configured. Trust is derived from the local cache: a backup is
// trusted once this client has proven it holds the matching private key by
// saving or restoring it.
func (a *Adapter) SecureBackup(ctx context.Context) (*chat.SecureBackup, error) {
	userID, token, err := a.session()
	if err != nil {
		return nil, err
	}

	version, err := a.api.BackupVersion(ctx, token)
	if err != nil {
		if IsAPIError(err, ErrCodeNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch backup version: %w", err)
	}

	backup := &chat.SecureBackup{
		Version:  version.Version,
		IsUsable: version.Algorithm == backupAlgorithm,
	}
	if a.store != nil {
		if cached, err := a.store.BackupInfo(ctx, userID); err == nil && cached != nil {
			backup.IsTrusted = cached.IsTrusted && cached.Version == version.Version
		}
		a.cacheBackup(ctx, userID, backup)
	}
	return backup, nil
}

// GenerateSecureBackup produces a fresh recovery key. Nothing is persisted
// server-side until SaveSecureBackup; an abandoned generation leaves no
// trace.
func (a *Adapter) GenerateSecureBackup(ctx context.Context) (*chat.GeneratedBackup, error) {
	if _, _, err := a.session(); err != nil {
		return nil, err
	}
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("generate recovery key: %w", err)
	}
	return &chat.GeneratedBackup{RecoveryKey: encodeRecoveryKey(seed)}, nil
}

// SaveSecureBackup registers a key backup derived from the recovery key and
// marks it trusted locally.
func (a *Adapter) SaveSecureBackup(ctx context.Context, recoveryKey string) error {
	userID, token, err := a.session()
	if err != nil {
		return err
	}
	seed, err := decodeRecoveryKey(recoveryKey)
	if err != nil {
		return err
	}
	publicKey, err := curve25519.X25519(seed, curve25519.Basepoint)
	if err != nil {
		return fmt.Errorf("derive backup key: %w", err)
	}

	version, err := a.api.CreateBackupVersion(ctx, token, backupAlgorithm, backupAuthData{
		PublicKey: base64.RawStdEncoding.EncodeToString(publicKey),
	})
	if err != nil {
		return fmt.Errorf("create backup version: %w", err)
	}

	a.cacheBackup(ctx, userID, &chat.SecureBackup{Version: version, IsTrusted: true, IsUsable: true})
	if a.log != nil {
		a.log.Info().Str("version", version).Msg("key backup created")
	}
	return nil
}

// RestoreSecureBackup proves possession of the backup's private key from a
// recovery key or passphrase and marks the backup trusted. The private key
// must reproduce the public key registered with the backup; a mismatch is a
// hard error so a wrong key is caught before any key import.
func (a *Adapter) RestoreSecureBackup(ctx context.Context, recoveryKey, passphrase string) error {
	userID, token, err := a.session()
	if err != nil {
		return err
	}

	version, err := a.api.BackupVersion(ctx, token)
	if err != nil {
		if IsAPIError(err, ErrCodeNotFound) {
			return chat.NewError(chat.ErrCodeBadRequest, "no key backup to restore")
		}
		return fmt.Errorf("fetch backup version: %w", err)
	}
	var authData backupAuthData
	if err := json.Unmarshal(version.AuthData, &authData); err != nil {
		return fmt.Errorf("decode backup auth data: %w", err)
	}

	var seed []byte
	switch {
	case recoveryKey != "":
		seed, err = decodeRecoveryKey(recoveryKey)
		if err != nil {
			return err
		}
	case passphrase != "":
		salt, err := base64.RawStdEncoding.DecodeString(authData.PrivateKeySalt)
		if err != nil {
			return chat.NewError(chat.ErrCodeBadRequest, "backup does not support passphrase recovery")
		}
		iterations := authData.PrivateKeyIterations
		if iterations <= 0 {
			iterations = defaultPassphraseIterations
		}
		seed = pbkdf2.Key([]byte(passphrase), salt, iterations, 32, sha512.New)
	default:
		return chat.NewError(chat.ErrCodeBadRequest, "recovery key or passphrase required")
	}

	publicKey, err := curve25519.X25519(seed, curve25519.Basepoint)
	if err != nil {
		return fmt.Errorf("derive backup key: %w", err)
	}
	wantKey, err := base64.RawStdEncoding.DecodeString(authData.PublicKey)
	if err != nil {
		return fmt.Errorf("decode backup public key: %w", err)
	}
	if subtle.ConstantTimeCompare(publicKey, wantKey) != 1 {
		return chat.NewError(chat.ErrCodeBadRequest, "recovery key does not match this backup")
	}

	a.cacheBackup(ctx, userID, &chat.SecureBackup{Version: version.Version, IsTrusted: true, IsUsable: true})
	if a.log != nil {
		a.log.Info().Str("version", version.Version).Msg("key backup restored")
	}
	return nil
}

func (a *Adapter) cacheBackup(ctx context.Context, userID string, backup *chat.SecureBackup) {
	if a.store == nil {
		return
	}
	err := a.store.SaveBackupInfo(ctx, &store.BackupInfo{
		UserID:      userID,
		Version:     backup.Version,
		IsTrusted:   backup.IsTrusted,
		IsUsable:    backup.IsUsable,
		RefreshedAt: time.Now(),
	})
	if err != nil && a.log != nil {
		a.log.Warn().Err(err).Msg("cache backup status failed")
	}
}
