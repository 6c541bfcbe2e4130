package server

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/raterudder/solarforecast/pkg/log"
	"github.com/raterudder/solarforecast/pkg/types"
)

// gcm returns the AES-256-GCM cipher for the configured key.
func (s *Server) gcm(ctx context.Context) (cipher.AEAD, error) {
	if s.encryptionKey == "" {
		log.Ctx(ctx).ErrorContext(ctx, "no encryption key configured")
		return nil, errors.New("no encryption key configured")
	}
	key := []byte(s.encryptionKey)
	if len(key) != 32 {
		log.Ctx(ctx).ErrorContext(ctx, "invalid encryption key length (must be 32 bytes)", slog.Int("length", len(key)))
		return nil, errors.New("invalid encryption key length (must be 32 bytes)")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcm: %w", err)
	}
	return gcm, nil
}

// decryptCredentials opens credentials sealed by encryptCredentials. The nonce
// is stored in front of the ciphertext.
func (s *Server) decryptCredentials(ctx context.Context, encrypted []byte) (types.Credentials, error) {
	if len(encrypted) == 0 {
		return types.Credentials{}, nil
	}
	gcm, err := s.gcm(ctx)
	if err != nil {
		return types.Credentials{}, fmt.Errorf("cannot decrypt credentials: %w", err)
	}
	if len(encrypted) < gcm.NonceSize() {
		log.Ctx(ctx).ErrorContext(ctx, "malformed encrypted credentials", slog.Int("length", len(encrypted)))
		return types.Credentials{}, errors.New("malformed encrypted credentials")
	}

	nonce, ciphertext := encrypted[:gcm.NonceSize()], encrypted[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to decrypt credentials", slog.Any("error", err))
		return types.Credentials{}, fmt.Errorf("failed to decrypt credentials: %w", err)
	}

	var creds types.Credentials
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return types.Credentials{}, fmt.Errorf("failed to unmarshal credentials: %w", err)
	}
	return creds, nil
}

func (s *Server) encryptCredentials(ctx context.Context, creds types.Credentials) ([]byte, error) {
	gcm, err := s.gcm(ctx)
	if err != nil {
		return nil, fmt.Errorf("cannot encrypt credentials: %w", err)
	}
	jsonBytes, err := json.Marshal(creds)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal credentials: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to generate nonce", slog.Any("error", err))
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, jsonBytes, nil), nil
}
