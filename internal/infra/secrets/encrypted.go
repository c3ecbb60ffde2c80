package secrets

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"strings"

	"github.com/vietddude/apiwatch/internal/core/domain"
)

// EncryptedResolver opens enc:<base64> references sealed with AES-GCM.
type EncryptedResolver struct {
	gcm cipher.AEAD
}

// NewEncryptedResolver requires a 32-byte key.
func NewEncryptedResolver(key []byte) (*EncryptedResolver, error) {
	if len(key) != 32 {
		return nil, errors.New("encryption key must be 32 bytes")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &EncryptedResolver{gcm: gcm}, nil
}

// Seal encrypts a plaintext credential into an enc: reference.
func (r *EncryptedResolver) Seal(plain string) (domain.Secret, error) {
	nonce := make([]byte, r.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := r.gcm.Seal(nonce, nonce, []byte(plain), nil)
	return domain.Secret("enc:" + base64.StdEncoding.EncodeToString(sealed)), nil
}

func (r *EncryptedResolver) Resolve(ctx context.Context, ref domain.Secret) (string, error) {
	encoded, ok := strings.CutPrefix(ref.Reveal(), "enc:")
	if !ok {
		return "", resolveError(ref, ErrUnknownScheme)
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", resolveError(ref, err)
	}
	if len(data) < r.gcm.NonceSize() {
		return "", resolveError(ref, errors.New("ciphertext too short"))
	}
	nonce, ciphertext := data[:r.gcm.NonceSize()], data[r.gcm.NonceSize():]
	plain, err := r.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", resolveError(ref, err)
	}
	return string(plain), nil
}
