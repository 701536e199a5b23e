package services

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/awnumar/memguard"
)

// KeySize is the AES-256 key length in bytes
const KeySize = 32

// Cipher seals record content with AES-256-GCM. The key lives in a memguard
// enclave and is only decrypted into locked memory for the duration of a call.
type Cipher struct {
	key         *memguard.Enclave
	fingerprint string
}

// NewCipher takes ownership of key: the slice is wiped before returning.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) == 0 {
		return nil, ErrKeyMissing
	}
	if len(key) != KeySize {
		memguard.WipeBytes(key)
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", KeySize, len(key))
	}
	sum := sha256.Sum256(key)
	return &Cipher{
		key:         memguard.NewEnclave(key),
		fingerprint: hex.EncodeToString(sum[:8]),
	}, nil
}

// Fingerprint is a short, non-reversible identifier of the key for logs
func (c *Cipher) Fingerprint() string {
	return c.fingerprint
}

// Seal encrypts plaintext; the nonce is prepended to the ciphertext
func (c *Cipher) Seal(plaintext []byte) ([]byte, error) {
	gcm, release, err := c.aead()
	if err != nil {
		return nil, err
	}
	defer release()

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts data produced by Seal. Any failure wraps ErrDecryption.
func (c *Cipher) Open(sealed []byte) ([]byte, error) {
	gcm, release, err := c.aead()
	if err != nil {
		return nil, err
	}
	defer release()

	if len(sealed) < gcm.NonceSize() {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecryption)
	}
	nonce, body := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	return plain, nil
}

func (c *Cipher) aead() (cipher.AEAD, func(), error) {
	buf, err := c.key.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("open key enclave: %w", err)
	}
	block, err := aes.NewCipher(buf.Bytes())
	if err != nil {
		buf.Destroy()
		return nil, nil, fmt.Errorf("init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		buf.Destroy()
		return nil, nil, fmt.Errorf("init gcm: %w", err)
	}
	return gcm, buf.Destroy, nil
}

// GenerateKey returns fresh random key material. It is only called from the
// explicit keygen command, never as a fallback for a missing key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

// EncodeKey renders key material for a key file
func EncodeKey(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}

// DecodeKey accepts base64 or hex key material
func DecodeKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrKeyMissing
	}
	if key, err := base64.StdEncoding.DecodeString(s); err == nil && len(key) == KeySize {
		return key, nil
	}
	if key, err := hex.DecodeString(s); err == nil && len(key) == KeySize {
		return key, nil
	}
	return nil, fmt.Errorf("key must be %d bytes encoded as base64 or hex", KeySize)
}

// LoadKey reads key material from SENTINEL_KEY, falling back to keyFile.
// Absence is reported as ErrKeyMissing rather than papered over.
func LoadKey(keyFile string) ([]byte, error) {
	if v := os.Getenv("SENTINEL_KEY"); v != "" {
		return DecodeKey(v)
	}
	if keyFile == "" {
		return nil, ErrKeyMissing
	}
	data, err := os.ReadFile(keyFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s does not exist (run `sentinel keygen`)", ErrKeyMissing, keyFile)
	}
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	defer memguard.WipeBytes(data)
	return DecodeKey(string(data))
}

// WriteKeyFile persists new key material, refusing to overwrite an existing key.
func WriteKeyFile(path string, key []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("refusing to overwrite existing key file %s", path)
		}
		return err
	}
	if _, err := f.WriteString(EncodeKey(key) + "\n"); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
