package security

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// ErrDecode is returned for any token that cannot be turned back into a payload.
var ErrDecode = errors.New("token decode failed")

const tokenSeparator = ":"

// Codec turns a JSON-serialisable payload into a text token and back.
//
// Tokens have the form hex(nonce) ":" hex(ciphertext). The cipher is AES-256-GCM
// so any change to the nonce or ciphertext fails authentication.
type Codec struct {
	aead cipher.AEAD
}

// NewCodec derives the key as SHA-256(secret).
func NewCodec(secret string) (*Codec, error) {
	if secret == "" {
		return nil, errors.New("codec secret must not be empty")
	}
	key := sha256.Sum256([]byte(secret))
	defer clear(key[:])
	return newCodec(key[:])
}

// NewDerivedCodec derives an independent key for purpose from secret using
// HKDF-SHA256. Tokens from a derived codec never decode under NewCodec(secret)
// or under a codec derived for another purpose.
func NewDerivedCodec(secret, purpose string) (*Codec, error) {
	if secret == "" {
		return nil, errors.New("codec secret must not be empty")
	}
	if purpose == "" {
		return nil, errors.New("codec purpose must not be empty")
	}

	key := make([]byte, 32)
	defer clear(key)
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(purpose))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("HKDF key derivation failed: %w", err)
	}
	return newCodec(key)
}

func newCodec(key []byte) (*Codec, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Codec{aead: aead}, nil
}

// Encode serialises v and encrypts it under a fresh random nonce.
func (c *Codec) Encode(v any) (string, error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}
	defer clear(plaintext)

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := c.aead.Seal(nil, nonce, plaintext, nil)
	return hex.EncodeToString(nonce) + tokenSeparator + hex.EncodeToString(ciphertext), nil
}

// Decode authenticates and decrypts token into v. Every failure wraps ErrDecode
// and leaves v untouched.
func (c *Codec) Decode(token string, v any) error {
	nonceHex, ctHex, ok := strings.Cut(token, tokenSeparator)
	if !ok {
		return fmt.Errorf("%w: missing separator", ErrDecode)
	}

	nonce, err := hex.DecodeString(nonceHex)
	if err != nil {
		return fmt.Errorf("%w: nonce is not hex", ErrDecode)
	}
	if len(nonce) != c.aead.NonceSize() {
		return fmt.Errorf("%w: nonce length %d", ErrDecode, len(nonce))
	}

	ciphertext, err := hex.DecodeString(ctHex)
	if err != nil {
		return fmt.Errorf("%w: ciphertext is not hex", ErrDecode)
	}
	if len(ciphertext) < c.aead.Overhead() {
		return fmt.Errorf("%w: ciphertext too short", ErrDecode)
	}

	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return fmt.Errorf("%w: authentication failed", ErrDecode)
	}
	defer clear(plaintext)

	if t := bytes.TrimSpace(plaintext); len(t) == 0 || t[0] != '{' {
		return fmt.Errorf("%w: payload is not an object", ErrDecode)
	}
	if err := unmarshalInto(plaintext, v); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return nil
}

// unmarshalInto decodes into a fresh value and only assigns it to v on success.
func unmarshalInto(data []byte, v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return errors.New("decode target must be a non-nil pointer")
	}
	fresh := reflect.New(rv.Elem().Type())
	if err := json.Unmarshal(data, fresh.Interface()); err != nil {
		return err
	}
	rv.Elem().Set(fresh.Elem())
	return nil
}
