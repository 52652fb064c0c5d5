// Package secure seals credentials stored in the database with AES-GCM.
// A previous key can be configured so values written before a key rotation
// stay readable; every new write uses the current key.
package secure

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"strings"

	"github.com/goccy/go-json"

	"dashsync/internal/config"
)

const envelopeVersion = "aes-gcm-v1"

var ErrUndecryptable = errors.New("secure: no configured key opens the value")

type envelope struct {
	Enc   string `json:"enc"`
	Nonce string `json:"nonce"`
	Data  string `json:"data"`
}

// Box is safe for concurrent use. A Box without keys passes values through.
type Box struct {
	gcms []cipher.AEAD
}

func New(cfg config.SecurityConfig) *Box {
	return NewWithKeys(cfg.TokenKey, cfg.TokenPrevKey)
}

func NewWithKeys(keys ...string) *Box {
	b := &Box{}
	seen := map[string]struct{}{}
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keyBytes := parseKey(key)
		if len(keyBytes) == 0 {
			continue
		}
		if gcm := newGCM(keyBytes); gcm != nil {
			b.gcms = append(b.gcms, gcm)
		}
	}
	return b
}

func (b *Box) Enabled() bool {
	return b != nil && len(b.gcms) > 0
}

// Seal encrypts plain for the given purpose. The purpose is bound as
// additional data, so a sealed refresh token cannot be replayed as an API key.
func (b *Box) Seal(purpose, plain string) (string, error) {
	if !b.Enabled() || plain == "" {
		return plain, nil
	}
	gcm := b.gcms[0]
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	ct := gcm.Seal(nil, nonce, []byte(plain), aad(purpose))
	out, err := json.Marshal(envelope{
		Enc:   envelopeVersion,
		Nonce: base64.StdEncoding.EncodeToString(nonce),
		Data:  base64.StdEncoding.EncodeToString(ct),
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Open reverses Seal. Values that are not envelopes are returned as stored,
// which keeps rows written before encryption was enabled usable.
func (b *Box) Open(purpose, stored string) (string, error) {
	env, ok := parseEnvelope(stored)
	if !ok {
		return stored, nil
	}
	if !b.Enabled() {
		return "", ErrUndecryptable
	}
	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil {
		return "", err
	}
	ct, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		return "", err
	}
	for _, gcm := range b.gcms {
		pt, err := gcm.Open(nil, nonce, ct, aad(purpose))
		if err == nil {
			return string(pt), nil
		}
	}
	return "", ErrUndecryptable
}

// IsSealed reports whether stored looks like a Seal envelope.
func IsSealed(stored string) bool {
	_, ok := parseEnvelope(stored)
	return ok
}

func parseEnvelope(stored string) (envelope, bool) {
	s := strings.TrimSpace(stored)
	if !strings.HasPrefix(s, "{") {
		return envelope{}, false
	}
	var env envelope
	if err := json.Unmarshal([]byte(s), &env); err != nil {
		return envelope{}, false
	}
	if env.Enc != envelopeVersion || env.Nonce == "" || env.Data == "" {
		return envelope{}, false
	}
	return env, true
}

func aad(purpose string) []byte {
	return []byte(strings.TrimSpace(strings.ToLower(purpose)))
}

func parseKey(k string) []byte {
	// Prefer base64 key. fallback to raw bytes.
	keyBytes, err := base64.StdEncoding.DecodeString(k)
	if err != nil {
		keyBytes = []byte(k)
	}
	switch n := len(keyBytes); {
	case n == 16 || n == 24 || n == 32:
		return keyBytes
	case n < 16:
		return nil
	case n < 24:
		return keyBytes[:16]
	case n < 32:
		return keyBytes[:24]
	default:
		return keyBytes[:32]
	}
}

func newGCM(keyBytes []byte) cipher.AEAD {
	block, err := aes.NewCipher(keyBytes)
	if err != nil {
		return nil
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil
	}
	return gcm
}
