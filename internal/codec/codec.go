// Package codec keeps correct answers out of plaintext in client payloads and
// caches.
//
// The transform is a keyed, reversible obfuscation: a per-question keystream
// is derived with HKDF-SHA256 from the system secret, an optional salt and
// the question id, XORed over the JSON form of the answer and encoded as
// unpadded base64url. It is NOT encryption. Anyone who can read the deployed
// secret (or the code that holds it) can decode every token; it only deters
// casual inspection of page source and network responses.
package codec

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"quiz-engine/internal/domain"
)

// tagSize is the length of the question-bound check prefix inside each token.
const tagSize = 4

// Codec encodes and decodes answers. It is immutable and safe for concurrent use.
type Codec struct {
	secret []byte
	salt   []byte
}

// New builds a codec from the system secret and an optional salt.
func New(secret, salt string) *Codec {
	return &Codec{secret: []byte(secret), salt: []byte(salt)}
}

// Encode obfuscates answer for the given question.
func (c *Codec) Encode(answer domain.Answer, questionID string) (string, error) {
	plain, err := json.Marshal(answer)
	if err != nil {
		return "", fmt.Errorf("encode answer: %w", err)
	}
	stream, err := c.keystream(questionID, tagSize+len(plain))
	if err != nil {
		return "", err
	}
	out := make([]byte, tagSize+len(plain))
	// The leading bytes are keystream XOR zero, so a token decoded under a
	// different question id is detected instead of yielding garbage.
	copy(out[tagSize:], plain)
	xor(out, stream)
	return base64.RawURLEncoding.EncodeToString(out), nil
}

// Decode reverses Encode. Malformed tokens return an error wrapping domain.ErrDecode.
func (c *Codec) Decode(token, questionID string) (domain.Answer, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return domain.Answer{}, fmt.Errorf("%w: %v", domain.ErrDecode, err)
	}
	if len(raw) <= tagSize {
		return domain.Answer{}, fmt.Errorf("%w: token too short", domain.ErrDecode)
	}
	stream, err := c.keystream(questionID, len(raw))
	if err != nil {
		return domain.Answer{}, err
	}
	xor(raw, stream)
	for _, b := range raw[:tagSize] {
		if b != 0 {
			return domain.Answer{}, fmt.Errorf("%w: token does not belong to question %q", domain.ErrDecode, questionID)
		}
	}
	var answer domain.Answer
	if err := json.Unmarshal(raw[tagSize:], &answer); err != nil {
		return domain.Answer{}, fmt.Errorf("%w: %v", domain.ErrDecode, err)
	}
	return answer, nil
}

func (c *Codec) keystream(questionID string, n int) ([]byte, error) {
	r := hkdf.New(sha256.New, c.secret, c.salt, []byte("quiz-answer:"+questionID))
	stream := make([]byte, n)
	if _, err := io.ReadFull(r, stream); err != nil {
		// hkdf caps output at 255 hash blocks.
		return nil, fmt.Errorf("%w: answer too long", domain.ErrDecode)
	}
	return stream, nil
}

func xor(dst, stream []byte) {
	for i := range dst {
		dst[i] ^= stream[i]
	}
}
