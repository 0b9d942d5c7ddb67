// Package auth computes and checks HMAC-SHA256 tags of uplink data.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/juju/errors"
	"github.com/temoto/lorasense/helpers"
)

const (
	KeySize = 32
	TagSize = sha256.Size
	HexSize = 2 * TagSize
)

var (
	ErrShortBuffer = errors.New("hex destination too small")
	ErrMismatch    = errors.New("auth tag mismatch")
)

type Key [KeySize]byte

// DefaultKey is the factory shared secret, ASCII zero-padded to KeySize.
var DefaultKey = KeyFromString("SensecapStm32WL55SecretKey2024")

// KeyFromString copies s into a Key, truncating or zero-padding.
func KeyFromString(s string) Key {
	var k Key
	copy(k[:], s)
	return k
}

// ParseKeyHex expects exactly 64 hex chars.
func ParseKeyHex(s string) (Key, error) {
	var k Key
	err := helpers.HexFixed(k[:], s)
	return k, errors.Annotate(err, "key")
}

type Tag [TagSize]byte

func (t Tag) Hex() string { return HexString(t[:]) }

// Authenticator owns the secret key, it never leaves this type.
type Authenticator struct {
	key Key
}

func New(key Key) *Authenticator { return &Authenticator{key: key} }

// Authenticate returns HMAC-SHA256 over exact bytes of data.
func (self *Authenticator) Authenticate(data []byte) Tag {
	var t Tag
	mac := hmac.New(sha256.New, self.key[:])
	_, _ = mac.Write(data)
	copy(t[:], mac.Sum(nil))
	return t
}

// Verify checks tagHex against data in constant time.
func (self *Authenticator) Verify(data []byte, tagHex string) error {
	if len(tagHex) != HexSize {
		return errors.Annotatef(ErrMismatch, "tag length=%d expected=%d", len(tagHex), HexSize)
	}
	var got Tag
	if _, err := hex.Decode(got[:], []byte(tagHex)); err != nil {
		return errors.Annotatef(ErrMismatch, "tag hex: %v", err)
	}
	expect := self.Authenticate(data)
	if !hmac.Equal(expect[:], got[:]) {
		return errors.Trace(ErrMismatch)
	}
	return nil
}

// EncodeHex writes two lowercase hex digits per byte of src into dst.
// Go strings carry length, so no terminator byte is reserved.
func EncodeHex(dst, src []byte) (int, error) {
	n := hex.EncodedLen(len(src))
	if len(dst) < n {
		return 0, errors.Annotatef(ErrShortBuffer, "dst=%d need=%d", len(dst), n)
	}
	return hex.Encode(dst, src), nil
}

func HexString(b []byte) string { return hex.EncodeToString(b) }
