package helpers

import (
	"encoding/hex"

	"github.com/juju/errors"
)

// HexFixed decodes s into dst, s must encode exactly len(dst) bytes.
func HexFixed(dst []byte, s string) error {
	if len(s) != hex.EncodedLen(len(dst)) {
		return errors.NotValidf("hex length=%d expected=%d", len(s), hex.EncodedLen(len(dst)))
	}
	_, err := hex.Decode(dst, []byte(s))
	return errors.Annotate(err, "hex")
}
