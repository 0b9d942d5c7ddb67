// Package frame builds and parses the uplink text payload:
//
//	T:<temperature>,H:<humidity>#<64 lowercase hex HMAC-SHA256>
//
// Both values carry exactly one fractional digit.
// Sizes are counted the way a C buffer would hold them, terminator included.
package frame

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/juju/errors"
)

const (
	DataPartCap = 32  // bytes including terminator
	FrameCap    = 128 // bytes including terminator
	AuthHexLen  = 64
	Separator   = '#'
)

var (
	ErrFormatOverflow = errors.New("format overflow")
	ErrBadHexLength   = errors.New("auth hex length")
	ErrNotFinite      = errors.New("value is not finite")
	ErrSyntax         = errors.New("frame syntax")
	ErrBadHex         = errors.New("auth hex alphabet")
)

// DataPart is the unauthenticated measurement text, e.g. "T:25.3,H:60.5".
type DataPart string

// Frame is DataPart, separator and hex tag.
type Frame string

var reDataPart = regexp.MustCompile(`^T:(-?[0-9]+\.[0-9]),H:([0-9]+\.[0-9])$`)

// BuildDataPart renders temperature and humidity with one decimal digit,
// correctly rounded, exact ties to even.
func BuildDataPart(t, h float32) (DataPart, error) {
	ts, err := format1(t)
	if err != nil {
		return "", errors.Annotate(err, "temperature")
	}
	hs, err := format1(h)
	if err != nil {
		return "", errors.Annotate(err, "humidity")
	}
	s := "T:" + ts + ",H:" + hs
	if len(s) >= DataPartCap {
		return "", errors.Annotatef(ErrFormatOverflow, "data part length=%d cap=%d", len(s), DataPartCap)
	}
	return DataPart(s), nil
}

// BuildFrame joins data part and hex tag. authHex must be exactly 64 chars.
func BuildFrame(d DataPart, authHex string) (Frame, error) {
	if len(authHex) != AuthHexLen {
		return "", errors.Annotatef(ErrBadHexLength, "length=%d expected=%d", len(authHex), AuthHexLen)
	}
	n := len(d) + 1 + len(authHex)
	if n >= FrameCap {
		return "", errors.Annotatef(ErrFormatOverflow, "frame length=%d cap=%d", n, FrameCap)
	}
	var b strings.Builder
	b.Grow(n)
	b.WriteString(string(d))
	b.WriteByte(Separator)
	b.WriteString(authHex)
	return Frame(b.String()), nil
}

// ParseDataPart is strict inverse of BuildDataPart.
func ParseDataPart(s string) (t, h float32, err error) {
	if len(s) >= DataPartCap {
		return 0, 0, errors.Annotatef(ErrFormatOverflow, "data part length=%d cap=%d", len(s), DataPartCap)
	}
	m := reDataPart.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, errors.Annotatef(ErrSyntax, "data part='%s'", s)
	}
	tf, err := strconv.ParseFloat(m[1], 32)
	if err != nil {
		return 0, 0, errors.Annotatef(ErrSyntax, "temperature='%s' %v", m[1], err)
	}
	hf, err := strconv.ParseFloat(m[2], 32)
	if err != nil {
		return 0, 0, errors.Annotatef(ErrSyntax, "humidity='%s' %v", m[2], err)
	}
	return float32(tf), float32(hf), nil
}

// ParseFrame splits and checks frame grammar. Tag is not verified here.
func ParseFrame(s string) (DataPart, string, error) {
	if len(s) >= FrameCap {
		return "", "", errors.Annotatef(ErrFormatOverflow, "frame length=%d cap=%d", len(s), FrameCap)
	}
	if strings.Count(s, string(Separator)) != 1 {
		return "", "", errors.Annotatef(ErrSyntax, "frame must contain exactly one '%c'", Separator)
	}
	i := strings.IndexByte(s, Separator)
	data, tag := s[:i], s[i+1:]
	if len(tag) != AuthHexLen {
		return "", "", errors.Annotatef(ErrBadHexLength, "length=%d expected=%d", len(tag), AuthHexLen)
	}
	for j := 0; j < len(tag); j++ {
		if !isLowerHex(tag[j]) {
			return "", "", errors.Annotatef(ErrBadHex, "offset=%d char=%q", j, tag[j])
		}
	}
	if _, _, err := ParseDataPart(data); err != nil {
		return "", "", errors.Trace(err)
	}
	return DataPart(data), tag, nil
}

func format1(x float32) (string, error) {
	f := float64(x)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", errors.Annotatef(ErrNotFinite, "value=%v", x)
	}
	s := strconv.FormatFloat(f, 'f', 1, 32)
	if s == "-0.0" {
		s = "0.0"
	}
	return s, nil
}

func isLowerHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')
}
