// Package uplink turns a sensor reading into an authenticated frame.
package uplink

import (
	"github.com/juju/errors"
	"github.com/temoto/lorasense/internal/auth"
	"github.com/temoto/lorasense/internal/frame"
	"github.com/temoto/lorasense/internal/types"
)

type Pipeline struct {
	auth *auth.Authenticator
}

func NewPipeline(a *auth.Authenticator) *Pipeline {
	if a == nil {
		panic("code error uplink.NewPipeline auth=nil")
	}
	return &Pipeline{auth: a}
}

// Make runs data part, tag, hex, frame steps. Any failure yields empty frame.
func (self *Pipeline) Make(r types.Reading) (frame.Frame, error) {
	data, err := frame.BuildDataPart(r.Temperature, r.Humidity)
	if err != nil {
		return "", errors.Annotatef(err, "uplink data part %s", r.String())
	}
	tag := self.auth.Authenticate([]byte(data))
	var hexbuf [auth.HexSize]byte
	n, err := auth.EncodeHex(hexbuf[:], tag[:])
	if err != nil {
		return "", errors.Annotate(err, "uplink hex")
	}
	f, err := frame.BuildFrame(data, string(hexbuf[:n]))
	if err != nil {
		return "", errors.Annotate(err, "uplink frame")
	}
	return f, nil
}

// Verify parses f and checks its tag.
func (self *Pipeline) Verify(f string) (types.Reading, error) {
	data, tagHex, err := frame.ParseFrame(f)
	if err != nil {
		return types.Reading{}, errors.Annotate(err, "uplink verify parse")
	}
	if err = self.auth.Verify([]byte(data), tagHex); err != nil {
		return types.Reading{}, errors.Annotate(err, "uplink verify")
	}
	t, h, err := frame.ParseDataPart(string(data))
	if err != nil {
		return types.Reading{}, errors.Trace(err)
	}
	return types.Reading{Temperature: t, Humidity: h}, nil
}
