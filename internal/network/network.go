// Package network defines the LoRaWAN link collaborator used by the node.
package network

import (
	"context"
	"fmt"

	"github.com/juju/errors"
)

type Network interface {
	// Join performs one OTAA join attempt.
	Join(ctx context.Context) error
	// Send performs one uplink attempt. Confirmed uplink succeeds only after network ack.
	Send(ctx context.Context, port uint8, payload []byte, confirmed bool) error
}

type Code uint8

const (
	CodeUnknown Code = iota
	CodeTimeout
	CodeNotJoined
	CodeTransport
	CodeRejected
	CodeNoAck
)

var codeNames = [...]string{"unknown", "timeout", "not-joined", "transport", "rejected", "no-ack"}

func (c Code) String() string {
	if int(c) < len(codeNames) {
		return codeNames[c]
	}
	return fmt.Sprintf("Code(%d)", c)
}

const (
	OpJoin = "join"
	OpSend = "send"
)

type Error struct {
	Op   string
	Code Code
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("network %s %s: %v", e.Op, e.Code.String(), e.Err)
	}
	return fmt.Sprintf("network %s %s", e.Op, e.Code.String())
}

func JoinError(code Code, err error) error { return &Error{Op: OpJoin, Code: code, Err: err} }
func SendError(code Code, err error) error { return &Error{Op: OpSend, Code: code, Err: err} }

// CodeOf unwraps annotated error, CodeUnknown for foreign errors.
func CodeOf(err error) Code {
	if e, ok := errors.Cause(err).(*Error); ok {
		return e.Code
	}
	return CodeUnknown
}
