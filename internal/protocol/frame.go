package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// FrameKindTerminal identifies a binary terminal-output frame.
const FrameKindTerminal = 0x01

// terminalFixedLen is the number of fixed header bytes in a terminal frame: one kind byte, one session-id length
// byte, and an 8-byte big-endian sequence number. The variable-length session id sits between the length byte and
// the sequence number.
const terminalFixedLen = 10

// Sentinel errors returned by the binary frame codec.
var (
	ErrFrameTooShort    = errors.New("terminal frame too short")
	ErrUnknownFrameKind = errors.New("unknown binary frame kind")
	ErrSessionIDTooLong = errors.New("session id exceeds 255 bytes")
)

// TerminalFrame is a decoded binary terminal-output frame. Payload aliases the buffer passed to DecodeTerminalFrame;
// callers that retain it past the read must copy.
type TerminalFrame struct {
	SessionID string
	Seq       uint64
	Payload   []byte
}

// EncodeTerminalFrame serialises a terminal-output frame:
//
//	byte 0       frame kind (0x01)
//	byte 1       session-id length L
//	bytes 2..2+L session id, UTF-8
//	next 8 bytes sequence number, unsigned 64-bit big-endian
//	remainder    raw PTY bytes
func EncodeTerminalFrame(sessionID string, seq uint64, payload []byte) ([]byte, error) {
	if len(sessionID) > 255 {
		return nil, ErrSessionIDTooLong
	}

	buf := make([]byte, 0, terminalFixedLen+len(sessionID)+len(payload))
	buf = append(buf, FrameKindTerminal, byte(len(sessionID)))
	buf = append(buf, sessionID...)

	var seqBytes [8]byte
	binary.BigEndian.PutUint64(seqBytes[:], seq)
	buf = append(buf, seqBytes[:]...)

	return append(buf, payload...), nil
}

// DecodeTerminalFrame parses a binary terminal-output frame. It is the inverse of EncodeTerminalFrame for every valid
// input; a truncated header or unknown kind byte is an error.
func DecodeTerminalFrame(frame []byte) (TerminalFrame, error) {
	if len(frame) < 2 {
		return TerminalFrame{}, ErrFrameTooShort
	}
	if frame[0] != FrameKindTerminal {
		return TerminalFrame{}, fmt.Errorf("%w: 0x%02x", ErrUnknownFrameKind, frame[0])
	}

	idLen := int(frame[1])
	if len(frame) < terminalFixedLen+idLen {
		return TerminalFrame{}, ErrFrameTooShort
	}

	return TerminalFrame{
		SessionID: string(frame[2 : 2+idLen]),
		Seq:       binary.BigEndian.Uint64(frame[2+idLen : terminalFixedLen+idLen]),
		Payload:   frame[terminalFixedLen+idLen:],
	}, nil
}
