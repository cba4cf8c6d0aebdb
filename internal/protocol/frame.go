// Package protocol implements the Domestia controller wire format.
//
// Outgoing frame: [0xFF, 0x00, 0x00, len/type, command..., checksum, reqID]
// Incoming frame: [payload..., reqID]
//
// The checksum is the byte sum of everything after the 4-byte header, mod 256.
// The request ID is echoed back by the controller in the last byte of the reply.
package protocol

import "errors"

const (
	Marker    = 0xFF
	HeaderLen = 4
)

var (
	// ErrShortCommand is returned for commands that do not carry a full header.
	ErrShortCommand = errors.New("command shorter than header")
	// ErrMalformedFrame is returned for an empty incoming frame.
	ErrMalformedFrame = errors.New("malformed frame")
)

// Checksum returns sum(cmd[4:]) mod 256.
func Checksum(cmd []byte) (byte, error) {
	if len(cmd) < HeaderLen {
		return 0, ErrShortCommand
	}
	var sum byte
	for _, b := range cmd[HeaderLen:] {
		sum += b
	}
	return sum, nil
}

// BuildFrame appends the checksum and request ID to a command.
// The returned slice never aliases cmd.
func BuildFrame(cmd []byte, reqID uint8) ([]byte, error) {
	crc, err := Checksum(cmd)
	if err != nil {
		return nil, err
	}
	frame := make([]byte, 0, len(cmd)+2)
	frame = append(frame, cmd...)
	frame = append(frame, crc, reqID)
	return frame, nil
}

// ParseIncoming splits a reply into its payload and trailing request ID.
func ParseIncoming(raw []byte) ([]byte, uint8, error) {
	if len(raw) == 0 {
		return nil, 0, ErrMalformedFrame
	}
	last := len(raw) - 1
	payload := make([]byte, last)
	copy(payload, raw[:last])
	return payload, raw[last], nil
}
