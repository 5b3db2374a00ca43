package renogymodbus

import (
	"fmt"
)

const (
	// FuncReadHoldingRegisters is the only function code the BT modules answer.
	FuncReadHoldingRegisters = 0x03

	// BroadcastDeviceID is accepted by hub devices that ignore addressing.
	BroadcastDeviceID = 0xFF

	requestFrameLength  = 8
	minResponseLength   = 5
	responseHeaderBytes = 3
	crcBytes            = 2
)

type FrameErrorKind int

const (
	FrameTooShort FrameErrorKind = iota
	FrameChecksumMismatch
	FrameUnexpectedDevice
	FrameUnexpectedFunction
	FrameException
)

func (k FrameErrorKind) String() string {
	switch k {
	case FrameTooShort:
		return "too_short"
	case FrameChecksumMismatch:
		return "checksum_mismatch"
	case FrameUnexpectedDevice:
		return "unexpected_device"
	case FrameUnexpectedFunction:
		return "unexpected_function"
	case FrameException:
		return "exception"
	default:
		return "unknown"
	}
}

// FrameError reports a malformed or unexpected response frame.
// The raw frame is kept for logging.
type FrameError struct {
	Kind          FrameErrorKind
	ExceptionCode uint8
	Raw           []byte
}

func (e *FrameError) Error() string {
	if e.Kind == FrameException {
		return fmt.Sprintf("modbus frame error: %s (code %d)", e.Kind, e.ExceptionCode)
	}
	return fmt.Sprintf("modbus frame error: %s (%d bytes)", e.Kind, len(e.Raw))
}

// CRC16 computes the Modbus CRC (poly 0xA001, seed 0xFFFF).
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&0x0001 != 0 {
				crc = (crc >> 1) ^ 0xA001
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

// EncodeReadRequest builds a read holding registers request frame.
// The CRC trailer is little-endian, low byte first.
func EncodeReadRequest(deviceID uint8, function uint8, register uint16, words uint16) []byte {
	frame := make([]byte, 0, requestFrameLength)
	frame = append(frame,
		deviceID,
		function,
		byte(register>>8), byte(register),
		byte(words>>8), byte(words),
	)
	crc := CRC16(frame)
	return append(frame, byte(crc&0xFF), byte(crc>>8))
}

// DecodeResponse validates a complete response frame and returns the register
// payload. It checks length, device id, function code, the exception bit and
// the CRC trailer, in that order. The returned slice aliases buf.
func DecodeResponse(buf []byte, deviceID uint8, function uint8) ([]byte, error) {
	if len(buf) < minResponseLength {
		return nil, &FrameError{Kind: FrameTooShort, Raw: buf}
	}
	if buf[1]&0x80 != 0 {
		return nil, &FrameError{Kind: FrameException, ExceptionCode: buf[2], Raw: buf}
	}
	if buf[0] != deviceID && deviceID != BroadcastDeviceID && buf[0] != BroadcastDeviceID {
		return nil, &FrameError{Kind: FrameUnexpectedDevice, Raw: buf}
	}
	if buf[1] != function {
		return nil, &FrameError{Kind: FrameUnexpectedFunction, Raw: buf}
	}
	byteCount := int(buf[2])
	total := responseHeaderBytes + byteCount + crcBytes
	if len(buf) < total {
		return nil, &FrameError{Kind: FrameTooShort, Raw: buf}
	}
	received := uint16(buf[total-1])<<8 | uint16(buf[total-2])
	if CRC16(buf[:total-crcBytes]) != received {
		return nil, &FrameError{Kind: FrameChecksumMismatch, Raw: buf}
	}
	return buf[responseHeaderBytes : responseHeaderBytes+byteCount], nil
}

// Assembler reassembles response frames from a stream of notification chunks.
// BLE notifications split frames at arbitrary MTU boundaries, so completeness
// is judged by the declared byte count, not by chunk edges.
type Assembler struct {
	buf []byte
}

// Feed appends a notification chunk to the internal buffer.
func (a *Assembler) Feed(chunk []byte) {
	a.buf = append(a.buf, chunk...)
}

// Reset discards buffered bytes. Called between requests so a stale partial
// frame cannot bleed into the next response.
func (a *Assembler) Reset() {
	a.buf = a.buf[:0]
}

// Next returns the next complete frame, or nil if more bytes are needed.
// Error frames (exception bit set) are 5 bytes and complete on their own.
// A garbage prefix can declare a byte count that never completes, so when the
// candidate at the buffer start is still short, the rest of the buffer is
// scanned for a complete CRC-valid frame before waiting for more bytes.
func (a *Assembler) Next() []byte {
	for {
		if len(a.buf) < minResponseLength {
			return nil
		}
		total := frameLength(a.buf)
		if len(a.buf) < total {
			if off := scanFrame(a.buf[1:]); off >= 0 {
				a.buf = a.buf[1+off:]
				continue
			}
			return nil
		}
		if !frameChecksumOK(a.buf[:total]) {
			// not a frame start, skip one byte and rescan
			a.buf = a.buf[1:]
			continue
		}
		frame := make([]byte, total)
		copy(frame, a.buf[:total])
		a.buf = a.buf[total:]
		return frame
	}
}

// frameLength returns the total frame size declared by the header at the
// start of buf. Needs at least minResponseLength buffered bytes.
func frameLength(buf []byte) int {
	if buf[1]&0x80 != 0 {
		return minResponseLength
	}
	return responseHeaderBytes + int(buf[2]) + crcBytes
}

func frameChecksumOK(frame []byte) bool {
	received := uint16(frame[len(frame)-1])<<8 | uint16(frame[len(frame)-2])
	return CRC16(frame[:len(frame)-crcBytes]) == received
}

// scanFrame returns the offset of the first complete CRC-valid frame in buf,
// or -1 when none is buffered yet.
func scanFrame(buf []byte) int {
	for off := 0; off+minResponseLength <= len(buf); off++ {
		total := frameLength(buf[off:])
		if off+total > len(buf) {
			continue
		}
		if frameChecksumOK(buf[off : off+total]) {
			return off
		}
	}
	return -1
}
