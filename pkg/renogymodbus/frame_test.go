package renogymodbus

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCRC16KnownValue(t *testing.T) {
	// standard CRC-16/MODBUS check value
	assert.EqualValues(t, 0x4B37, CRC16([]byte("123456789")))
}

func TestEncodeReadRequest(t *testing.T) {
	frame := EncodeReadRequest(255, FuncReadHoldingRegisters, 256, 34)

	require.Len(t, frame, 8)
	assert.EqualValues(t, 255, frame[0])
	assert.EqualValues(t, 0x03, frame[1])
	assert.EqualValues(t, 0x01, frame[2])
	assert.EqualValues(t, 0x00, frame[3])
	assert.EqualValues(t, 0x00, frame[4])
	assert.EqualValues(t, 34, frame[5])

	crc := CRC16(frame[:6])
	assert.EqualValues(t, byte(crc&0xFF), frame[6])
	assert.EqualValues(t, byte(crc>>8), frame[7])
}

func buildResponse(deviceID uint8, function uint8, words []uint16) []byte {
	frame := []byte{deviceID, function, byte(len(words) * 2)}
	for _, w := range words {
		frame = append(frame, byte(w>>8), byte(w))
	}
	crc := CRC16(frame)
	return append(frame, byte(crc&0xFF), byte(crc>>8))
}

func TestDecodeResponseRoundTrip(t *testing.T) {
	require := require.New(t)

	frame := buildResponse(48, FuncReadHoldingRegisters, []uint16{0x1234, 0xABCD})
	payload, err := DecodeResponse(frame, 48, FuncReadHoldingRegisters)
	require.NoError(err)
	require.Equal([]byte{0x12, 0x34, 0xAB, 0xCD}, payload)
}

func TestDecodeResponseTooShort(t *testing.T) {
	_, err := DecodeResponse([]byte{48, 3, 2}, 48, FuncReadHoldingRegisters)

	var fe *FrameError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, FrameTooShort, fe.Kind)
}

func TestDecodeResponseChecksumMismatch(t *testing.T) {
	frame := buildResponse(48, FuncReadHoldingRegisters, []uint16{0x1234})
	frame[3] ^= 0x01 // single bit flip in the payload

	_, err := DecodeResponse(frame, 48, FuncReadHoldingRegisters)

	var fe *FrameError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, FrameChecksumMismatch, fe.Kind)
}

func TestDecodeResponseUnexpectedDevice(t *testing.T) {
	frame := buildResponse(49, FuncReadHoldingRegisters, []uint16{0x1234})

	_, err := DecodeResponse(frame, 48, FuncReadHoldingRegisters)

	var fe *FrameError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, FrameUnexpectedDevice, fe.Kind)
}

func TestDecodeResponseException(t *testing.T) {
	frame := []byte{48, 0x83, 0x02}
	crc := CRC16(frame)
	frame = append(frame, byte(crc&0xFF), byte(crc>>8))

	_, err := DecodeResponse(frame, 48, FuncReadHoldingRegisters)

	var fe *FrameError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, FrameException, fe.Kind)
	assert.EqualValues(t, 2, fe.ExceptionCode)
}

func TestAssemblerSplitFrames(t *testing.T) {
	require := require.New(t)

	frame := buildResponse(255, FuncReadHoldingRegisters, []uint16{1, 2, 3, 4, 5, 6, 7, 8})

	// feed one byte at a time, frame must only complete at the end
	var asm Assembler
	for i, b := range frame {
		require.Nil(asm.Next(), "no frame expected before byte %d", i)
		asm.Feed([]byte{b})
	}
	got := asm.Next()
	require.Equal(frame, got)
	require.Nil(asm.Next())
}

func TestAssemblerResyncsPastGarbage(t *testing.T) {
	require := require.New(t)

	frame := buildResponse(255, FuncReadHoldingRegisters, []uint16{0x0102})

	var asm Assembler
	asm.Feed([]byte{0x00, 0x00, 0x07})
	asm.Feed(frame)
	require.Equal(frame, asm.Next())

	// a garbage byte count larger than anything that will arrive must not
	// stall the stream either
	asm.Reset()
	asm.Feed([]byte{0x01, 0x03, 0xFF})
	asm.Feed(frame)
	require.Equal(frame, asm.Next())
	require.Nil(asm.Next())
}

func TestAssemblerResyncsToExceptionFrame(t *testing.T) {
	require := require.New(t)

	exception := []byte{48, 0x83, 0x02}
	crc := CRC16(exception)
	exception = append(exception, byte(crc&0xFF), byte(crc>>8))

	var asm Assembler
	asm.Feed([]byte{0x00, 0x00, 0x09})
	asm.Feed(exception)
	require.Equal(exception, asm.Next())
}

func TestAssemblerResetDiscardsPartial(t *testing.T) {
	frame := buildResponse(255, FuncReadHoldingRegisters, []uint16{0x0102})

	var asm Assembler
	asm.Feed(frame[:4])
	asm.Reset()
	asm.Feed(frame)
	assert.Equal(t, frame, asm.Next())
}

func TestFrameErrorIsError(t *testing.T) {
	err := error(&FrameError{Kind: FrameChecksumMismatch})
	var fe *FrameError
	assert.True(t, errors.As(err, &fe))
	assert.Contains(t, err.Error(), "checksum_mismatch")
}
