package bx

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestBigEndianReadWrite verifies that the Put/Get helpers round-trip values
// using big-endian (most-significant byte first) encoding.
func TestBigEndianReadWrite(t *testing.T) {
	// ---- U16 ----
	{
		b := make([]byte, 2)
		var v uint16 = 0x1234

		PutU16(b, v)
		assert.Equal(t, []byte{0x12, 0x34}, b)
		assert.Equal(t, v, U16(b))
	}

	// ---- U32 ----
	{
		b := make([]byte, 4)
		var v uint32 = 0x01020304

		PutU32(b, v)
		assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, b)
		assert.Equal(t, v, U32(b))
	}

	// ---- U64 ----
	{
		b := make([]byte, 8)
		var v uint64 = 0x0102030405060708

		PutU64(b, v)
		assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}, b)
		assert.Equal(t, v, U64(b))
	}
}

func TestSignedAndFloat(t *testing.T) {
	b := make([]byte, 8)

	PutI16(b, -2)
	assert.Equal(t, int16(-2), I16(b))

	PutI32(b, math.MinInt32)
	assert.Equal(t, int32(math.MinInt32), I32(b))

	PutI64(b, -42)
	assert.Equal(t, int64(-42), I64(b))

	PutF64(b, 3.25)
	assert.Equal(t, 3.25, F64(b))
}

func TestAtHelpers(t *testing.T) {
	b := make([]byte, 16)

	PutU16At(b, 1, 0xBEEF)
	assert.Equal(t, uint16(0xBEEF), U16At(b, 1))

	PutU32At(b, 3, 0xCAFEBABE)
	assert.Equal(t, uint32(0xCAFEBABE), U32At(b, 3))

	PutI64At(b, 8, -7)
	assert.Equal(t, int64(-7), I64At(b, 8))
	assert.Equal(t, uint64(0xFFFFFFFFFFFFFFF9), U64At(b, 8))

	Zero(b)
	assert.Equal(t, make([]byte, 16), b)
}
