package record

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/tuannm99/rowstore/internal/alias/bx"
	"github.com/tuannm99/rowstore/internal/blob"
	"github.com/tuannm99/rowstore/internal/dberr"
	"github.com/tuannm99/rowstore/internal/storage"
)

// Set encodes v into the column of the row at rowOff. A nil v clears the
// null bit. Overwriting an overflowed blob queues the old inode for deletion
// on x.
func (c *Column) Set(store blob.Store, x Updater, buf []byte, rowOff int, v any) error {
	if c.typ == TypeIdentity {
		return dberr.Unsupported("set", "identity value is derived from the row address").
			WithTable(c.table, c.name)
	}
	if c.blobLayout && !c.IsNull(buf, rowOff) {
		c.deleteBlob(store, x, buf, rowOff)
	}
	if v == nil {
		c.SetNull(buf, rowOff)
		return nil
	}

	if err := c.encode(store, x, buf, rowOff, v); err != nil {
		var de *dberr.Error
		if errors.As(err, &de) {
			return de.WithTable(c.table, c.name)
		}
		return err
	}
	c.setNonNull(buf, rowOff)
	return nil
}

func (c *Column) encode(store blob.Store, x Updater, buf []byte, rowOff int, v any) error {
	dst := c.raw(buf, rowOff)

	switch c.typ {
	case TypeBoolean:
		b, err := toBool(v)
		if err != nil {
			return err
		}
		dst[0] = 0
		if b {
			dst[0] = 1
		}
	case TypeByte:
		n, err := toIntRange(v, math.MinInt8, math.MaxInt8)
		if err != nil {
			return err
		}
		dst[0] = byte(int8(n))
	case TypeShort:
		n, err := toIntRange(v, math.MinInt16, math.MaxInt16)
		if err != nil {
			return err
		}
		bx.PutI16(dst, int16(n))
	case TypeInt:
		n, err := toIntRange(v, math.MinInt32, math.MaxInt32)
		if err != nil {
			return err
		}
		bx.PutI32(dst, int32(n))
	case TypeLong:
		n, err := toInt64(v)
		if err != nil {
			return err
		}
		bx.PutI64(dst, n)
	case TypeDouble:
		f, err := toFloat64(v)
		if err != nil {
			return err
		}
		bx.PutF64(dst, f)
	case TypeDate:
		ts, err := toTime(v)
		if err != nil {
			return err
		}
		bx.PutI64(dst, ts.UnixMilli())
	case TypeNumeric:
		n, err := toScaled(v, c.scale)
		if err != nil {
			return err
		}
		if err := checkPrecision(n, c.size, c.scale); err != nil {
			return err
		}
		bx.PutI64(dst, n)
	case TypeVarchar:
		s, err := toString(v)
		if err != nil {
			return err
		}
		if c.blobLayout {
			return blob.Write(store, x, dst, []byte(truncateRunes(s, c.size)))
		}
		encodeUTF16(dst, s, c.size)
	case TypeBinary, TypeVarbinary, TypeBlob:
		data, err := toBytes(v)
		if err != nil {
			return err
		}
		if c.typ != TypeBlob && len(data) > c.size {
			return dberr.Encoding("set", "%d bytes do not fit %s", len(data), c.SQLType())
		}
		switch {
		case c.blobLayout:
			return blob.Write(store, x, dst, data)
		case c.typ == TypeVarbinary:
			clear(dst)
			dst[0] = byte(len(data))
			copy(dst[1:], data)
		default:
			clear(dst)
			copy(dst, data)
		}
	default:
		return dberr.Unsupported("set", "column type %s", c.typ)
	}
	return nil
}

// encodeUTF16 writes a 1-byte length prefix and up to limit UTF-16 code units,
// zero-filling the rest of the region.
func encodeUTF16(dst []byte, s string, limit int) {
	units := utf16.Encode([]rune(s))
	if len(units) > limit {
		units = units[:limit]
		// never split a surrogate pair
		if utf16.IsSurrogate(rune(units[limit-1])) && units[limit-1] < 0xdc00 {
			units = units[:limit-1]
		}
	}
	clear(dst)
	dst[0] = byte(len(units))
	for i, u := range units {
		bx.PutU16(dst[1+2*i:], u)
	}
}

func decodeUTF16(src []byte) string {
	n := int(src[0])
	units := make([]uint16, n)
	for i := range n {
		units[i] = bx.U16(src[1+2*i:])
	}
	return string(utf16.Decode(units))
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	i := 0
	for range limit {
		_, w := utf8.DecodeRuneInString(s[i:])
		i += w
	}
	return s[:i]
}

// Value decodes the column of the row at rowOff; NULL decodes as nil.
//
//	VARCHAR string, BOOLEAN bool, TINYINT int8, SMALLINT int16,
//	INTEGER int32, BIGINT int64, DOUBLE float64, TIMESTAMP time.Time (UTC),
//	NUMERIC string, BLOB/BINARY/VARBINARY []byte, IDENTITY int64.
func (c *Column) Value(store blob.Store, blockID uint64, buf []byte, rowOff int) (any, error) {
	if c.typ == TypeIdentity {
		return int64(storage.RowAddress(blockID, rowOff)), nil
	}
	if c.IsNull(buf, rowOff) {
		return nil, nil
	}
	src := c.raw(buf, rowOff)

	switch c.typ {
	case TypeBoolean:
		return src[0] != 0, nil
	case TypeByte:
		return int8(src[0]), nil
	case TypeShort:
		return bx.I16(src), nil
	case TypeInt:
		return bx.I32(src), nil
	case TypeLong:
		return bx.I64(src), nil
	case TypeDouble:
		return bx.F64(src), nil
	case TypeDate:
		return time.UnixMilli(bx.I64(src)).UTC(), nil
	case TypeNumeric:
		return formatScaled(bx.I64(src), c.scale), nil
	case TypeVarchar:
		if c.blobLayout {
			data, err := blob.Read(store, src)
			if err != nil {
				return nil, err
			}
			return string(data), nil
		}
		return decodeUTF16(src), nil
	case TypeBinary:
		if c.blobLayout {
			return blob.Read(store, src)
		}
		out := make([]byte, c.length)
		copy(out, src)
		return out, nil
	case TypeVarbinary:
		if c.blobLayout {
			return blob.Read(store, src)
		}
		n := int(src[0])
		out := make([]byte, n)
		copy(out, src[1:1+n])
		return out, nil
	case TypeBlob:
		return blob.Read(store, src)
	default:
		return nil, dberr.Unsupported("get", "column type %s", c.typ).WithTable(c.table, c.name)
	}
}

// GetLong reads an integral column; NULL reads as 0.
func (c *Column) GetLong(blockID uint64, buf []byte, rowOff int) int64 {
	if c.typ == TypeIdentity {
		return int64(storage.RowAddress(blockID, rowOff))
	}
	if c.IsNull(buf, rowOff) {
		return 0
	}
	src := c.raw(buf, rowOff)
	switch c.typ {
	case TypeBoolean:
		if src[0] != 0 {
			return 1
		}
		return 0
	case TypeByte:
		return int64(int8(src[0]))
	case TypeShort:
		return int64(bx.I16(src))
	case TypeInt:
		return int64(bx.I32(src))
	case TypeLong, TypeDate:
		return bx.I64(src)
	case TypeDouble:
		return int64(bx.F64(src))
	case TypeNumeric:
		return bx.I64(src) / pow10(c.scale)
	default:
		return 0
	}
}

// maxPrecision is the digit count every int64 can hold.
const maxPrecision = 18

// checkPrecision rejects a scaled value with more than precision digits.
func checkPrecision(n int64, precision, scale int) error {
	if precision > maxPrecision {
		return nil
	}
	limit := pow10(precision)
	if n >= limit || n <= -limit {
		return dberr.Encoding("set", "%s exceeds NUMERIC(%d,%d)", formatScaled(n, scale), precision, scale)
	}
	return nil
}

func pow10(n int) int64 {
	p := int64(1)
	for range n {
		p *= 10
	}
	return p
}

// formatScaled renders a scaled integer as "{integerPart}.{fractionPart}".
func formatScaled(n int64, scale int) string {
	if scale == 0 {
		return strconv.FormatInt(n, 10)
	}
	neg := n < 0
	u := uint64(n)
	if neg {
		u = uint64(-n)
	}
	p := uint64(pow10(scale))

	var sb strings.Builder
	if neg {
		sb.WriteByte('-')
	}
	sb.WriteString(strconv.FormatUint(u/p, 10))
	sb.WriteByte('.')
	frac := strconv.FormatUint(u%p, 10)
	sb.WriteString(strings.Repeat("0", scale-len(frac)))
	sb.WriteString(frac)
	return sb.String()
}
