package record

import (
	"fmt"

	"github.com/tuannm99/rowstore/internal/blob"
)

// ColumnType is the logical type tag of a column.
type ColumnType uint8

const (
	TypeNone ColumnType = iota
	TypeVarchar
	TypeBoolean
	TypeByte
	TypeShort
	TypeInt
	TypeLong
	TypeDouble
	TypeDate
	TypeBlob
	TypeNumeric
	TypeBinary
	TypeVarbinary
	TypeIdentity
)

const (
	// MaxInlineVarchar is the largest VARCHAR kept inline in the row.
	MaxInlineVarchar = 128
	// MaxInlineBinary is the largest BINARY/VARBINARY kept inline in the row.
	MaxInlineBinary = 255

	DefaultNumericPrecision = 18
)

func (t ColumnType) String() string {
	switch t {
	case TypeVarchar:
		return "VARCHAR"
	case TypeBoolean:
		return "BOOLEAN"
	case TypeByte:
		return "TINYINT"
	case TypeShort:
		return "SMALLINT"
	case TypeInt:
		return "INTEGER"
	case TypeLong:
		return "BIGINT"
	case TypeDouble:
		return "DOUBLE"
	case TypeDate:
		return "TIMESTAMP"
	case TypeBlob:
		return "BLOB"
	case TypeNumeric:
		return "NUMERIC"
	case TypeBinary:
		return "BINARY"
	case TypeVarbinary:
		return "VARBINARY"
	case TypeIdentity:
		return "IDENTITY"
	default:
		return "NONE"
	}
}

// physicalLength returns the fixed row footprint of a column and whether it
// uses the blob (inode) layout.
func physicalLength(t ColumnType, size int) (int, bool, error) {
	switch t {
	case TypeBoolean, TypeByte:
		return 1, false, nil
	case TypeShort:
		return 2, false, nil
	case TypeInt:
		return 4, false, nil
	case TypeLong, TypeDouble, TypeDate, TypeNumeric:
		return 8, false, nil
	case TypeIdentity:
		return 0, false, nil
	case TypeBlob:
		return blob.InodeSize, true, nil
	case TypeVarchar:
		if size <= 0 {
			return 0, false, fmt.Errorf("VARCHAR size must be positive, got %d", size)
		}
		if size > MaxInlineVarchar {
			return blob.InodeSize, true, nil
		}
		return 1 + 2*size, false, nil
	case TypeBinary, TypeVarbinary:
		if size <= 0 {
			return 0, false, fmt.Errorf("%s size must be positive, got %d", t, size)
		}
		if size > MaxInlineBinary {
			return blob.InodeSize, true, nil
		}
		if t == TypeVarbinary {
			return 1 + size, false, nil
		}
		return size, false, nil
	default:
		return 0, false, fmt.Errorf("unsupported column type %s", t)
	}
}
