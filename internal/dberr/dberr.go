// Package dberr defines the storage error taxonomy shared by every layer of
// the row store. Callers classify failures with errors.Is against the Kind
// sentinels, and read table/column context from *Error with errors.As.
package dberr

import (
	"errors"
	"fmt"
	"strings"
)

type Kind uint8

const (
	KindInternal Kind = iota
	// KindSchema: row too long, unknown column, bad DDL. Fatal at construction.
	KindSchema
	// KindEncoding: a value does not fit or does not convert.
	KindEncoding
	// KindUniqueness: a unique/primary key already holds the encoded value.
	KindUniqueness
	// KindConstraint: a NOT NULL column received NULL.
	KindConstraint
	// KindIO: the block store failed to read or write.
	KindIO
	// KindLockTimeout: a block write lock was not acquired in time. Retryable.
	KindLockTimeout
	// KindUnsupported: the operation is not defined for the column type.
	KindUnsupported
)

var (
	ErrInternal    = errors.New("rowstore: internal invariant broken")
	ErrSchema      = errors.New("rowstore: schema error")
	ErrEncoding    = errors.New("rowstore: encoding error")
	ErrUniqueness  = errors.New("rowstore: uniqueness violation")
	ErrConstraint  = errors.New("rowstore: constraint violation")
	ErrIO          = errors.New("rowstore: i/o error")
	ErrLockTimeout = errors.New("rowstore: lock timeout")
	ErrUnsupported = errors.New("rowstore: unsupported operation")
)

func (k Kind) String() string {
	switch k {
	case KindSchema:
		return "schema"
	case KindEncoding:
		return "encoding"
	case KindUniqueness:
		return "uniqueness"
	case KindConstraint:
		return "constraint"
	case KindIO:
		return "io"
	case KindLockTimeout:
		return "lock-timeout"
	case KindUnsupported:
		return "unsupported"
	default:
		return "internal"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindSchema:
		return ErrSchema
	case KindEncoding:
		return ErrEncoding
	case KindUniqueness:
		return ErrUniqueness
	case KindConstraint:
		return ErrConstraint
	case KindIO:
		return ErrIO
	case KindLockTimeout:
		return ErrLockTimeout
	case KindUnsupported:
		return ErrUnsupported
	default:
		return ErrInternal
	}
}

// Error is a classified storage failure.
type Error struct {
	Kind   Kind
	Op     string
	Table  string
	Column string
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Kind.sentinel().Error())
	if e.Op != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Op)
	}
	if e.Table != "" || e.Column != "" {
		sb.WriteString(" [")
		sb.WriteString(e.Table)
		if e.Column != "" {
			if e.Table != "" {
				sb.WriteByte('.')
			}
			sb.WriteString(e.Column)
		}
		sb.WriteByte(']')
	}
	if e.Msg != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Msg)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, dberr.ErrUniqueness) match any *Error of that kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// WithTable returns a copy of e annotated with table and column names.
func (e *Error) WithTable(table, column string) *Error {
	cp := *e
	cp.Table = table
	if column != "" {
		cp.Column = column
	}
	return &cp
}

func Schema(op, format string, args ...any) *Error {
	return New(KindSchema, op, format, args...)
}

func Encoding(op, format string, args ...any) *Error {
	return New(KindEncoding, op, format, args...)
}

func Uniqueness(table, column, format string, args ...any) *Error {
	e := New(KindUniqueness, "insert", format, args...)
	e.Table = table
	e.Column = column
	return e
}

// IO classifies err as an I/O failure; nil stays nil.
func IO(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) && de.Kind == KindIO {
		return de
	}
	return Wrap(KindIO, op, err)
}

func LockTimeout(op string, blockID uint64) *Error {
	return New(KindLockTimeout, op, "block %#x", blockID)
}

func Unsupported(op, format string, args ...any) *Error {
	return New(KindUnsupported, op, format, args...)
}

func Internal(op, format string, args ...any) *Error {
	return New(KindInternal, op, format, args...)
}

// KindOf reports the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// IsRetryable reports whether the caller may retry the operation, typically
// against a different block.
func IsRetryable(err error) bool {
	return err != nil && errors.Is(err, ErrLockTimeout)
}

// IsFatal reports failures that should not be treated as a rejected write.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case KindIO, KindInternal, KindUnsupported:
		return true
	}
	return false
}
