package heap

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"unicode"
	"unicode/utf8"

	"github.com/tuannm99/rowstore/internal/record"
	"github.com/tuannm99/rowstore/internal/storage"
)

type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) Fprintf(format string, a ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, a...)
}

func rowStateName(s byte) string {
	switch s {
	case record.RowFree:
		return "FREE"
	case record.RowValid:
		return "VALID"
	case record.RowAlloc:
		return "ALLOC"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", s)
	}
}

// printable: printable runes as themselves, anything else '.'
func printable(b []byte) string {
	var buf bytes.Buffer
	if utf8.Valid(b) {
		for _, r := range string(b) {
			if unicode.IsPrint(r) {
				buf.WriteRune(r)
			} else {
				buf.WriteByte('.')
			}
		}
		return buf.String()
	}
	for _, c := range b {
		if r := rune(c); r < utf8.RuneSelf && unicode.IsPrint(r) {
			buf.WriteRune(r)
		} else {
			buf.WriteByte('.')
		}
	}
	return buf.String()
}

// DebugBlock prints the slot states of a row block and a preview of every
// non-free slot. Pass all to include FREE slots.
func (t *Table) DebugBlock(w io.Writer, blockID uint64, all bool) error {
	if kind := t.store.AllocKind(blockID); kind != storage.AllocRow {
		return fmt.Errorf("%w: block %d is %s", ErrBadAddress, blockID, kind)
	}
	b, err := t.store.ReadBlock(blockID)
	if err != nil {
		return err
	}
	defer b.Release()

	b.RLock()
	buf := bytes.Clone(b.Buffer()[:t.rowEnd])
	b.RUnlock()

	const maxPreview = 32
	counts := map[byte]int{}
	ew := &errWriter{w: w}
	ew.Fprintf("=== block %d of %s: %d slots of %d bytes ===\n", blockID, t.name, t.rowsPerBlock, t.rowLength)

	for off := 0; off < t.rowEnd && ew.err == nil; off += t.rowLength {
		st := record.State(buf, off)
		counts[st]++
		if st == record.RowFree && !all {
			continue
		}
		slot := buf[off : off+t.rowLength]
		preview := slot
		if len(preview) > maxPreview {
			preview = preview[:maxPreview]
		}
		ew.Fprintf("[%4d] addr=%d %-6s hex=%s\n", off/t.rowLength,
			storage.RowAddress(blockID, off), rowStateName(st), hex.EncodeToString(preview))
		ew.Fprintf("       text=%q\n", printable(preview))
	}
	ew.Fprintf("valid=%d alloc=%d free=%d\n", counts[record.RowValid], counts[record.RowAlloc], counts[record.RowFree])
	return ew.err
}
