package heap

import (
	"bytes"
	"cmp"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tuannm99/rowstore/internal/alias/bx"
	"github.com/tuannm99/rowstore/internal/blockstore"
	"github.com/tuannm99/rowstore/internal/dberr"
	"github.com/tuannm99/rowstore/internal/storage"
)

// Block 0 layout past the store-owned prefix:
//
//	1024 version string, NUL terminated
//	1056 index root block id of each unique column, 8 bytes, in column order
//	2048 CREATE TABLE text, NUL terminated
//
// 1.0.0 reserved the root blocks but kept the indexes in memory; from 1.1.0
// the roots hold B+tree nodes. Both are rebuilt from the rows on open.
const (
	headerDataOffset = blockstore.StoreHeaderEnd
	indexRootOffset  = headerDataOffset + 32
	headerDataEnd    = headerDataOffset + 1024

	maxIndexRoots = (headerDataEnd - indexRootOffset) / 8
	maxDDLLength  = storage.BlockSize - headerDataEnd - 1
)

const (
	Version       = "RowStore-DB 1.1.0"
	MinVersion    = "RowStore-DB 1.0.0"
	versionPrefix = "RowStore-DB"
)

var (
	ErrNotRowStore = errors.New("heap: not a row store table")
	ErrOutOfDate   = errors.New("heap: table version not supported")
)

// DDL renders the table as the CREATE TABLE statement stored in its header.
func (t *Table) DDL() string {
	var sb strings.Builder
	sb.WriteString("CREATE TABLE ")
	sb.WriteString(t.name)
	sb.WriteByte('(')

	for i, c := range t.row.Columns() {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(c.Name())
		sb.WriteByte(' ')
		sb.WriteString(c.SQLType())

		switch {
		case c.IsPrimaryKey():
			sb.WriteString(" PRIMARY KEY")
		case c.IsUnique():
			sb.WriteString(" UNIQUE")
		}
		if c.IsNotNull() && !c.IsPrimaryKey() {
			sb.WriteString(" NOT NULL")
		}
		if def := c.Default(); def != nil {
			sb.WriteString(" DEFAULT (")
			sb.WriteString(def.String())
			sb.WriteByte(')')
		}
		if n := c.AutoIncrement(); n >= 0 {
			sb.WriteString(" auto_increment")
			if n > 1 {
				fmt.Fprintf(&sb, "(%d)", n)
			}
		}
	}

	for _, set := range t.uniqueSets {
		sb.WriteString(",UNIQUE(")
		for i, c := range set {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(c.Name())
		}
		sb.WriteByte(')')
	}
	sb.WriteByte(')')
	return sb.String()
}

// writeHeader stores the version, index roots and DDL in block 0.
func (t *Table) writeHeader() error {
	ddl := t.DDL()
	if len(ddl) > maxDDLLength {
		return dberr.Schema("write header", "table definition is %d bytes, limit %d", len(ddl), maxDDLLength).
			WithTable(t.name, "")
	}

	var roots []uint64
	for _, c := range t.row.Columns() {
		if !c.IsUnique() {
			continue
		}
		var root uint64
		if idx := c.Index(); idx != nil {
			root = idx.Root()
		}
		roots = append(roots, root)
	}
	if len(roots) > maxIndexRoots {
		return dberr.Schema("write header", "%d unique columns, limit %d", len(roots), maxIndexRoots).
			WithTable(t.name, "")
	}

	b, err := t.store.ReadBlock(0)
	if err != nil {
		return err
	}
	defer b.Release()

	if err := b.Lock(t.opts.LockTimeout); err != nil {
		return dberr.LockTimeout("write header", 0)
	}
	buf := b.Buffer()
	clear(buf[headerDataOffset:])
	copy(buf[headerDataOffset:], Version)
	for i, root := range roots {
		bx.PutU64At(buf, indexRootOffset+8*i, root)
	}
	copy(buf[headerDataEnd:], ddl)
	b.SetDirty(headerDataOffset, storage.BlockSize)
	b.Unlock()

	if err := b.Commit(); err != nil {
		return dberr.IO("write header", err)
	}
	return nil
}

// Header is the table preamble read back from block 0.
type Header struct {
	Version    string
	IndexRoots []uint64
	DDL        string
}

// ReadHeader reads and version-checks the header of a table store.
func ReadHeader(store *blockstore.Store) (*Header, error) {
	b, err := store.ReadBlock(0)
	if err != nil {
		return nil, err
	}
	defer b.Release()

	b.RLock()
	buf := bytes.Clone(b.Buffer())
	b.RUnlock()

	h := &Header{
		Version: cString(buf[headerDataOffset:indexRootOffset]),
		DDL:     cString(buf[headerDataEnd:]),
	}

	v, ok := parseVersion(h.Version)
	switch {
	case !ok:
		return nil, dberr.IO("read header", fmt.Errorf("%w: %s version %q", ErrNotRowStore, store.Name(), h.Version))
	case compareVersions(v, minVersion) < 0 || compareVersions(v, version) > 0:
		return nil, dberr.IO("read header", fmt.Errorf("%w: %s version %q", ErrOutOfDate, store.Name(), h.Version))
	}

	last := 0
	for off := indexRootOffset; off < headerDataEnd; off += 8 {
		root := bx.U64At(buf, off)
		h.IndexRoots = append(h.IndexRoots, root)
		if root != 0 {
			last = len(h.IndexRoots)
		}
	}
	h.IndexRoots = h.IndexRoots[:last]
	return h, nil
}

var (
	version, _    = parseVersion(Version)
	minVersion, _ = parseVersion(MinVersion)
)

// parseVersion splits "RowStore-DB major.minor.patch" into its numbers.
func parseVersion(s string) ([3]int, bool) {
	var v [3]int
	rest, ok := strings.CutPrefix(s, versionPrefix+" ")
	if !ok {
		return v, false
	}
	parts := strings.Split(rest, ".")
	if len(parts) != len(v) {
		return v, false
	}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return v, false
		}
		v[i] = n
	}
	return v, true
}

func compareVersions(a, b [3]int) int {
	for i := range a {
		if c := cmp.Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	return 0
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
