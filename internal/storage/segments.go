package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"go.uber.org/multierr"
)

// SegFileName names segment segNo of base: base for 0, base.N after that.
func SegFileName(base string, segNo int32) string {
	if segNo <= 0 {
		return base
	}
	return fmt.Sprintf("%s.%d", base, segNo)
}

// SegmentPath is the on-disk path of segment segNo of lfs.
func (lfs LocalFileSet) SegmentPath(segNo int32) string {
	return filepath.Join(lfs.Dir, SegFileName(lfs.Base, segNo))
}

// segmentNo parses a directory entry name as a segment of base.
func segmentNo(base, name string) (int32, bool) {
	if name == base {
		return 0, true
	}
	suf, ok := strings.CutPrefix(name, base+".")
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(suf, 10, 32)
	if err != nil || n <= 0 {
		return 0, false
	}
	return int32(n), true
}

// listSegmentsLocal returns the segment numbers of lfs present on disk, in
// ascending order. A missing directory has no segments.
func listSegmentsLocal(lfs LocalFileSet) ([]int32, error) {
	ents, err := os.ReadDir(lfs.Dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var segs []int32
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		if n, ok := segmentNo(lfs.Base, e.Name()); ok {
			segs = append(segs, n)
		}
	}
	slices.Sort(segs)
	return segs, nil
}

// RemoveAllSegments removes every segment of lfs found in its directory and
// reports all failures together.
func RemoveAllSegments(lfs LocalFileSet) error {
	segs, err := listSegmentsLocal(lfs)
	if err != nil {
		return err
	}
	for _, segNo := range segs {
		if rerr := os.Remove(lfs.SegmentPath(segNo)); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			err = multierr.Append(err, rerr)
		}
	}
	return err
}

// SegmentsExist reports whether any segment of lfs is present on disk.
func SegmentsExist(lfs LocalFileSet) (bool, error) {
	ents, err := os.ReadDir(lfs.Dir)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	for _, e := range ents {
		if _, ok := segmentNo(lfs.Base, e.Name()); ok && !e.IsDir() {
			return true, nil
		}
	}
	return false, nil
}
