// Package journal implements the patch write queue and its on-disk
// original-bytes sidecar (spec §4.G): buffer every write in memory,
// print the pending changes, then commit them to each target file while
// recording what was overwritten so a later run can revert it.
package journal

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/blacktop/inferno/internal/ierrors"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/pkg/errors"
)

// origByteFileExt is the sidecar extension appended to the target path.
const origByteFileExt = ".InfernoOriginalBytes"

// write is one queued write: an ascending byte offset and its replacement bytes.
type write struct {
	offset int64
	bytes  []byte
}

// Queue buffers pending writes across one or more target files until
// Commit flushes them. A single Queue is not safe for concurrent use
// (spec §5: single-threaded throughout).
type Queue struct {
	perFile map[string][]write
	order   []string
}

// NewQueue returns an empty write queue.
func NewQueue() *Queue {
	return &Queue{perFile: make(map[string][]write)}
}

// QueueWrite schedules bytes to be written at fileOff in path. Writes to
// the same (path, offset) pair accumulate in the order queued; Commit
// applies them in ascending-offset order per file, not queue order.
func (q *Queue) QueueWrite(path string, fileOff int64, bytes []byte) {
	if _, ok := q.perFile[path]; !ok {
		q.order = append(q.order, path)
	}
	cp := make([]byte, len(bytes))
	copy(cp, bytes)
	q.perFile[path] = append(q.perFile[path], write{offset: fileOff, bytes: cp})
}

// Empty reports whether no writes are queued.
func (q *Queue) Empty() bool {
	return len(q.order) == 0
}

func (q *Queue) sortedWrites(path string) []write {
	ws := append([]write(nil), q.perFile[path]...)
	sort.SliceStable(ws, func(i, j int) bool { return ws[i].offset < ws[j].offset })
	return ws
}

// PrintPending writes a hex ledger of every queued change to w, one
// section per file, followed by a humanized total-bytes-changed figure.
func (q *Queue) PrintPending(w io.Writer) {
	for _, path := range q.order {
		fmt.Fprintf(w, "  %s:\n", path)
		total := 0
		for _, wr := range q.sortedWrites(path) {
			fmt.Fprintf(w, "    %x: ", wr.offset)
			for _, b := range wr.bytes {
				fmt.Fprintf(w, "%x ", b)
			}
			fmt.Fprintln(w)
			total += len(wr.bytes)
		}
		fmt.Fprintf(w, "    %s\n", color.New(color.Faint).Sprintf("(%s changed)", humanize.Bytes(uint64(total))))
	}
}

// Commit applies every queued write to its target file, capturing the
// bytes it overwrites into a `<path>.InfernoOriginalBytes` sidecar.
func (q *Queue) Commit() error {
	for _, path := range q.order {
		if err := commitFile(path, q.sortedWrites(path)); err != nil {
			return errors.Wrapf(err, "committing %s", path)
		}
	}
	return nil
}

func commitFile(path string, writes []write) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return errors.Wrapf(ierrors.Io, "open %s: %v", path, err)
	}
	defer f.Close()

	sidecar, err := os.Create(path + origByteFileExt)
	if err != nil {
		return errors.Wrapf(ierrors.Io, "create sidecar for %s: %v", path, err)
	}
	defer sidecar.Close()

	bw := bufio.NewWriter(sidecar)
	for _, wr := range writes {
		orig := make([]byte, len(wr.bytes))
		if _, err := f.ReadAt(orig, wr.offset); err != nil {
			return errors.Wrapf(ierrors.Io, "reading original bytes at %#x: %v", wr.offset, err)
		}
		if _, err := f.WriteAt(wr.bytes, wr.offset); err != nil {
			return errors.Wrapf(ierrors.Io, "writing bytes at %#x: %v", wr.offset, err)
		}
		fmt.Fprintf(bw, "%x: ", wr.offset)
		for _, b := range orig {
			fmt.Fprintf(bw, "%x ", b)
		}
		fmt.Fprintln(bw)
	}
	return bw.Flush()
}

// Revert restores path from its `<path>.InfernoOriginalBytes` sidecar, if
// one exists, then deletes the sidecar. A missing sidecar is not an error
// — it means path was never patched.
func Revert(path string) error {
	sidecarPath := path + origByteFileExt
	if _, err := os.Stat(sidecarPath); os.IsNotExist(err) {
		return nil
	}

	sidecar, err := os.Open(sidecarPath)
	if err != nil {
		return errors.Wrapf(ierrors.Io, "open sidecar %s: %v", sidecarPath, err)
	}
	defer sidecar.Close()

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return errors.Wrapf(ierrors.Io, "open %s: %v", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(sidecar)
	scanner.Split(bufio.ScanWords)

	var cursor int64 = -1
	for scanner.Scan() {
		tok := scanner.Text()
		if strings.HasSuffix(tok, ":") {
			off, err := strconv.ParseInt(tok[:len(tok)-1], 16, 64)
			if err != nil {
				return errors.Wrapf(ierrors.InvalidInput, "malformed revert file %s: bad offset %q", sidecarPath, tok)
			}
			cursor = off
			continue
		}
		v, err := strconv.ParseUint(tok, 16, 16)
		if err != nil || v > 0xFF {
			return errors.Wrapf(ierrors.InvalidInput, "malformed revert file %s: bad byte %q", sidecarPath, tok)
		}
		if cursor < 0 {
			return errors.Wrapf(ierrors.InvalidInput, "malformed revert file %s: byte before offset", sidecarPath)
		}
		if _, err := f.WriteAt([]byte{byte(v)}, cursor); err != nil {
			return errors.Wrapf(ierrors.Io, "restoring byte at %#x: %v", cursor, err)
		}
		cursor++
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(ierrors.Io, err.Error())
	}

	sidecar.Close()
	if err := os.Remove(sidecarPath); err != nil {
		return errors.Wrapf(ierrors.Io, "removing sidecar %s: %v", sidecarPath, err)
	}
	return nil
}
