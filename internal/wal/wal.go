// Package wal implements the daemon's write-ahead log: the single durable
// record of every event, replayed on startup to rebuild MaterializedState
// (spec §4.1). Each record is length-prefixed and checksummed so a crash
// mid-write leaves a detectable, truncatable tail instead of corrupting
// earlier records.
package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sync"

	"github.com/oddjobs/oj/internal/event"
)

// ErrCorruptTail names the condition Open recovers from: trailing bytes
// that failed to decode. Open does not return it; the WAL is truncated at
// the last good record rather than treated as a fatal condition, since a
// partial final write is the expected shape of a crash mid-append.
var ErrCorruptTail = errors.New("wal: corrupt tail record truncated")

const recordHeaderLen = 4 + 4 // length prefix + crc32

// WAL is an append-only sequence of events backed by a single file. Its
// mutex serializes Append and Close; callers are expected to drive it from
// the single-writer event loop (spec §4.1, §4.3).
type WAL struct {
	mu       sync.Mutex
	file     *os.File
	nextSeq  uint64
	path     string
}

// Open opens (creating if absent) the WAL file at path, replaying existing
// records to determine the next sequence number and truncating any
// undecodable tail bytes left by a crash mid-write. An I/O error opening
// or seeking the file is fatal and returned directly: the daemon cannot
// run without a durable log (spec §4.1 "fatal on I/O error").
func Open(path string) (*WAL, []event.Sequenced, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("wal: opening %s: %w", path, err)
	}

	entries, validLen, truncated, err := readAll(f)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("wal: reading %s: %w", path, err)
	}

	if truncated {
		if err := f.Truncate(validLen); err != nil {
			f.Close()
			return nil, nil, fmt.Errorf("wal: truncating corrupt tail of %s: %w", path, err)
		}
	}

	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("wal: seeking end of %s: %w", path, err)
	}

	var next uint64 = 1
	if len(entries) > 0 {
		next = entries[len(entries)-1].Seq + 1
	}

	w := &WAL{file: f, nextSeq: next, path: path}
	return w, entries, nil
}

// readAll decodes every well-formed record from the start of f, returning
// the byte offset through the last fully-valid record (validLen) and
// whether trailing bytes had to be discarded.
func readAll(f *os.File) (entries []event.Sequenced, validLen int64, truncated bool, err error) {
	if _, err = f.Seek(0, io.SeekStart); err != nil {
		return nil, 0, false, err
	}
	r := bufio.NewReader(f)

	var offset int64
	var seq uint64 = 1
	header := make([]byte, recordHeaderLen)

	for {
		n, rerr := io.ReadFull(r, header)
		if rerr == io.EOF {
			break
		}
		if rerr != nil || n < recordHeaderLen {
			// Short header: a torn write at the very end.
			return entries, offset, true, nil
		}

		length := binary.BigEndian.Uint32(header[0:4])
		wantCRC := binary.BigEndian.Uint32(header[4:8])

		payload := make([]byte, length)
		n, rerr = io.ReadFull(r, payload)
		if rerr != nil || uint32(n) != length {
			return entries, offset, true, nil
		}

		if crc32.ChecksumIEEE(payload) != wantCRC {
			return entries, offset, true, nil
		}

		ev, derr := event.Unmarshal(payload)
		if derr != nil {
			return entries, offset, true, nil
		}

		entries = append(entries, event.Sequenced{Seq: seq, Event: ev})
		offset += int64(recordHeaderLen) + int64(length)
		seq++
	}

	return entries, offset, false, nil
}

// Append writes ev as the next record and returns its assigned sequence
// number. The write is fsync'd before returning so a caller may safely
// apply the event to MaterializedState and consider it durable (spec
// §4.1, §4.3 EventBus.send).
func (w *WAL) Append(ev event.Event) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	payload, err := event.Marshal(ev)
	if err != nil {
		return 0, fmt.Errorf("wal: marshaling %s: %w", ev.Kind(), err)
	}

	header := make([]byte, recordHeaderLen)
	binary.BigEndian.PutUint32(header[0:4], uint32(len(payload)))
	binary.BigEndian.PutUint32(header[4:8], crc32.ChecksumIEEE(payload))

	if _, err := w.file.Write(header); err != nil {
		return 0, fmt.Errorf("wal: writing header: %w", err)
	}
	if _, err := w.file.Write(payload); err != nil {
		return 0, fmt.Errorf("wal: writing payload: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return 0, fmt.Errorf("wal: fsync: %w", err)
	}

	seq := w.nextSeq
	w.nextSeq++
	return seq, nil
}

// Close closes the underlying file. Every Append has already fsync'd its
// record, so Close does no separate sync.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// Path returns the WAL's backing file path, for log messages and tests.
func (w *WAL) Path() string { return w.path }

// Since returns the entries in all with Seq > afterSeq, for replaying the
// tail of the log after a snapshot has already accounted for everything
// up to and including afterSeq (spec §4.1 iter(from_seq), §4.2 recovery).
func Since(all []event.Sequenced, afterSeq uint64) []event.Sequenced {
	for i, e := range all {
		if e.Seq > afterSeq {
			return all[i:]
		}
	}
	return nil
}
