package eventstore

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// walWriter appends framed records to rotating segment files. Callers hold
// the store lock, so the writer itself is single-threaded.
type walWriter struct {
	cfg         Config
	seg         *segmentFile
	segID       uint64
	headerBuf   []byte
	checksumBuf [recordChecksumSize]byte
}

type segmentFile struct {
	file     *os.File
	buf      *bufio.Writer
	size     int64
	openedAt time.Time
}

func newWALWriter(cfg Config) (*walWriter, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}
	return &walWriter{
		cfg:       cfg,
		headerBuf: make([]byte, recordHeaderSize),
	}, nil
}

func (w *walWriter) append(meta recordMeta, payload []byte) error {
	if uint64(len(payload)) > maxRecordPayload {
		return ErrPayloadTooLarge
	}

	now := time.Now().UTC()
	recordSize := int64(recordHeaderSize + len(payload) + recordChecksumSize)
	if w.shouldRotate(now, recordSize) {
		if err := w.closeSegment(); err != nil {
			return err
		}
		if err := w.openSegment(now); err != nil {
			return err
		}
	}

	encodeRecordHeader(w.headerBuf, meta, len(payload))
	sum := checksum(w.headerBuf, payload)
	binary.LittleEndian.PutUint32(w.checksumBuf[:], sum)

	if _, err := w.seg.buf.Write(w.headerBuf); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := w.seg.buf.Write(payload); err != nil {
			return err
		}
	}
	if _, err := w.seg.buf.Write(w.checksumBuf[:]); err != nil {
		return err
	}
	w.seg.size += recordSize

	if err := w.seg.buf.Flush(); err != nil {
		return err
	}
	if w.cfg.SyncEveryAppend {
		return w.seg.file.Sync()
	}
	return nil
}

func (w *walWriter) shouldRotate(now time.Time, nextSize int64) bool {
	if w.seg == nil {
		return true
	}
	if w.cfg.SegmentMaxBytes > 0 && w.seg.size+nextSize > w.cfg.SegmentMaxBytes {
		return true
	}
	if w.cfg.SegmentMaxDuration > 0 && now.Sub(w.seg.openedAt) >= w.cfg.SegmentMaxDuration {
		return true
	}
	return false
}

func (w *walWriter) openSegment(now time.Time) error {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	ts := now.Format("20060102-150405")
	for {
		w.segID++
		name := fmt.Sprintf("%s-%s-%06d.evlog", w.cfg.FilePrefix, ts, w.segID)
		path := filepath.Join(w.cfg.Dir, name)
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
		if err != nil {
			if errors.Is(err, os.ErrExist) {
				continue
			}
			return err
		}
		w.seg = &segmentFile{
			file:     file,
			buf:      bufio.NewWriterSize(file, w.cfg.BufferSize),
			openedAt: now,
		}
		return nil
	}
}

func (w *walWriter) closeSegment() error {
	if w.seg == nil {
		return nil
	}
	seg := w.seg
	w.seg = nil
	if err := seg.buf.Flush(); err != nil {
		_ = seg.file.Close()
		return err
	}
	if err := seg.file.Sync(); err != nil {
		_ = seg.file.Close()
		return err
	}
	return seg.file.Close()
}

// walReader decodes records from one segment sequentially.
type walReader struct {
	r         *bufio.Reader
	cfg       Config
	headerBuf []byte
	payload   []byte
}

func newWALReader(r io.Reader, cfg Config) *walReader {
	return &walReader{
		r:         bufio.NewReader(r),
		cfg:       cfg,
		headerBuf: make([]byte, recordHeaderSize),
	}
}

// next returns the next record meta and payload.
// The payload is only valid until the next call.
func (r *walReader) next() (recordMeta, []byte, error) {
	var meta recordMeta

	n, err := io.ReadFull(r.r, r.headerBuf)
	if err != nil {
		if err == io.EOF && n == 0 {
			return meta, nil, io.EOF
		}
		return meta, nil, err
	}

	meta, payloadLen, err := decodeRecordHeader(r.headerBuf)
	if err != nil {
		return meta, nil, err
	}
	if r.cfg.MaxPayloadSize > 0 && payloadLen > uint32(r.cfg.MaxPayloadSize) {
		return meta, nil, ErrPayloadTooLarge
	}

	if payloadLen > 0 {
		if cap(r.payload) < int(payloadLen) {
			r.payload = make([]byte, payloadLen)
		}
		r.payload = r.payload[:payloadLen]
		if _, err := io.ReadFull(r.r, r.payload); err != nil {
			return meta, nil, err
		}
	} else {
		r.payload = r.payload[:0]
	}

	var checksumBuf [recordChecksumSize]byte
	if _, err := io.ReadFull(r.r, checksumBuf[:]); err != nil {
		return meta, nil, err
	}

	if !r.cfg.DisableChecksum {
		expected := binary.LittleEndian.Uint32(checksumBuf[:])
		if sum := checksum(r.headerBuf, r.payload); sum != expected {
			return meta, nil, ErrChecksumMismatch
		}
	}

	return meta, r.payload, nil
}

// collectSegments lists segment files in append order.
func collectSegments(cfg Config) ([]string, error) {
	entries, err := os.ReadDir(cfg.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	prefix := cfg.FilePrefix + "-"
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".evlog") {
			continue
		}
		files = append(files, filepath.Join(cfg.Dir, name))
	}
	sort.Strings(files)
	return files, nil
}
