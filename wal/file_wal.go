package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

const (
	// WAL file settings
	walFilePerm       = 0600
	walDirPerm        = 0700
	maxMsgSize        = 10 * 1024 * 1024 // 10MB max message size
	defaultBufSize    = 64 * 1024        // 64KB buffer
	defaultMaxSegSize = 64 * 1024 * 1024 // 64MB default segment size

	// Default pool buffer size for decoder
	defaultPoolBufSize = 4096

	segmentPattern = "wal-%05d"
)

// Byte pool to reduce GC pressure in WAL decoder.
// Buffers are reused for reading message data, then copied for the final Message.
var decoderPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, 0, defaultPoolBufSize)
		return &buf
	},
}

// FileWAL is a file-based WAL implementation
type FileWAL struct {
	mu     sync.Mutex
	dir    string
	file   *os.File
	buf    *bufio.Writer
	enc    *encoder
	logger *slog.Logger

	group        *Group
	started      bool
	segmentIndex int   // Current segment index
	segmentSize  int64 // Current segment size in bytes
	maxSegSize   int64 // Maximum segment size before rotation

	// Maps seq -> segment index where its commit was written
	commitIndex map[uint64]int
}

// NewFileWAL creates a new file-based WAL
func NewFileWAL(dir string) (*FileWAL, error) {
	return NewFileWALWithOptions(dir, defaultMaxSegSize, nil)
}

// NewFileWALWithOptions creates a new file-based WAL with custom max segment
// size and logger. A nil logger uses slog.Default().
func NewFileWALWithOptions(dir string, maxSegSize int64, logger *slog.Logger) (*FileWAL, error) {
	if err := os.MkdirAll(dir, walDirPerm); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}

	if maxSegSize <= 0 {
		maxSegSize = defaultMaxSegSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &FileWAL{
		dir:        dir,
		maxSegSize: maxSegSize,
		logger:     logger.With("component", "wal"),
		group: &Group{
			Dir:     dir,
			Prefix:  "wal",
			MaxSize: maxSegSize,
		},
	}, nil
}

// Start opens the WAL file for writing
func (w *FileWAL) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return nil
	}

	w.commitIndex = make(map[uint64]int)

	segments := findSegments(w.dir)
	if len(segments) > 0 {
		w.group.MinIndex = segments[0]
		w.segmentIndex = segments[len(segments)-1]
	} else {
		w.group.MinIndex = 0
		w.segmentIndex = 0
	}
	w.group.MaxIndex = w.segmentIndex

	// A crash mid-write leaves a torn record at the end of the newest
	// segment. Cut it off so new records stay readable.
	if err := w.repairTail(w.segmentIndex); err != nil {
		return fmt.Errorf("failed to repair WAL tail: %w", err)
	}

	if err := w.buildIndex(); err != nil {
		return fmt.Errorf("failed to build WAL index: %w", err)
	}

	if err := w.openSegment(w.segmentIndex); err != nil {
		return err
	}

	w.started = true
	return nil
}

// repairTail truncates a segment after its last complete, checksummed record.
func (w *FileWAL) repairTail(index int) error {
	path := w.segmentPath(index)
	file, err := os.OpenFile(path, os.O_RDWR, walFilePerm)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	dec := newDecoder(bufio.NewReader(file))
	for {
		_, err := dec.Decode()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			break
		}
	}

	good := dec.Offset()
	w.logger.Warn("truncating torn WAL tail",
		"segment", index, "valid_bytes", good, "dropped_bytes", info.Size()-good)
	if err := file.Truncate(good); err != nil {
		return err
	}
	return file.Sync()
}

// buildIndex scans all segments and builds the seq -> segment index
func (w *FileWAL) buildIndex() error {
	for idx := w.group.MinIndex; idx <= w.group.MaxIndex; idx++ {
		file, err := os.Open(w.segmentPath(idx))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}

		dec := newDecoder(bufio.NewReader(file))
		for {
			msg, err := dec.Decode()
			if err != nil {
				// EOF or a corrupted segment - stop indexing this segment
				break
			}
			if msg.Type == MsgTypeCommit || msg.Type == MsgTypeGenesis {
				w.commitIndex[msg.Seq] = idx
			}
		}
		file.Close()
	}
	return nil
}

// segmentPath returns the file path for a segment index
func (w *FileWAL) segmentPath(index int) string {
	return filepath.Join(w.dir, fmt.Sprintf(segmentPattern, index))
}

// openSegment opens a segment file for writing
func (w *FileWAL) openSegment(index int) error {
	path := w.segmentPath(index)
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, walFilePerm)
	if err != nil {
		return fmt.Errorf("failed to open WAL segment %d: %w", index, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat WAL segment: %w", err)
	}

	w.file = file
	w.buf = bufio.NewWriterSize(file, defaultBufSize)
	w.enc = newEncoder(w.buf)
	w.segmentSize = info.Size()

	return nil
}

// Stop closes the WAL file
func (w *FileWAL) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started {
		return nil
	}

	w.started = false

	if err := w.buf.Flush(); err != nil {
		return err
	}
	if err := w.file.Sync(); err != nil {
		return err
	}
	return w.file.Close()
}

// Write writes a message to the WAL (buffered)
func (w *FileWAL) Write(msg *Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.write(msg)
}

// WriteSync writes a message and syncs to disk
func (w *FileWAL) WriteSync(msg *Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.write(msg); err != nil {
		return err
	}
	return w.flushAndSync()
}

// write assumes the lock is held
func (w *FileWAL) write(msg *Message) error {
	if !w.started {
		return ErrWALClosed
	}

	// Check if rotation is needed before writing
	if w.segmentSize >= w.maxSegSize {
		if err := w.rotate(); err != nil {
			return fmt.Errorf("failed to rotate WAL: %w", err)
		}
	}

	n, err := w.enc.Encode(msg)
	if err != nil {
		return err
	}
	w.segmentSize += int64(n)

	if msg.Type == MsgTypeCommit || msg.Type == MsgTypeGenesis {
		w.commitIndex[msg.Seq] = w.segmentIndex
	}
	return nil
}

// rotate closes the current segment and opens a new one
func (w *FileWAL) rotate() error {
	if err := w.flushAndSync(); err != nil {
		return err
	}
	if err := w.file.Close(); err != nil {
		return err
	}

	w.segmentIndex++
	w.group.MaxIndex = w.segmentIndex

	w.logger.Debug("rotated WAL segment", "segment", w.segmentIndex)
	return w.openSegment(w.segmentIndex)
}

// FlushAndSync flushes the buffer and syncs to disk.
// Safe for concurrent use.
func (w *FileWAL) FlushAndSync() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started {
		return ErrWALClosed
	}

	return w.flushAndSync()
}

// flushAndSync is the internal version that assumes lock is held
func (w *FileWAL) flushAndSync() error {
	if err := w.buf.Flush(); err != nil {
		return err
	}
	return w.file.Sync()
}

// SearchForCommit searches for the commit of seq in the WAL. Seq 0 is
// committed by the genesis record. Uses the commit index for O(1) segment
// lookup when available.
func (w *FileWAL) SearchForCommit(seq uint64) (Reader, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started {
		return nil, false, ErrWALClosed
	}

	if err := w.buf.Flush(); err != nil {
		return nil, false, err
	}

	if segIdx, ok := w.commitIndex[seq]; ok {
		reader, found, err := w.searchSegmentForCommit(segIdx, seq)
		if err != nil {
			return nil, false, err
		}
		if found {
			return reader, true, nil
		}
		// Index was stale - fall through to full scan
	}

	reader, found, err := w.searchSegmentForCommit(w.group.MinIndex, seq)
	if err != nil || !found {
		return nil, false, err
	}
	return reader, true, nil
}

// searchSegmentForCommit scans from segmentIndex onward for the commit of
// seq. The returned reader continues through the following segments.
func (w *FileWAL) searchSegmentForCommit(segmentIndex int, seq uint64) (Reader, bool, error) {
	segments := make([]int, 0, w.group.MaxIndex-segmentIndex+1)
	for idx := segmentIndex; idx <= w.group.MaxIndex; idx++ {
		segments = append(segments, idx)
	}
	reader := &multiSegmentReader{dir: w.dir, segments: segments, current: -1}

	for {
		msg, err := reader.Read()
		if err == io.EOF {
			reader.Close()
			return nil, false, nil
		}
		if err != nil {
			reader.Close()
			if os.IsNotExist(err) {
				return nil, false, nil
			}
			return nil, false, err
		}

		if msg.Type != MsgTypeCommit && msg.Type != MsgTypeGenesis {
			continue
		}
		if msg.Seq == seq {
			return reader, true, nil
		}
		// Commits are written in order.
		if msg.Seq > seq {
			reader.Close()
			return nil, false, nil
		}
	}
}

// OpenReader returns a Reader over every retained segment, oldest first.
// Pending buffered writes are flushed first.
func (w *FileWAL) OpenReader() (Reader, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started {
		return nil, ErrWALClosed
	}
	if err := w.buf.Flush(); err != nil {
		return nil, err
	}
	return OpenWALForReading(w.dir)
}

// Group returns the WAL group
func (w *FileWAL) Group() *Group {
	return w.group
}

// Checkpoint deletes WAL segments whose records all precede seq. The
// segment holding the commit of seq itself is kept, so SearchForCommit(seq)
// keeps working. Call it only after state up to seq is safely persisted.
func (w *FileWAL) Checkpoint(seq uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started {
		return ErrWALClosed
	}

	segmentsToDelete := []int{}

	for idx := w.group.MinIndex; idx < w.group.MaxIndex; idx++ { // Never delete current segment
		canDelete, err := w.canDeleteSegment(idx, seq)
		if err != nil {
			// If we can't read the segment, keep it
			break
		}
		if !canDelete {
			break
		}
		segmentsToDelete = append(segmentsToDelete, idx)
	}

	for _, idx := range segmentsToDelete {
		if err := os.Remove(w.segmentPath(idx)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete segment %d: %w", idx, err)
		}
		for s, segIdx := range w.commitIndex {
			if segIdx == idx {
				delete(w.commitIndex, s)
			}
		}
	}

	if len(segmentsToDelete) > 0 {
		w.group.MinIndex = segmentsToDelete[len(segmentsToDelete)-1] + 1
		w.logger.Info("checkpointed WAL",
			"seq", seq, "segments_deleted", len(segmentsToDelete), "min_segment", w.group.MinIndex)
	}
	return nil
}

// canDeleteSegment checks if every record in a segment has seq < checkpoint
func (w *FileWAL) canDeleteSegment(segmentIndex int, checkpoint uint64) (bool, error) {
	file, err := os.Open(w.segmentPath(segmentIndex))
	if err != nil {
		return false, err
	}
	defer file.Close()

	dec := newDecoder(bufio.NewReader(file))
	for {
		msg, err := dec.Decode()
		if err == io.EOF {
			return true, nil
		}
		if err != nil {
			return false, err
		}
		if msg.Seq >= checkpoint {
			return false, nil
		}
	}
}

// SegmentCount returns the number of segments
func (w *FileWAL) SegmentCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.group.MaxIndex - w.group.MinIndex + 1
}

// CurrentSegmentSize returns the approximate size of the current segment
func (w *FileWAL) CurrentSegmentSize() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.segmentSize
}

// Ensure FileWAL implements WAL
var _ WAL = (*FileWAL)(nil)

// encoder encodes messages to the WAL
type encoder struct {
	w   io.Writer
	buf []byte
}

func newEncoder(w io.Writer) *encoder {
	return &encoder{
		w:   w,
		buf: make([]byte, 8),
	}
}

// Encode writes a message to the WAL and returns the number of bytes written.
// Layout: [4 bytes length][CBOR message][4 bytes CRC32], big endian.
func (e *encoder) Encode(msg *Message) (int, error) {
	data, err := msg.Marshal()
	if err != nil {
		return 0, err
	}
	if len(data) > maxMsgSize {
		return 0, fmt.Errorf("WAL message of %d bytes exceeds limit %d", len(data), maxMsgSize)
	}

	checksum := crc32.ChecksumIEEE(data)

	binary.BigEndian.PutUint32(e.buf[:4], uint32(len(data)))
	if _, err := e.w.Write(e.buf[:4]); err != nil {
		return 0, err
	}

	if _, err := e.w.Write(data); err != nil {
		return 0, err
	}

	binary.BigEndian.PutUint32(e.buf[:4], checksum)
	if _, err := e.w.Write(e.buf[:4]); err != nil {
		return 0, err
	}

	return 4 + len(data) + 4, nil
}

// decoder decodes messages from the WAL
type decoder struct {
	r      io.Reader
	buf    []byte
	offset int64 // bytes consumed by fully decoded records
}

func newDecoder(r io.Reader) *decoder {
	return &decoder{
		r:   r,
		buf: make([]byte, 4),
	}
}

// Offset returns the end of the last record decoded successfully.
func (d *decoder) Offset() int64 {
	return d.offset
}

func (d *decoder) Decode() (*Message, error) {
	if _, err := io.ReadFull(d.r, d.buf[:4]); err != nil {
		// A partial length prefix is a torn write, not a clean end.
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: truncated length prefix", ErrWALCorrupted)
		}
		return nil, err
	}

	length := binary.BigEndian.Uint32(d.buf[:4])
	if length > maxMsgSize {
		return nil, ErrWALCorrupted
	}

	poolBufPtr := decoderPool.Get().(*[]byte)
	poolBuf := *poolBufPtr
	release := func() {
		*poolBufPtr = poolBuf[:0]
		decoderPool.Put(poolBufPtr)
	}

	if cap(poolBuf) < int(length) {
		poolBuf = make([]byte, length)
	} else {
		poolBuf = poolBuf[:length]
	}

	if _, err := io.ReadFull(d.r, poolBuf); err != nil {
		release()
		return nil, fmt.Errorf("%w: truncated record: %v", ErrWALCorrupted, err)
	}

	if _, err := io.ReadFull(d.r, d.buf[:4]); err != nil {
		release()
		return nil, fmt.Errorf("%w: truncated checksum: %v", ErrWALCorrupted, err)
	}
	expectedCRC := binary.BigEndian.Uint32(d.buf[:4])
	actualCRC := crc32.ChecksumIEEE(poolBuf)
	if expectedCRC != actualCRC {
		release()
		return nil, fmt.Errorf("%w: CRC mismatch (expected %08x, got %08x)", ErrWALCorrupted, expectedCRC, actualCRC)
	}

	// Make a copy for the message (message takes ownership)
	data := make([]byte, length)
	copy(data, poolBuf)
	release()

	msg := &Message{}
	if err := msg.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWALCorrupted, err)
	}

	d.offset += 4 + int64(length) + 4
	return msg, nil
}

// fileReader reads messages from a WAL file
type fileReader struct {
	file *os.File
	dec  *decoder
}

func (r *fileReader) Read() (*Message, error) {
	return r.dec.Decode()
}

func (r *fileReader) Close() error {
	return r.file.Close()
}

var _ Reader = (*fileReader)(nil)

// OpenWALForReading opens a WAL directory for reading from the oldest
// retained segment.
func OpenWALForReading(dir string) (Reader, error) {
	segments := findSegments(dir)
	if len(segments) == 0 {
		return nil, ErrWALNotFound
	}

	return &multiSegmentReader{
		dir:      dir,
		segments: segments,
		current:  -1, // Will be incremented to 0 on first read
	}, nil
}

// findSegments finds all WAL segment files in a directory and returns their indices
func findSegments(dir string) []int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var segments []int
	for _, entry := range entries {
		var idx int
		if n, _ := fmt.Sscanf(entry.Name(), segmentPattern, &idx); n == 1 {
			segments = append(segments, idx)
		}
	}

	sort.Ints(segments)
	return segments
}

// multiSegmentReader reads through multiple WAL segments
type multiSegmentReader struct {
	dir      string
	segments []int
	current  int
	reader   *fileReader
}

func (r *multiSegmentReader) Read() (*Message, error) {
	for {
		if r.reader == nil {
			r.current++
			if r.current >= len(r.segments) {
				return nil, io.EOF
			}

			path := filepath.Join(r.dir, fmt.Sprintf(segmentPattern, r.segments[r.current]))
			file, err := os.Open(path)
			if err != nil {
				return nil, err
			}
			r.reader = &fileReader{
				file: file,
				dec:  newDecoder(bufio.NewReader(file)),
			}
		}

		msg, err := r.reader.Read()
		if err == io.EOF {
			// End of this segment, move to next
			r.reader.Close()
			r.reader = nil
			continue
		}
		if err != nil {
			return nil, err
		}
		return msg, nil
	}
}

func (r *multiSegmentReader) Close() error {
	if r.reader != nil {
		err := r.reader.Close()
		r.reader = nil
		return err
	}
	return nil
}

var _ Reader = (*multiSegmentReader)(nil)
