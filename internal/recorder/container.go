package recorder

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
)

// Segment container layout, all integers big-endian:
//
//	header:  magic "NVR1" | version u16 | camera uuid [16]byte | startUnixNano i64
//	frame:   length u32 | timestampUnixNano i64 | jpeg bytes
//	trailer: sentinel 0xFFFFFFFF | endUnixNano i64 | frameCount u64 | byteCount u64 | crc32 u32
//
// The CRC covers every byte before it. A file without a trailer is a
// crash artifact; its frames up to the first short read are still
// recoverable.

var containerMagic = [4]byte{'N', 'V', 'R', '1'}

const (
	containerVersion = 1
	frameSentinel    = 0xFFFFFFFF
	maxFrameSize     = 32 * 1024 * 1024
)

var (
	ErrBadMagic     = errors.New("not a recording segment")
	ErrNoTrailer    = errors.New("segment has no trailer")
	ErrChecksum     = errors.New("segment checksum mismatch")
	ErrWriterClosed = errors.New("segment writer closed")
)

// SegmentWriter streams frames into a single recording file.
type SegmentWriter struct {
	f      *os.File
	buf    *bufio.Writer
	crc    hash.Hash32
	w      io.Writer // buf tee'd into crc
	frames uint64
	bytes  uint64
	closed bool
}

// NewSegmentWriter creates the file and writes the header. bytes and
// Frames start counting from the header.
func NewSegmentWriter(path string, cameraID uuid.UUID, start time.Time) (*SegmentWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create segment: %w", err)
	}

	sw := &SegmentWriter{
		f:   f,
		buf: bufio.NewWriterSize(f, 256*1024),
		crc: crc32.NewIEEE(),
	}
	sw.w = io.MultiWriter(sw.buf, sw.crc)

	if _, err := sw.w.Write(containerMagic[:]); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("write header: %w", err)
	}
	hdr := make([]byte, 2+16+8)
	binary.BigEndian.PutUint16(hdr[0:2], containerVersion)
	copy(hdr[2:18], cameraID[:])
	binary.BigEndian.PutUint64(hdr[18:26], uint64(start.UnixNano()))
	if _, err := sw.w.Write(hdr); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("write header: %w", err)
	}
	sw.bytes = uint64(4 + len(hdr))
	return sw, nil
}

// AppendFrame writes one frame record. Errors are I/O failures; the
// caller should fail the session.
func (sw *SegmentWriter) AppendFrame(ts time.Time, data []byte) error {
	if sw.closed {
		return ErrWriterClosed
	}
	if len(data) > maxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds limit", len(data))
	}

	var rec [12]byte
	binary.BigEndian.PutUint32(rec[0:4], uint32(len(data)))
	binary.BigEndian.PutUint64(rec[4:12], uint64(ts.UnixNano()))
	if _, err := sw.w.Write(rec[:]); err != nil {
		return fmt.Errorf("write frame record: %w", err)
	}
	if _, err := sw.w.Write(data); err != nil {
		return fmt.Errorf("write frame data: %w", err)
	}

	sw.frames++
	sw.bytes += uint64(len(rec) + len(data))
	return nil
}

// Frames returns the number of frames appended so far.
func (sw *SegmentWriter) Frames() uint64 { return sw.frames }

// Bytes returns the byte count written so far, trailer excluded.
func (sw *SegmentWriter) Bytes() uint64 { return sw.bytes }

// Close writes the trailer and syncs the file. After Close the segment
// is complete and verifiable.
func (sw *SegmentWriter) Close(end time.Time) error {
	if sw.closed {
		return ErrWriterClosed
	}
	sw.closed = true

	trailer := make([]byte, 4+8+8+8)
	binary.BigEndian.PutUint32(trailer[0:4], frameSentinel)
	binary.BigEndian.PutUint64(trailer[4:12], uint64(end.UnixNano()))
	binary.BigEndian.PutUint64(trailer[12:20], sw.frames)
	binary.BigEndian.PutUint64(trailer[20:28], sw.bytes)
	if _, err := sw.w.Write(trailer); err != nil {
		sw.f.Close()
		return fmt.Errorf("write trailer: %w", err)
	}

	var crcBuf [4]byte
	binary.BigEndian.PutUint32(crcBuf[:], sw.crc.Sum32())
	if _, err := sw.buf.Write(crcBuf[:]); err != nil {
		sw.f.Close()
		return fmt.Errorf("write checksum: %w", err)
	}

	if err := sw.buf.Flush(); err != nil {
		sw.f.Close()
		return fmt.Errorf("flush segment: %w", err)
	}
	if err := sw.f.Sync(); err != nil {
		sw.f.Close()
		return fmt.Errorf("sync segment: %w", err)
	}
	return sw.f.Close()
}

// Abort closes the file without a trailer, leaving a crash-style
// segment. Used when a session fails mid-write.
func (sw *SegmentWriter) Abort() error {
	if sw.closed {
		return nil
	}
	sw.closed = true
	sw.buf.Flush()
	return sw.f.Close()
}

// SegmentInfo summarizes a verified segment.
type SegmentInfo struct {
	CameraID   uuid.UUID
	StartTime  time.Time
	EndTime    time.Time
	FrameCount uint64
	ByteCount  uint64
	Complete   bool // trailer present and checksum valid
}

// FrameFunc receives each frame during a scan. Returning an error stops
// the scan.
type FrameFunc func(ts time.Time, data []byte) error

// ReadSegment scans a segment file, calling fn (may be nil) for each
// frame, and returns the segment summary. A missing or corrupt trailer
// yields Complete=false with the frames recovered so far and no error,
// unless the header itself is unreadable.
func ReadSegment(path string, fn FrameFunc) (*SegmentInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// Hash exactly the bytes consumed; buffered read-ahead would pull
	// the CRC field itself into the hash.
	crc := crc32.NewIEEE()
	r := &crcReader{r: f, h: crc}

	hdr := make([]byte, 4+2+16+8)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if [4]byte(hdr[0:4]) != containerMagic {
		return nil, ErrBadMagic
	}
	if v := binary.BigEndian.Uint16(hdr[4:6]); v != containerVersion {
		return nil, fmt.Errorf("unsupported segment version %d", v)
	}

	info := &SegmentInfo{
		StartTime: time.Unix(0, int64(binary.BigEndian.Uint64(hdr[22:30]))),
	}
	copy(info.CameraID[:], hdr[6:22])

	var frames, lastTS uint64
	for {
		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			// Truncated before sentinel: crash artifact.
			info.FrameCount = frames
			info.EndTime = time.Unix(0, int64(lastTS))
			return info, nil
		}
		recLen := binary.BigEndian.Uint32(lenBuf[:])
		if recLen == frameSentinel {
			break
		}
		if recLen > maxFrameSize {
			info.FrameCount = frames
			info.EndTime = time.Unix(0, int64(lastTS))
			return info, nil
		}

		var tsBuf [8]byte
		if _, err := io.ReadFull(r, tsBuf[:]); err != nil {
			info.FrameCount = frames
			info.EndTime = time.Unix(0, int64(lastTS))
			return info, nil
		}
		lastTS = binary.BigEndian.Uint64(tsBuf[:])

		data := make([]byte, recLen)
		if _, err := io.ReadFull(r, data); err != nil {
			info.FrameCount = frames
			info.EndTime = time.Unix(0, int64(lastTS))
			return info, nil
		}
		frames++

		if fn != nil {
			if err := fn(time.Unix(0, int64(lastTS)), data); err != nil {
				return info, err
			}
		}
	}

	trailer := make([]byte, 8+8+8)
	if _, err := io.ReadFull(r, trailer); err != nil {
		info.FrameCount = frames
		return info, nil
	}
	wantCRC := crc.Sum32() // covers everything read so far, CRC field excluded

	var crcBuf [4]byte
	if _, err := io.ReadFull(r, crcBuf[:]); err != nil {
		info.FrameCount = frames
		return info, nil
	}

	info.EndTime = time.Unix(0, int64(binary.BigEndian.Uint64(trailer[0:8])))
	info.FrameCount = binary.BigEndian.Uint64(trailer[8:16])
	info.ByteCount = binary.BigEndian.Uint64(trailer[16:24])

	if binary.BigEndian.Uint32(crcBuf[:]) != wantCRC {
		return info, ErrChecksum
	}
	if info.FrameCount != frames {
		return info, fmt.Errorf("trailer claims %d frames, found %d", info.FrameCount, frames)
	}
	info.Complete = true
	return info, nil
}

type crcReader struct {
	r io.Reader
	h hash.Hash32
}

func (c *crcReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.h.Write(p[:n])
	}
	return n, err
}
