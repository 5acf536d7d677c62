package record

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
)

// Records are framed like TFRecord files:
//
//	uint64 length | uint32 masked crc32c(length) | payload | uint32 masked crc32c(payload)
//
// all little endian.

// ErrCorrupt is returned when a frame is truncated or its checksum does not match.
var ErrCorrupt = errors.New("corrupt record")

const (
	headerSize  = 8 + 4
	footerSize  = 4
	maskDelta   = 0xa282ead8
	maxRecordMB = 256
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func maskedCRC(data []byte) uint32 {
	crc := crc32.Checksum(data, castagnoli)
	return ((crc >> 15) | (crc << 17)) + maskDelta
}

// Writer appends framed records to a file. It is not safe for concurrent use;
// the preprocessing pipeline funnels every sample through one goroutine.
type Writer struct {
	file    *os.File
	buf     *bufio.Writer
	written int64
	count   int
}

// Create truncates or creates the output file.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &Writer{file: f, buf: bufio.NewWriterSize(f, 1<<20)}, nil
}

// Write appends one record.
func (w *Writer) Write(payload []byte) error {
	var header [headerSize]byte
	binary.LittleEndian.PutUint64(header[:8], uint64(len(payload)))
	binary.LittleEndian.PutUint32(header[8:], maskedCRC(header[:8]))

	var footer [footerSize]byte
	binary.LittleEndian.PutUint32(footer[:], maskedCRC(payload))

	for _, chunk := range [][]byte{header[:], payload, footer[:]} {
		if _, err := w.buf.Write(chunk); err != nil {
			return err
		}
	}
	w.written += int64(headerSize + len(payload) + footerSize)
	w.count++
	return nil
}

// Count is the number of records written so far.
func (w *Writer) Count() int { return w.count }

// Bytes is the number of bytes written so far, framing included.
func (w *Writer) Bytes() int64 { return w.written }

// Close flushes buffered records and closes the file.
func (w *Writer) Close() error {
	if err := w.buf.Flush(); err != nil {
		w.file.Close()
		return err
	}
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

// Reader reads framed records sequentially.
type Reader struct {
	file *os.File
	buf  *bufio.Reader
}

func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &Reader{file: f, buf: bufio.NewReaderSize(f, 1<<20)}, nil
}

// Next returns the next payload. io.EOF means the file ended cleanly on a
// record boundary; a partial frame is ErrCorrupt.
func (r *Reader) Next() ([]byte, error) {
	var header [headerSize]byte
	n, err := io.ReadFull(r.buf, header[:])
	if err == io.EOF && n == 0 {
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("%w: short header: %v", ErrCorrupt, err)
	}

	if binary.LittleEndian.Uint32(header[8:]) != maskedCRC(header[:8]) {
		return nil, fmt.Errorf("%w: length checksum mismatch", ErrCorrupt)
	}
	length := binary.LittleEndian.Uint64(header[:8])
	if length > maxRecordMB<<20 {
		return nil, fmt.Errorf("%w: record length %d too large", ErrCorrupt, length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r.buf, payload); err != nil {
		return nil, fmt.Errorf("%w: short payload: %v", ErrCorrupt, err)
	}

	var footer [footerSize]byte
	if _, err := io.ReadFull(r.buf, footer[:]); err != nil {
		return nil, fmt.Errorf("%w: short footer: %v", ErrCorrupt, err)
	}
	if binary.LittleEndian.Uint32(footer[:]) != maskedCRC(payload) {
		return nil, fmt.Errorf("%w: payload checksum mismatch", ErrCorrupt)
	}
	return payload, nil
}

func (r *Reader) Close() error {
	return r.file.Close()
}
