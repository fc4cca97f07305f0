package stores

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"time"
)

const recordVersion1 = 1

// recordWriter appends big-endian fields and remembers the first error.
type recordWriter struct {
	buf bytes.Buffer
	err error
}

func newRecordWriter() *recordWriter {
	w := &recordWriter{}
	w.buf.WriteByte(recordVersion1)
	return w
}

func (w *recordWriter) u8(v uint8) {
	if w.err == nil {
		w.err = w.buf.WriteByte(v)
	}
}

func (w *recordWriter) u16(v uint16) {
	if w.err == nil {
		w.err = binary.Write(&w.buf, binary.BigEndian, v)
	}
}

func (w *recordWriter) time(t time.Time) {
	if w.err == nil {
		w.err = binary.Write(&w.buf, binary.BigEndian, t.UnixMilli())
	}
}

func (w *recordWriter) str(s string) {
	if len(s) > 65535 {
		w.err = errors.New("record field too long")
	}
	w.u16(uint16(len(s)))
	if w.err == nil {
		w.buf.WriteString(s)
	}
}

func (w *recordWriter) digest(d [32]byte) {
	if w.err == nil {
		w.buf.Write(d[:])
	}
}

func (w *recordWriter) bytes() ([]byte, error) {
	return w.buf.Bytes(), w.err
}

type recordReader struct {
	r   *bytes.Reader
	err error
}

func newRecordReader(data []byte) *recordReader {
	rd := &recordReader{r: bytes.NewReader(data)}
	version, err := rd.r.ReadByte()
	if err != nil || version != recordVersion1 {
		rd.err = errCorrupt
	}
	return rd
}

func (rd *recordReader) u8() uint8 {
	if rd.err != nil {
		return 0
	}
	v, err := rd.r.ReadByte()
	rd.err = err
	return v
}

func (rd *recordReader) u16() uint16 {
	var v uint16
	if rd.err == nil {
		rd.err = binary.Read(rd.r, binary.BigEndian, &v)
	}
	return v
}

func (rd *recordReader) time() time.Time {
	var ms int64
	if rd.err == nil {
		rd.err = binary.Read(rd.r, binary.BigEndian, &ms)
	}
	return time.UnixMilli(ms).UTC()
}

func (rd *recordReader) str() string {
	n := rd.u16()
	if rd.err != nil {
		return ""
	}
	b := make([]byte, n)
	_, rd.err = io.ReadFull(rd.r, b)
	return string(b)
}

func (rd *recordReader) digest() [32]byte {
	var d [32]byte
	if rd.err == nil {
		_, rd.err = io.ReadFull(rd.r, d[:])
	}
	return d
}

func (rd *recordReader) done() error {
	if rd.err != nil {
		return errCorrupt
	}
	return nil
}

// retention is how long the backend keeps a record: its remaining lifetime
// plus grace, never less than one second.
func retention(expiresAt, now time.Time, grace time.Duration) time.Duration {
	ttl := expiresAt.Sub(now) + grace
	if ttl < time.Second {
		return time.Second
	}
	return ttl
}
