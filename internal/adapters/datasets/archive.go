package datasets

import (
	"bytes"
	"encoding/csv"
	"time"

	"github.com/klauspost/compress/zip"
)

// csvSink writes dataset rows as CSV into one archive member.
type csvSink struct {
	w *csv.Writer
}

func (s *csvSink) Header(columns []string) error { return s.w.Write(columns) }

func (s *csvSink) Row(values []string) error { return s.w.Write(values) }

// archive accumulates one CSV member per dataset.
type archive struct {
	buf bytes.Buffer
	zw  *zip.Writer
	now time.Time
}

func newArchive(now time.Time) *archive {
	a := &archive{now: now}
	a.zw = zip.NewWriter(&a.buf)
	return a
}

// member opens name.csv and returns its sink together with a flush func
// that must be called before the next member is opened.
func (a *archive) member(name string) (*csvSink, func() error, error) {
	w, err := a.zw.CreateHeader(&zip.FileHeader{Name: name + ".csv", Method: zip.Deflate, Modified: a.now})
	if err != nil {
		return nil, nil, err
	}
	cw := csv.NewWriter(w)
	flush := func() error {
		cw.Flush()
		return cw.Error()
	}
	return &csvSink{w: cw}, flush, nil
}

func (a *archive) bytes() ([]byte, error) {
	if err := a.zw.Close(); err != nil {
		return nil, err
	}
	return a.buf.Bytes(), nil
}
