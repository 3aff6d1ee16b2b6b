package capture

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/satindergrewal/voxrec/internal/audio"
)

// SegmentName is the file name of a segment opened at the given instant:
// <participantId>-<openEpochMillis>.pcm, with the id shortened if the whole
// name would not fit.
func SegmentName(participantID string, opened time.Time) string {
	return audio.FitName(audio.SanitizeName(participantID), fmt.Sprintf("-%d%s", opened.UnixMilli(), audio.RawExt))
}

// SegmentWriter persists one continuous speech burst as raw PCM. The file
// is created on the first Write, so a burst that yields no audio leaves
// nothing on disk. A SegmentWriter is owned by a single goroutine.
type SegmentWriter struct {
	path    string
	f       *os.File
	buf     *bufio.Writer
	written int64
	closed  bool
}

func NewSegmentWriter(dir, participantID string, opened time.Time) *SegmentWriter {
	return &SegmentWriter{path: filepath.Join(dir, SegmentName(participantID, opened))}
}

func (w *SegmentWriter) Path() string { return w.path }

// Size is the number of PCM bytes written so far.
func (w *SegmentWriter) Size() int64 { return w.written }

func (w *SegmentWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, os.ErrClosed
	}
	if w.f == nil {
		if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
			return 0, fmt.Errorf("create segment dir: %w", err)
		}
		f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return 0, fmt.Errorf("create segment: %w", err)
		}
		w.f = f
		w.buf = bufio.NewWriterSize(f, 64*1024)
	}
	n, err := w.buf.Write(p)
	w.written += int64(n)
	return n, err
}

// Close flushes and closes the file. It is safe to call more than once.
func (w *SegmentWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if w.f == nil {
		return nil
	}
	flushErr := w.buf.Flush()
	closeErr := w.f.Close()
	if flushErr != nil {
		return fmt.Errorf("flush segment %s: %w", filepath.Base(w.path), flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close segment %s: %w", filepath.Base(w.path), closeErr)
	}
	return nil
}
