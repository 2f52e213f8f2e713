// Package source opens scan event streams for the queue controller.
package source

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/efebarandurmaz/giftmap/internal/event"
	"github.com/efebarandurmaz/giftmap/internal/scanqueue"
)

const maxLineSize = 4 << 20

// JSONLSource replays recorded scans from <Dir>/<target>.jsonl files.
type JSONLSource struct {
	Dir string
}

// NewJSONL returns a source reading recordings from dir.
func NewJSONL(dir string) *JSONLSource {
	return &JSONLSource{Dir: dir}
}

func (s *JSONLSource) Open(ctx context.Context, target string) (scanqueue.Stream, error) {
	name := strings.TrimSpace(target)
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return nil, fmt.Errorf("invalid target %q", target)
	}
	f, err := os.Open(filepath.Join(s.Dir, name+".jsonl"))
	if err != nil {
		return nil, fmt.Errorf("open recording: %w", err)
	}
	return NewReaderStream(f), nil
}

// ReaderStream decodes one event per line. Blank lines are skipped and the
// end of input ends the stream.
type ReaderStream struct {
	rc      io.ReadCloser
	scanner *bufio.Scanner
	line    int
}

// NewReaderStream wraps rc; Close closes rc.
func NewReaderStream(rc io.ReadCloser) *ReaderStream {
	sc := bufio.NewScanner(rc)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &ReaderStream{rc: rc, scanner: sc}
}

func (r *ReaderStream) Next(ctx context.Context) (event.Event, error) {
	for r.scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r.line++
		line := bytes.TrimSpace(r.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		ev, err := event.Decode(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", r.line, err)
		}
		return ev, nil
	}
	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (r *ReaderStream) Close() error {
	return r.rc.Close()
}

var _ scanqueue.Source = (*JSONLSource)(nil)
