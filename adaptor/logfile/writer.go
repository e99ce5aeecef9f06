// Package logfile keeps the engine's structured log bounded on disk. A Sink
// is an io.WriteCloser handed to slog: once the live file would pass its
// size limit the sink rotates it aside, keeping a fixed number of older
// generations. Limits normally come from config.Engine.LogMaxBytes and
// LogMaxFiles, so one run-options file governs both the transaction engine
// and its logging footprint.
package logfile

import (
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/dominium/dsu/logic/dsuerr"
)

// Sink is a goroutine-safe rotating log writer. The live file keeps the
// configured name; older generations are shifted to name.1 (newest) through
// name.keep (oldest), and whatever would become generation keep+1 is
// dropped.
type Sink struct {
	path  string
	limit int64
	keep  int

	mu   sync.Mutex
	f    *os.File
	size int64
}

// NewSink creates a rotating sink for dir/name. The file is opened lazily on
// the first Write, so constructing a Sink never touches the disk.
//
//	w := logfile.NewSink(logDir, "dominium-setup.log", cfg.LogMaxBytes, cfg.LogMaxFiles)
//	logger := slog.New(slog.NewTextHandler(w, nil))
func NewSink(dir, name string, limit int64, keep int) *Sink {
	return &Sink{path: filepath.Join(dir, name), limit: limit, keep: keep}
}

// generation returns the on-disk path of rotated generation n (n >= 1).
func (s *Sink) generation(n int) string {
	return s.path + "." + strconv.Itoa(n)
}

// Write appends p to the live file, rotating first when the write would pass
// the size limit. The first Write creates the log directory and opens the
// file in append mode, adopting an existing file's size so rotation carries
// across process restarts. A single write larger than the whole limit is
// appended to a fresh file rather than rejected; the next write rotates it
// away.
func (s *Sink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		if err := s.open(); err != nil {
			return 0, err
		}
	}
	if s.size > 0 && s.size+int64(len(p)) > s.limit {
		if err := s.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := s.f.Write(p)
	s.size += int64(n)
	if err != nil {
		return n, dsuerr.New(dsuerr.KindIO, "logfile.Write", err)
	}
	return n, nil
}

func (s *Sink) open() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return dsuerr.New(dsuerr.KindIO, "logfile.open", err)
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return dsuerr.New(dsuerr.KindIO, "logfile.open", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return dsuerr.New(dsuerr.KindIO, "logfile.open", err)
	}
	s.f = f
	s.size = info.Size()
	return nil
}

// rotate closes the live file and shifts every generation up by one. Rename
// failures on individual generations are ignored: a hole in the chain (an
// operator deleted a rotated log by hand) must not stop the engine from
// logging. Caller holds s.mu.
func (s *Sink) rotate() error {
	_ = s.f.Close()
	s.f = nil

	_ = os.Remove(s.generation(s.keep))
	for n := s.keep - 1; n >= 1; n-- {
		_ = os.Rename(s.generation(n), s.generation(n+1))
	}
	_ = os.Rename(s.path, s.generation(1))

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return dsuerr.New(dsuerr.KindIO, "logfile.rotate", err)
	}
	s.f = f
	s.size = 0
	return nil
}

// Close closes the live file. A later Write reopens it, so Close at the end
// of one engine operation does not prevent the next from logging.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	if err != nil {
		return dsuerr.New(dsuerr.KindIO, "logfile.Close", err)
	}
	return nil
}
