package logfile

import (
	"log/slog"
	"testing"
)

// BenchmarkSlogThroughSink measures the cost of one structured engine log
// line through the rotating sink: handler formatting, the size check, and
// the occasional rotation.
func BenchmarkSlogThroughSink(b *testing.B) {
	s := NewSink(b.TempDir(), "dominium-setup.log", 1<<20, 3)
	defer func() { _ = s.Close() }()
	logger := slog.New(slog.NewTextHandler(s, nil))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		logger.Info("entry applied", "journal_id", uint64(i), "target", "bin/core.bin")
	}
}
