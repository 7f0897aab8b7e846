// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package eventbus

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileSink appends one line per event to a log file under a directory,
// grounded directly on the teacher's own AppendIndexLog: best-effort,
// mutex-serialized, ISO8601-prefixed, create-if-absent.
type FileSink struct {
	mu      sync.Mutex
	dir     string
	logName string
}

// NewFileSink creates a FileSink writing to <dir>/<logName>. dir is
// created lazily on first write, matching AppendIndexLog's own
// os.MkdirAll-on-demand behavior.
func NewFileSink(dir, logName string) *FileSink {
	return &FileSink{dir: dir, logName: logName}
}

// Handle implements Sink. Failures to write are swallowed — an event log
// is diagnostic, not load-bearing, matching the teacher's own policy of
// never letting logging failures affect the operation being logged.
func (s *FileSink) Handle(e Event) {
	if s.dir == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return
	}
	f, err := os.OpenFile(filepath.Join(s.dir, s.logName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return
	}
	defer f.Close()

	line := fmt.Sprintf("%s %s %s %s\n", e.Timestamp.Format("2006-01-02T15:04:05Z07:00"), kindLabel(e.Kind), e.Target, e.Message)
	_, _ = f.WriteString(line)
}

func kindLabel(k Kind) string {
	switch k {
	case StepStarted:
		return "step-started"
	case StepDone:
		return "step-done"
	case CacheResult:
		return "cache-result"
	case BuildFailed:
		return "build-failed"
	default:
		return "unknown"
	}
}
