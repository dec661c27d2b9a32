package docker

import (
	"strings"
	"sync"

	"github.com/splax/previewd/internal/provider"
)

// logTail accumulates build output, keeping roughly the last max bytes.
type logTail struct {
	mu  sync.Mutex
	max int
	buf strings.Builder
}

func newLogTail(max int) *logTail {
	return &logTail{max: max}
}

func (l *logTail) append(line string) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf.WriteString(line)
	l.buf.WriteByte('\n')
	if l.buf.Len() > 2*l.max {
		kept := l.buf.String()[l.buf.Len()-l.max:]
		l.buf.Reset()
		l.buf.WriteString(kept)
	}
}

func (l *logTail) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return provider.TailLogs(l.buf.String(), l.max)
}
