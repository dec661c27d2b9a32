package provider

import "strings"

// MaxLogBytes is the tail size kept from build logs.
const MaxLogBytes = 4096

// TailLogs keeps the last max bytes of logs, cutting at a line boundary when possible.
func TailLogs(logs string, max int) string {
	logs = strings.TrimSpace(logs)
	if max <= 0 || len(logs) <= max {
		return logs
	}
	tail := logs[len(logs)-max:]
	if i := strings.IndexByte(tail, '\n'); i >= 0 && i < len(tail)-1 {
		tail = tail[i+1:]
	}
	return "...\n" + tail
}
