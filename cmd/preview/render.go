package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	apiclient "github.com/splax/previewd/pkg/api/client"
)

// progress prints session events. On a terminal, poll ticks rewrite the
// current line instead of scrolling.
type progress struct {
	out     io.Writer
	tty     bool
	pending bool
}

func newProgress(out io.Writer) *progress {
	tty := false
	if f, ok := out.(*os.File); ok {
		tty = term.IsTerminal(int(f.Fd()))
	}
	return &progress{out: out, tty: tty}
}

func (p *progress) Event(e apiclient.Event) {
	line := describeEvent(e)
	if line == "" {
		return
	}
	if p.tty && e.Type == "progress" {
		fmt.Fprintf(p.out, "\r\033[2K%s", line)
		p.pending = true
		return
	}
	p.flush()
	fmt.Fprintln(p.out, line)
}

func (p *progress) flush() {
	if p.pending {
		fmt.Fprintln(p.out)
		p.pending = false
	}
}

func describeEvent(e apiclient.Event) string {
	switch e.Type {
	case "phase":
		switch {
		case e.Message != "" && e.DeploymentID != "":
			return fmt.Sprintf("[%s] %s (deployment %s)", e.Phase, e.Message, e.DeploymentID)
		case e.Message != "":
			return fmt.Sprintf("[%s] %s", e.Phase, e.Message)
		}
		return fmt.Sprintf("[%s]", e.Phase)
	case "progress":
		if e.PollMax > 0 {
			return fmt.Sprintf("[%s] waiting for build (%d/%d) %s", e.Phase, e.PollAttempt, e.PollMax, e.Message)
		}
		return fmt.Sprintf("[%s] waiting for build %s", e.Phase, e.Message)
	case "fix":
		if e.Fix == nil {
			return fmt.Sprintf("[%s] repair applied", e.Phase)
		}
		return fmt.Sprintf("[%s] repair #%d changed %s (+%d -%d)", e.Phase, e.Fix.AttemptNumber,
			strings.Join(e.Fix.ChangedFilePaths, ", "), e.Fix.Additions, e.Fix.Deletions)
	case "complete", "error":
		return ""
	default:
		if e.Message != "" {
			return fmt.Sprintf("[%s] %s", e.Phase, e.Message)
		}
		return ""
	}
}

func printResult(out io.Writer, r apiclient.Result, showLogs bool) {
	if r.Success {
		fmt.Fprintf(out, "preview ready: %s\n", r.PreviewURL)
	} else {
		fmt.Fprintf(out, "verification failed (%s): %s\n", r.ErrorKind, r.Error)
	}
	fmt.Fprintf(out, "  session:    %s\n", r.SessionID)
	if r.DeploymentID != "" {
		fmt.Fprintf(out, "  deployment: %s\n", r.DeploymentID)
	}
	if r.BuildTimeMs > 0 {
		fmt.Fprintf(out, "  build time: %s\n", (time.Duration(r.BuildTimeMs) * time.Millisecond).Round(100*time.Millisecond))
	}
	fmt.Fprintf(out, "  auto-fixes: %d\n", r.AutoFixAttempts)
	for _, fix := range r.Fixes {
		fmt.Fprintf(out, "    #%d %s: %s\n", fix.AttemptNumber, strings.Join(fix.ChangedFilePaths, ", "), firstLine(fix.Explanation))
	}
	if len(r.Deployments) > 1 {
		fmt.Fprintln(out, "  deployments:")
		for _, d := range r.Deployments {
			line := fmt.Sprintf("    %s %s", d.ID, d.Status)
			if d.ReadyAt != nil {
				line += " in " + d.ReadyAt.Sub(d.CreatedAt).Round(time.Second).String()
			} else if d.ErrorMessage != "" {
				line += ": " + firstLine(d.ErrorMessage)
			}
			fmt.Fprintln(out, line)
		}
	}
	if showLogs && strings.TrimSpace(r.Logs) != "" {
		fmt.Fprintln(out, "  logs:")
		for _, line := range strings.Split(strings.TrimRight(r.Logs, "\n"), "\n") {
			fmt.Fprintf(out, "    %s\n", line)
		}
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
