package web

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// LogBuffer is an io.Writer for the standard logger that keeps the newest
// complete lines for /api/logs.
type LogBuffer struct {
	mu      sync.Mutex
	max     int
	lines   []string
	pending []byte
	dropped uint64
}

func NewLogBuffer(maxLines int) *LogBuffer {
	if maxLines <= 0 {
		maxLines = 2000
	}
	return &LogBuffer{max: maxLines}
}

// Write splits p on newlines. A trailing fragment waits for the rest of its
// line in a later Write.
func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rest := p
	for {
		i := bytes.IndexByte(rest, '\n')
		if i < 0 {
			break
		}
		b.pending = append(b.pending, rest[:i]...)
		b.push(string(bytes.TrimRight(b.pending, "\r")))
		b.pending = b.pending[:0]
		rest = rest[i+1:]
	}
	b.pending = append(b.pending, rest...)
	return len(p), nil
}

func (b *LogBuffer) push(line string) {
	if line == "" {
		return
	}
	if len(b.lines) == b.max {
		copy(b.lines, b.lines[1:])
		b.lines = b.lines[:b.max-1]
		b.dropped++
	}
	b.lines = append(b.lines, line)
}

// Snapshot returns up to tail newest lines and how many lines were evicted
// so far.
func (b *LogBuffer) Snapshot(tail int) ([]string, uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if tail <= 0 {
		tail = 200
	}
	n := min(tail, len(b.lines))
	return append([]string(nil), b.lines[len(b.lines)-n:]...), b.dropped
}

type LogsResponse struct {
	NowUTC    string   `json:"now_utc"`
	Dropped   uint64   `json:"dropped"`
	Component string   `json:"component,omitempty"`
	Lines     []string `json:"lines"`
}

// Handler serves the buffer. Query: tail=N (1..5000), component=<name> keeps
// lines logged by that component, format=text for plain output.
func (b *LogBuffer) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodGet) {
			return
		}
		q := r.URL.Query()

		tail := 200
		if s := strings.TrimSpace(q.Get("tail")); s != "" {
			v, err := strconv.Atoi(s)
			if err != nil || v < 1 || v > 5000 {
				http.Error(w, "tail must be an integer in [1,5000]", http.StatusBadRequest)
				return
			}
			tail = v
		}

		lines, dropped := b.Snapshot(tail)
		component := strings.TrimSpace(q.Get("component"))
		if component != "" {
			lines = filterComponent(lines, component)
		}

		if strings.EqualFold(q.Get("format"), "text") {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set("Cache-Control", "no-store")
			if dropped > 0 {
				_, _ = fmt.Fprintf(w, "[dropped=%d]\n", dropped)
			}
			_, _ = fmt.Fprint(w, strings.Join(lines, "\n"), "\n")
			return
		}
		writeJSON(w, http.StatusOK, LogsResponse{
			NowUTC:    time.Now().UTC().Format(time.RFC3339Nano),
			Dropped:   dropped,
			Component: component,
			Lines:     lines,
		})
	})
}

// filterComponent keeps lines logged by component, i.e. whose message starts
// with "component:" or "component " (sessions log as "session <id>:").
func filterComponent(lines []string, component string) []string {
	out := lines[:0:0]
	for _, line := range lines {
		msg := messageOf(line)
		if strings.HasPrefix(msg, component+":") || strings.HasPrefix(msg, component+" ") {
			out = append(out, line)
		}
	}
	return out
}

// messageOf strips the date and time fields the standard logger prepends.
func messageOf(line string) string {
	rest := line
	for i := 0; i < 2; i++ {
		f, r, ok := strings.Cut(rest, " ")
		if !ok || f == "" || f[0] < '0' || f[0] > '9' {
			break
		}
		rest = r
	}
	return rest
}
