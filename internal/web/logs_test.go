package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestLogBuffer_PartialLinesAndTail(t *testing.T) {
	b := NewLogBuffer(3)
	_, _ = b.Write([]byte("2025/01/01 00:00:00 normalizer: one\n2025/01/01 00:00:00 permis"))
	_, _ = b.Write([]byte("sion: two\n"))
	_, _ = b.Write([]byte("2025/01/01 00:00:00 calibration: three\n2025/01/01 00:00:00 web: four\n"))

	lines, dropped := b.Snapshot(10)
	if len(lines) != 3 || dropped != 1 {
		t.Fatalf("lines=%q dropped=%d", lines, dropped)
	}
	if lines[0] != "2025/01/01 00:00:00 permission: two" {
		t.Fatalf("partial line not joined: %q", lines[0])
	}
}

func TestLogBuffer_ComponentFilter(t *testing.T) {
	b := NewLogBuffer(10)
	_, _ = b.Write([]byte("2025/01/01 00:00:00 normalizer: listening\n" +
		"2025/01/01 00:00:00 session 1234: stopped\n" +
		"2025/01/01 00:00:00 calibration: heading unavailable in normalizer: x\n"))

	ts := httptest.NewServer(b.Handler())
	defer ts.Close()

	for _, tc := range []struct {
		component string
		want      int
	}{
		{"normalizer", 1},
		{"session", 1},
		{"calibration", 1},
		{"mqtt", 0},
	} {
		resp, err := http.Get(ts.URL + "?component=" + tc.component)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		var out LogsResponse
		_ = json.NewDecoder(resp.Body).Decode(&out)
		resp.Body.Close()
		if len(out.Lines) != tc.want {
			t.Fatalf("component=%s lines=%q want %d", tc.component, out.Lines, tc.want)
		}
	}
}
