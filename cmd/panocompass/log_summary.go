package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"panocompass/internal/orientation"
	"panocompass/internal/replay"
)

type logSummary struct {
	Segments     int
	Samples      int
	Invalid      int
	MaxDuration  time.Duration
	EventCounts  map[orientation.EventType]int
	SourceCounts map[orientation.Source]int
}

// summarizeSampleLog counts what a recorded trace would produce when replayed
// through the normalizer, one segment at a time.
func summarizeSampleLog(records []replay.Record) logSummary {
	s := logSummary{
		EventCounts:  map[orientation.EventType]int{},
		SourceCounts: map[orientation.Source]int{},
	}
	if len(records) == 0 {
		return s
	}

	origin := time.Duration(0)
	hasSamples := false
	segments := 0
	prev := 0.0

	for _, r := range records {
		if r.Sample == nil {
			segments++
			origin = r.At
			prev = 0
			continue
		}
		hasSamples = true

		s.Samples++
		s.EventCounts[r.Event]++
		at := r.At - origin
		if at < 0 {
			at = 0
		}
		if at > s.MaxDuration {
			s.MaxDuration = at
		}

		rd, err := orientation.Derive(*r.Sample, prev)
		if err != nil {
			s.Invalid++
			continue
		}
		prev = rd.Degrees
		s.SourceCounts[rd.Source]++
	}
	if segments == 0 && hasSamples {
		segments = 1
	}
	s.Segments = segments
	return s
}

func (s logSummary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "segments=%d samples=%s invalid=%s max_duration=%s\n",
		s.Segments, humanize.Comma(int64(s.Samples)), humanize.Comma(int64(s.Invalid)), s.MaxDuration)

	events := make([]string, 0, len(s.EventCounts))
	for e := range s.EventCounts {
		events = append(events, string(e))
	}
	sort.Strings(events)
	for _, e := range events {
		fmt.Fprintf(&b, "event %s: %s\n", e, humanize.Comma(int64(s.EventCounts[orientation.EventType(e)])))
	}

	sources := make([]orientation.Source, 0, len(s.SourceCounts))
	for src := range s.SourceCounts {
		sources = append(sources, src)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i] < sources[j] })
	for _, src := range sources {
		fmt.Fprintf(&b, "source %s: %s\n", src, humanize.Comma(int64(s.SourceCounts[src])))
	}
	return b.String()
}
