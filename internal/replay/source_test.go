package replay

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"panocompass/internal/orientation"
	"panocompass/internal/platform"
)

func TestRun_PublishesOntoBus(t *testing.T) {
	bus := platform.NewBus(orientation.EventRelative)
	var got []float64
	cancel, err := bus.Listen(orientation.EventRelative, func(s orientation.Sample) {
		got = append(got, *s.WebkitCompassHeading)
	})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer cancel()

	recs := []Record{
		{At: 0},
		{At: 0, Event: orientation.EventRelative, Sample: compass(5)},
		{At: time.Millisecond, Event: orientation.EventRelative, Sample: compass(6)},
		// Not offered by this bus; dropped.
		{At: time.Millisecond, Event: orientation.EventAbsolute, Sample: compass(7)},
	}
	if err := Run(context.Background(), bus, recs, 10, false); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(got) != 2 || got[0] != 5 || got[1] != 6 {
		t.Fatalf("got=%v want [5 6]", got)
	}
	if st := bus.Stats(); st.Dropped != 1 {
		t.Fatalf("dropped=%d want 1", st.Dropped)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	bus := platform.NewBus(orientation.EventRelative)
	recs := []Record{
		{At: 0, Event: orientation.EventRelative, Sample: compass(1)},
		{At: time.Hour, Event: orientation.EventRelative, Sample: compass(2)},
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, bus, recs, 1, true) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run after cancel: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop")
	}
}

func TestRecorder_WritesBusTraffic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.log")
	w, err := CreateWriter(path)
	if err != nil {
		t.Fatalf("CreateWriter: %v", err)
	}
	bus := platform.NewBus(orientation.EventAbsolute, orientation.EventRelative)
	rec, err := NewRecorder(bus, w)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}

	bus.Publish(orientation.EventRelative, *compass(11))
	bus.Publish(orientation.EventAbsolute, orientation.Sample{Alpha: orientation.Angle(3), Absolute: true})
	if err := rec.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if bus.Listeners() != 0 {
		t.Fatalf("recorder still listening")
	}
	bus.Publish(orientation.EventRelative, *compass(12))
	if err := w.Close(); err != nil {
		t.Fatalf("writer Close: %v", err)
	}

	recs, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("records=%d want 3 (START + 2)", len(recs))
	}
	if recs[1].Event != orientation.EventRelative || *recs[1].Sample.WebkitCompassHeading != 11 {
		t.Fatalf("record 1=%+v", recs[1])
	}
	if recs[2].Event != orientation.EventAbsolute || !recs[2].Sample.Absolute {
		t.Fatalf("record 2=%+v", recs[2])
	}
}

func TestRecorder_SlowWriterDoesNotStallBus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slow.log")
	w, err := CreateWriter(path)
	if err != nil {
		t.Fatalf("CreateWriter: %v", err)
	}
	bus := platform.NewBus(orientation.EventRelative)
	rec, err := NewRecorder(bus, w)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}

	// Hold the writer as a stuck disk would.
	w.mu.Lock()
	began := time.Now()
	for i := 0; i < 3; i++ {
		bus.Publish(orientation.EventRelative, *compass(float64(i)))
	}
	if el := time.Since(began); el > 500*time.Millisecond {
		w.mu.Unlock()
		t.Fatalf("publish blocked %s behind the writer", el)
	}
	w.mu.Unlock()

	if err := rec.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("writer Close: %v", err)
	}
	recs, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(recs) != 4 || rec.Dropped() != 0 {
		t.Fatalf("records=%d dropped=%d want START + 3, 0 dropped", len(recs), rec.Dropped())
	}
	for i, r := range recs[1:] {
		if *r.Sample.WebkitCompassHeading != float64(i) {
			t.Fatalf("record %d out of order: %s", i, r.Sample)
		}
	}
}
