package replay

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"panocompass/internal/orientation"
)

type fakeSleeper struct {
	slept []time.Duration
}

func (fs *fakeSleeper) Sleep(d time.Duration) {
	fs.slept = append(fs.slept, d)
}

func compass(deg float64) *orientation.Sample {
	return &orientation.Sample{WebkitCompassHeading: orientation.Angle(deg)}
}

func TestReaderReadAll(t *testing.T) {
	in := strings.NewReader(`
# comment

START
0, deviceorientationabsolute, {"alpha":10,"beta":0,"gamma":null,"absolute":true}
10,deviceorientation,{"webkitCompassHeading":42.5,"webkitCompassAccuracy":5}
`)

	recs, err := NewReader(in).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll() error: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	if recs[0].Sample != nil {
		t.Fatalf("expected START marker (nil sample), got %v", recs[0].Sample)
	}
	if recs[1].At != 0 || recs[1].Event != orientation.EventAbsolute {
		t.Fatalf("record 1: at=%s event=%s", recs[1].At, recs[1].Event)
	}
	s := recs[1].Sample
	if s.Alpha == nil || *s.Alpha != 10 || s.Beta == nil || *s.Beta != 0 || s.Gamma != nil || !s.Absolute {
		t.Fatalf("unexpected sample 1: %s", s)
	}
	if recs[2].At != 10*time.Nanosecond {
		t.Fatalf("expected At=10ns, got %s", recs[2].At)
	}
	if got := recs[2].Sample.WebkitCompassHeading; got == nil || *got != 42.5 {
		t.Fatalf("unexpected sample 2: %s", recs[2].Sample)
	}
}

func TestReaderReadAll_InvalidLines(t *testing.T) {
	for _, line := range []string{
		"not-a-valid-line",
		"x,deviceorientation,{}",
		"-5,deviceorientation,{}",
		"0,devicemotion,{}",
		"0,deviceorientation,{not json",
	} {
		if _, err := NewReader(strings.NewReader(line + "\n")).ReadAll(); err == nil {
			t.Fatalf("expected error for %q", line)
		}
	}
}

func TestPlay_RespectsTimingAndStart(t *testing.T) {
	var got []float64
	fs := &fakeSleeper{}

	recs := []Record{
		{At: 1 * time.Second},
		{At: 1 * time.Second, Event: orientation.EventRelative, Sample: compass(1)},
		{At: 1*time.Second + 100*time.Nanosecond, Event: orientation.EventRelative, Sample: compass(2)},
		{At: 2 * time.Second},
		{At: 2*time.Second + 50*time.Nanosecond, Event: orientation.EventRelative, Sample: compass(3)},
	}

	err := Play(recs, 1.0, false, fs, func(r Record) error {
		got = append(got, *r.Sample.WebkitCompassHeading)
		return nil
	})
	if err != nil {
		t.Fatalf("Play() error: %v", err)
	}

	if !reflect.DeepEqual(got, []float64{1, 2, 3}) {
		t.Fatalf("played=%v want [1 2 3]", got)
	}
	if !reflect.DeepEqual(fs.slept, []time.Duration{100 * time.Nanosecond}) {
		t.Fatalf("slept = %v, want [100ns]", fs.slept)
	}
}

func TestPlay_SpeedMultiplier(t *testing.T) {
	fs := &fakeSleeper{}
	recs := []Record{
		{At: 0, Sample: compass(1)},
		{At: 100 * time.Nanosecond, Sample: compass(2)},
	}

	err := Play(recs, 2.0, false, fs, func(Record) error { return nil })
	if err != nil {
		t.Fatalf("Play() error: %v", err)
	}
	if !reflect.DeepEqual(fs.slept, []time.Duration{50 * time.Nanosecond}) {
		t.Fatalf("slept = %v, want [50ns]", fs.slept)
	}
}

func TestPlay_CallbackErrorStopsLoop(t *testing.T) {
	stop := errors.New("stop")
	calls := 0
	recs := []Record{{At: 0, Sample: compass(1)}}
	err := Play(recs, 1, true, &fakeSleeper{}, func(Record) error {
		calls++
		if calls == 3 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) || calls != 3 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestPlay_InvalidArgs(t *testing.T) {
	recs := []Record{{At: 0, Sample: compass(1)}}
	if err := Play(recs, 0, false, nil, func(Record) error { return nil }); err == nil {
		t.Fatalf("expected error for zero speed")
	}
	if err := Play(nil, 1, false, nil, func(Record) error { return nil }); err == nil {
		t.Fatalf("expected error for no records")
	}
	if err := Play(recs, 1, false, nil, nil); err == nil {
		t.Fatalf("expected error for nil callback")
	}
}

func TestWriter_WritesExpectedFormat(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "out.log")

	w, err := CreateWriter(path)
	if err != nil {
		t.Fatalf("CreateWriter() error: %v", err)
	}
	w.start = time.Unix(0, 0)

	s := orientation.Sample{Alpha: orientation.Angle(10), Absolute: true}
	if err := w.WriteSample(time.Unix(0, 20), orientation.EventAbsolute, s); err != nil {
		t.Fatalf("WriteSample() error: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := w.WriteSample(time.Unix(0, 30), orientation.EventAbsolute, s); err == nil {
		t.Fatalf("expected error writing to closed writer")
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	want := "START\n20,deviceorientationabsolute,{\"alpha\":10,\"beta\":null,\"gamma\":null,\"absolute\":true}\n"
	if string(b) != want {
		t.Fatalf("unexpected file contents: %q", string(b))
	}

	recs, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	if len(recs) != 2 || recs[1].Sample.Beta != nil || *recs[1].Sample.Alpha != 10 {
		t.Fatalf("records=%+v", recs)
	}
}
