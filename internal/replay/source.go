package replay

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"panocompass/internal/orientation"
	"panocompass/internal/platform"
)

// ctxSleeper stops waiting when ctx ends.
type ctxSleeper struct {
	ctx context.Context
}

func (s ctxSleeper) Sleep(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-s.ctx.Done():
	case <-t.C:
	}
}

// Run plays records onto bus until they run out (or forever with loop) or
// ctx ends.
func Run(ctx context.Context, bus *platform.Bus, records []Record, speed float64, loop bool) error {
	err := Play(records, speed, loop, ctxSleeper{ctx: ctx}, func(r Record) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		bus.Publish(r.Event, *r.Sample)
		return nil
	})
	if err != nil && ctx.Err() == nil {
		return err
	}
	log.Printf("replay: finished")
	return nil
}

// recordQueue bounds samples waiting for the disk; beyond it samples are
// dropped rather than stalling event delivery.
const recordQueue = 1024

type queued struct {
	at     time.Time
	event  orientation.EventType
	sample orientation.Sample
}

// Recorder writes every sample published on a bus to a log. Listeners only
// enqueue; a single goroutine does the file I/O.
type Recorder struct {
	w       *Writer
	cancels []func()
	queue   chan queued
	stop    chan struct{}
	done    chan struct{}
	dropped atomic.Uint64
	once    sync.Once
}

// NewRecorder listens to every event type the bus offers.
func NewRecorder(bus *platform.Bus, w *Writer) (*Recorder, error) {
	rec := &Recorder{
		w:     w,
		queue: make(chan queued, recordQueue),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go rec.run()
	for _, t := range []orientation.EventType{orientation.EventAbsolute, orientation.EventRelative} {
		if !bus.Supports(t) {
			continue
		}
		event := t
		cancel, err := bus.Listen(event, func(s orientation.Sample) {
			rec.enqueue(queued{at: time.Now(), event: event, sample: s})
		})
		if err != nil {
			rec.Close()
			return nil, err
		}
		rec.cancels = append(rec.cancels, cancel)
	}
	return rec, nil
}

func (r *Recorder) enqueue(q queued) {
	select {
	case r.queue <- q:
	default:
		if n := r.dropped.Add(1); n == 1 || n%100 == 0 {
			log.Printf("replay: record queue full, dropped %d samples", n)
		}
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for {
		select {
		case q := <-r.queue:
			r.write(q)
		case <-r.stop:
			for {
				select {
				case q := <-r.queue:
					r.write(q)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(q queued) {
	if err := r.w.WriteSample(q.at, q.event, q.sample); err != nil {
		log.Printf("replay: record: %v", err)
	}
}

// Dropped returns how many samples did not fit the queue.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Close stops listening, writes what is queued and flushes the log. The
// writer stays open; several recorders may share it.
func (r *Recorder) Close() error {
	r.once.Do(func() {
		for _, c := range r.cancels {
			c()
		}
		r.cancels = nil
		close(r.stop)
		<-r.done
	})
	return r.w.Flush()
}
