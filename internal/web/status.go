package web

import (
	"sync/atomic"
	"time"

	"panocompass/internal/session"
)

type Status struct {
	startUnixNano int64
	framesIn      uint64
	framesBad     uint64
	devices       int64
	devicesTotal  uint64
	lastFrameNano int64
	source        atomic.Value // string
	camera        atomic.Value // string
	info          atomic.Value // map[string]any
}

func NewStatus() *Status {
	s := &Status{}
	now := time.Now().UTC()
	atomic.StoreInt64(&s.startUnixNano, now.UnixNano())
	s.source.Store("")
	s.camera.Store("")
	s.info.Store(map[string]any{})
	return s
}

// SetStatic records configuration shown in status.
func (s *Status) SetStatic(source string, camera string, info map[string]any) {
	if source != "" {
		s.source.Store(source)
	}
	if camera != "" {
		s.camera.Store(camera)
	}
	if info != nil {
		s.info.Store(info)
	}
}

// MarkFrame counts one inbound device frame.
func (s *Status) MarkFrame(nowUTC time.Time, ok bool) {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	atomic.StoreInt64(&s.lastFrameNano, nowUTC.UnixNano())
	atomic.AddUint64(&s.framesIn, 1)
	if !ok {
		atomic.AddUint64(&s.framesBad, 1)
	}
}

func (s *Status) DeviceConnected() {
	atomic.AddInt64(&s.devices, 1)
	atomic.AddUint64(&s.devicesTotal, 1)
}

func (s *Status) DeviceDisconnected() {
	atomic.AddInt64(&s.devices, -1)
}

type StatusSnapshot struct {
	Service      string          `json:"service"`
	NowUTC       string          `json:"now_utc"`
	UptimeSec    int64           `json:"uptime_sec"`
	Source       string          `json:"source"`
	Camera       string          `json:"camera"`
	Devices      int64           `json:"devices"`
	DevicesTotal uint64          `json:"devices_total"`
	FramesIn     uint64          `json:"frames_in_total"`
	FramesBad    uint64          `json:"frames_bad_total"`
	LastFrameUTC string          `json:"last_frame_utc,omitempty"`
	Info         map[string]any  `json:"info"`
	Session      *session.Status `json:"session,omitempty"`
}

func (s *Status) Snapshot(nowUTC time.Time, cur *session.Session) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	start := time.Unix(0, atomic.LoadInt64(&s.startUnixNano)).UTC()
	uptime := nowUTC.Sub(start)
	lastFrame := atomic.LoadInt64(&s.lastFrameNano)

	snap := StatusSnapshot{
		Service:      "panocompass",
		NowUTC:       nowUTC.UTC().Format(time.RFC3339Nano),
		UptimeSec:    int64(uptime.Seconds()),
		Source:       s.source.Load().(string),
		Camera:       s.camera.Load().(string),
		Devices:      atomic.LoadInt64(&s.devices),
		DevicesTotal: atomic.LoadUint64(&s.devicesTotal),
		FramesIn:     atomic.LoadUint64(&s.framesIn),
		FramesBad:    atomic.LoadUint64(&s.framesBad),
		Info:         s.info.Load().(map[string]any),
	}
	if lastFrame != 0 {
		snap.LastFrameUTC = time.Unix(0, lastFrame).UTC().Format(time.RFC3339Nano)
	}
	if cur != nil {
		st := cur.Status()
		snap.Session = &st
	}
	return snap
}
