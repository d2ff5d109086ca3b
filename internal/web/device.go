package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"panocompass/internal/calibration"
	"panocompass/internal/camera"
	"panocompass/internal/orientation"
	"panocompass/internal/permission"
	"panocompass/internal/platform"
	"panocompass/internal/replay"
	"panocompass/internal/session"
)

// Client frame types.
const (
	frameHello      = "hello"
	frameEvent      = "event"
	framePermission = "permission"
	framePose       = "pose"
	frameGyroResult = "gyroResult"
	frameAction     = "action"
)

// Server frame types. Camera commands use the camera command names.
const (
	frameWelcome           = "welcome"
	frameRequestPermission = "requestPermission"
	frameResult            = "result"
	frameError             = "error"
)

// Actions a device may trigger itself, from a user gesture on the page.
const (
	actionRequestPermission = "requestPermission"
	actionCalibrate         = "calibrate"
	actionToggleRotation    = "toggleRotation"
)

// clientFrame is any frame a device sends. Fields are used per Type.
type clientFrame struct {
	Type         string                   `json:"type"`
	Capabilities *permission.Capabilities `json:"capabilities,omitempty"`
	Event        orientation.EventType    `json:"event,omitempty"`
	Data         json.RawMessage          `json:"data,omitempty"`
	Granted      bool                     `json:"granted,omitempty"`
	Error        string                   `json:"error,omitempty"`
	Pose         *calibration.Orientation `json:"pose,omitempty"`
	OK           bool                     `json:"ok,omitempty"`
	Action       string                   `json:"action,omitempty"`
}

type serverFrame struct {
	Type       string `json:"type"`
	Session    string `json:"session,omitempty"`
	Strategy   string `json:"strategy,omitempty"`
	Permission string `json:"permission,omitempty"`
	Action     string `json:"action,omitempty"`
	Data       any    `json:"data,omitempty"`
	Kind       string `json:"kind,omitempty"`
	Message    string `json:"message,omitempty"`
}

// DeviceConfig wires device connections into the service.
type DeviceConfig struct {
	Host   *session.Host
	Status *Status
	// CameraFromDevice binds each connection's renderer as the camera.
	// Otherwise Camera (possibly nil) is used for every session.
	CameraFromDevice bool
	Camera           calibration.CameraProvider
	OnHeading        func(orientation.Heading)
	// Recorder, when set, receives every sample a device sends.
	Recorder          *replay.Writer
	PermissionTimeout time.Duration
	HelloTimeout      time.Duration
}

// DeviceHub accepts viewer devices on a WebSocket. Each connection becomes
// one session: its own event bus, negotiator and (optionally) camera.
type DeviceHub struct {
	cfg      DeviceConfig
	upgrader websocket.Upgrader
}

func NewDeviceHub(cfg DeviceConfig) *DeviceHub {
	if cfg.Host == nil {
		cfg.Host = &session.Host{}
	}
	if cfg.Status == nil {
		cfg.Status = NewStatus()
	}
	if cfg.HelloTimeout <= 0 {
		cfg.HelloTimeout = 10 * time.Second
	}
	return &DeviceHub{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Viewer pages are served from elsewhere.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *DeviceHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("device: websocket upgrade error: %v", err)
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	d := &deviceConn{hub: h, conn: conn, ctx: ctx, cancel: cancel, perm: make(chan permissionAnswer, 1)}
	d.serve()
}

type permissionAnswer struct {
	granted bool
	err     error
}

type deviceConn struct {
	hub  *DeviceHub
	conn *websocket.Conn
	// ctx ends when the connection closes; device actions run under it.
	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex

	bus    *platform.Bus
	remote *camera.Remote
	sess   *session.Session

	permMu      sync.Mutex
	permPending bool
	perm        chan permissionAnswer

	bad int
}

func (d *deviceConn) serve() {
	defer d.conn.Close()
	st := d.hub.cfg.Status

	hello, err := d.readHello()
	if err != nil {
		log.Printf("device: %v", err)
		d.send(serverFrame{Type: frameError, Message: err.Error()})
		return
	}
	caps := *hello.Capabilities

	d.bus = platform.NewBus(platform.EventTypes(caps.Absolute, caps.Relative)...)
	cam := d.hub.cfg.Camera
	if d.hub.cfg.CameraFromDevice {
		d.remote = camera.NewRemote("device", camera.CommanderFunc(d.command))
		cam = d.remote.Provider()
	}
	d.sess = session.New(session.Config{
		Platform:          d.bus,
		Capabilities:      caps,
		Requester:         permission.RequesterFunc(d.requestPermission),
		Camera:            cam,
		OnHeading:         d.hub.cfg.OnHeading,
		PermissionTimeout: d.hub.cfg.PermissionTimeout,
	})

	st.DeviceConnected()
	defer st.DeviceDisconnected()
	d.hub.cfg.Host.Attach(d.sess)
	defer d.hub.cfg.Host.Detach(d.sess)
	// Runs before Detach: pending actions give up first.
	defer d.cancel()

	if w := d.hub.cfg.Recorder; w != nil {
		rec, err := replay.NewRecorder(d.bus, w)
		if err != nil {
			log.Printf("device: record: %v", err)
		} else {
			defer rec.Close()
		}
	}

	status := d.sess.Status()
	log.Printf("device: session %s connected platform=%s strategy=%s", status.ID, status.Platform, status.Strategy)
	d.send(serverFrame{Type: frameWelcome, Session: status.ID, Strategy: status.Strategy, Permission: status.Permission})
	if err := d.sess.Start(); err != nil {
		d.sendError("", err)
	}

	d.readLoop()
	log.Printf("device: session %s disconnected", status.ID)
}

func (d *deviceConn) readHello() (clientFrame, error) {
	_ = d.conn.SetReadDeadline(time.Now().Add(d.hub.cfg.HelloTimeout))
	defer d.conn.SetReadDeadline(time.Time{})

	var f clientFrame
	if err := d.conn.ReadJSON(&f); err != nil {
		return clientFrame{}, fmt.Errorf("read hello: %w", err)
	}
	if f.Type != frameHello || f.Capabilities == nil {
		return clientFrame{}, fmt.Errorf("first frame must be %q with capabilities, got %q", frameHello, f.Type)
	}
	return f, nil
}

func (d *deviceConn) readLoop() {
	st := d.hub.cfg.Status
	for {
		var f clientFrame
		if err := d.conn.ReadJSON(&f); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("device: websocket read error: %v", err)
			}
			return
		}
		ok := d.handle(f)
		st.MarkFrame(time.Now().UTC(), ok)
	}
}

// handle runs on the read goroutine, which serializes sample delivery for
// this device.
func (d *deviceConn) handle(f clientFrame) bool {
	switch f.Type {
	case frameEvent:
		s, err := orientation.DecodeSample(f.Data)
		if err != nil {
			d.logBad("event: %v", err)
			return false
		}
		d.bus.Publish(f.Event, s)
	case framePermission:
		var err error
		if !f.Granted && f.Error != "" {
			err = errors.New(f.Error)
		}
		d.answerPermission(permissionAnswer{granted: f.Granted, err: err})
	case framePose:
		if d.remote == nil || f.Pose == nil {
			return false
		}
		d.remote.UpdatePose(*f.Pose)
	case frameGyroResult:
		if d.remote == nil {
			return false
		}
		d.remote.HandleGyroResult(camera.GyroResult{OK: f.OK, Error: f.Error})
	case frameAction:
		// Actions may wait on frames this goroutine has yet to read.
		go d.runAction(f.Action)
	default:
		d.logBad("unknown frame type %q", f.Type)
		return false
	}
	return true
}

func (d *deviceConn) runAction(action string) {
	timeout := d.hub.cfg.PermissionTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	ctx, cancel := context.WithTimeout(d.ctx, timeout)
	defer cancel()

	switch action {
	case actionRequestPermission:
		state, err := d.sess.RequestPermission(ctx)
		if err != nil {
			d.sendError(action, err)
			return
		}
		d.send(serverFrame{Type: frameResult, Action: action, Permission: state.String()})
	case actionCalibrate:
		d.send(serverFrame{Type: frameResult, Action: action, Data: d.sess.Calibrate()})
	case actionToggleRotation:
		on, err := d.sess.ToggleRotation(ctx)
		if err != nil {
			d.sendError(action, err)
			return
		}
		d.send(serverFrame{Type: frameResult, Action: action, Data: rotationResponse{Enabled: on}})
	default:
		d.sendError(action, fmt.Errorf("unknown action %q", action))
	}
}

// requestPermission asks the page to run the platform prompt and waits for
// its answer.
func (d *deviceConn) requestPermission(ctx context.Context) (bool, error) {
	d.permMu.Lock()
	d.permPending = true
	d.permMu.Unlock()
	defer func() {
		d.permMu.Lock()
		d.permPending = false
		d.permMu.Unlock()
	}()

	if err := d.send(serverFrame{Type: frameRequestPermission}); err != nil {
		return false, err
	}
	select {
	case a := <-d.perm:
		return a.granted, a.err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (d *deviceConn) answerPermission(a permissionAnswer) {
	d.permMu.Lock()
	defer d.permMu.Unlock()
	if !d.permPending {
		log.Printf("device: unsolicited permission answer granted=%t", a.granted)
		return
	}
	select {
	case d.perm <- a:
	default:
	}
}

// command sends a camera command to the page's renderer.
func (d *deviceConn) command(name string, payload any) error {
	return d.send(serverFrame{Type: name, Data: payload})
}

func (d *deviceConn) sendError(action string, err error) {
	msg, kind := describe(err)
	_ = d.send(serverFrame{Type: frameError, Action: action, Kind: kind, Message: msg})
}

func (d *deviceConn) send(f serverFrame) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	_ = d.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return d.conn.WriteJSON(f)
}

func (d *deviceConn) logBad(format string, args ...any) {
	d.bad++
	if d.bad == 1 || d.bad%100 == 0 {
		log.Printf("device: bad frame (%d total): %s", d.bad, fmt.Sprintf(format, args...))
	}
}
