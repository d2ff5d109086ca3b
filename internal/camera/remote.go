package camera

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"panocompass/internal/calibration"
	"panocompass/internal/mqtt"
)

// Command names sent to a remote renderer.
const (
	CommandRotateTo = "rotateTo"
	CommandGyro     = "gyro"
)

// Commander delivers a named command to a remote renderer.
type Commander interface {
	Command(name string, payload any) error
}

type gyroCommand struct {
	Enabled bool `json:"enabled"`
}

// GyroResult is the renderer's answer to a gyro enable command.
type GyroResult struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Remote is a camera owned by a renderer in another process or page. The
// renderer reports its pose; commands go out through a Commander.
type Remote struct {
	name string
	cmd  Commander

	mu       sync.Mutex
	pose     calibration.Orientation
	havePose bool
	gyroWait chan GyroResult
}

func NewRemote(name string, cmd Commander) *Remote {
	return &Remote{name: name, cmd: cmd}
}

// Ready reports whether the renderer has reported a pose yet.
func (r *Remote) Ready() bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.havePose
}

// Provider returns the camera only once the renderer is ready.
func (r *Remote) Provider() calibration.CameraProvider {
	return func() calibration.Camera {
		if !r.Ready() {
			return nil
		}
		return r
	}
}

// UpdatePose records the pose last reported by the renderer.
func (r *Remote) UpdatePose(o calibration.Orientation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pose = o
	r.havePose = true
}

// HandleGyroResult completes a pending StartContinuousRotation.
func (r *Remote) HandleGyroResult(res GyroResult) {
	r.mu.Lock()
	ch := r.gyroWait
	r.gyroWait = nil
	r.mu.Unlock()
	if ch == nil {
		log.Printf("camera %s: unsolicited gyro result ok=%t", r.name, res.OK)
		return
	}
	ch <- res
}

func (r *Remote) Orientation() (calibration.Orientation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.havePose {
		return calibration.Orientation{}, fmt.Errorf("camera %s: no pose reported yet", r.name)
	}
	return r.pose, nil
}

func (r *Remote) RotateTo(o calibration.Orientation) {
	if err := r.cmd.Command(CommandRotateTo, o); err != nil {
		log.Printf("camera %s: rotateTo: %v", r.name, err)
		return
	}
	// The renderer reports the new pose later; assume it applied.
	r.UpdatePose(o)
}

func (r *Remote) StartContinuousRotation(ctx context.Context) error {
	ch := make(chan GyroResult, 1)
	r.mu.Lock()
	if r.gyroWait != nil {
		r.mu.Unlock()
		return fmt.Errorf("camera %s: gyro enable already pending", r.name)
	}
	r.gyroWait = ch
	r.mu.Unlock()

	if err := r.cmd.Command(CommandGyro, gyroCommand{Enabled: true}); err != nil {
		r.clearWait(ch)
		return fmt.Errorf("camera %s: gyro: %w", r.name, err)
	}
	select {
	case res := <-ch:
		if !res.OK {
			if res.Error == "" {
				res.Error = "renderer refused gyroscope control"
			}
			return errors.New(res.Error)
		}
		return nil
	case <-ctx.Done():
		r.clearWait(ch)
		return ctx.Err()
	}
}

func (r *Remote) clearWait(ch chan GyroResult) {
	r.mu.Lock()
	if r.gyroWait == ch {
		r.gyroWait = nil
	}
	r.mu.Unlock()
}

func (r *Remote) StopContinuousRotation() {
	if err := r.cmd.Command(CommandGyro, gyroCommand{Enabled: false}); err != nil {
		log.Printf("camera %s: gyro stop: %v", r.name, err)
	}
}

// mqttCommander publishes commands as JSON on <prefix>/<name>.
type mqttCommander struct {
	conn   mqtt.Conn
	prefix string
}

func (c mqttCommander) Command(name string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.conn.Publish(c.prefix+"/"+name, false, b)
}

// BindMQTT returns a Remote camera for a renderer that reports its pose on
// <prefix>/pose and gyro results on <prefix>/gyro/result, and takes commands
// on <prefix>/rotateTo and <prefix>/gyro.
func BindMQTT(conn mqtt.Conn, prefix string) (*Remote, error) {
	if conn == nil {
		return nil, fmt.Errorf("camera: mqtt conn is nil")
	}
	r := NewRemote("mqtt:"+prefix, mqttCommander{conn: conn, prefix: prefix})
	if err := conn.Subscribe(prefix+"/pose", func(_ string, payload []byte) {
		var o calibration.Orientation
		if err := json.Unmarshal(payload, &o); err != nil {
			log.Printf("camera %s: bad pose payload: %v", r.name, err)
			return
		}
		r.UpdatePose(o)
	}); err != nil {
		return nil, err
	}
	if err := conn.Subscribe(prefix+"/gyro/result", func(_ string, payload []byte) {
		var res GyroResult
		if err := json.Unmarshal(payload, &res); err != nil {
			log.Printf("camera %s: bad gyro result: %v", r.name, err)
			return
		}
		r.HandleGyroResult(res)
	}); err != nil {
		return nil, err
	}
	return r, nil
}

// CommanderFunc adapts a function to Commander.
type CommanderFunc func(name string, payload any) error

func (f CommanderFunc) Command(name string, payload any) error { return f(name, payload) }
