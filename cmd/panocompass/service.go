package main

import (
	"context"
	"errors"
	"fmt"
	"log"

	"golang.org/x/sync/errgroup"

	"panocompass/internal/calibration"
	"panocompass/internal/camera"
	"panocompass/internal/config"
	"panocompass/internal/mqtt"
	"panocompass/internal/orientation"
	"panocompass/internal/permission"
	"panocompass/internal/platform"
	"panocompass/internal/replay"
	"panocompass/internal/session"
	"panocompass/internal/sim"
	"panocompass/internal/web"
)

type service struct {
	cfg        config.Config
	configPath string

	logs    *web.LogBuffer
	status  *web.Status
	host    *session.Host
	heading *web.HeadingBroadcaster

	mqttClient *mqtt.Client
	headingQ   chan orientation.Heading

	virtual *camera.Virtual
	camera  calibration.CameraProvider

	recorder *replay.Writer
	taps     []*replay.Recorder
}

func newService(cfg config.Config, configPath string, logs *web.LogBuffer) (*service, error) {
	rt := &service{
		cfg:        cfg,
		configPath: configPath,
		logs:       logs,
		status:     web.NewStatus(),
		host:       &session.Host{},
		heading:    web.NewHeadingBroadcaster(),
	}

	if cfg.MQTT.Enable {
		c, err := mqtt.Dial(mqtt.Config{
			Broker:         cfg.MQTT.Broker,
			ClientID:       cfg.MQTT.ClientID,
			QoS:            cfg.MQTT.QoS,
			ConnectTimeout: cfg.MQTT.ConnectTimeout,
		})
		if err != nil {
			return nil, err
		}
		rt.mqttClient = c
		rt.headingQ = make(chan orientation.Heading, 16)
	}

	if err := rt.initCamera(); err != nil {
		rt.Close()
		return nil, err
	}

	if cfg.Record.Enable {
		w, err := replay.CreateWriter(cfg.Record.Path)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("record: %w", err)
		}
		rt.recorder = w
		log.Printf("record: writing samples to %s", cfg.Record.Path)
	}

	rt.status.SetStatic(cfg.Device.Source, cfg.Camera.Kind, map[string]any{
		"mqtt":   cfg.MQTT.Enable,
		"record": cfg.Record.Enable,
	})
	return rt, nil
}

func (rt *service) initCamera() error {
	switch rt.cfg.Camera.Kind {
	case config.CameraVirtual:
		v := camera.NewVirtual(calibration.Orientation{Pitch: orientation.DegToRad(rt.cfg.Camera.PitchDeg)})
		v.SensorLive = func() bool {
			s := rt.host.Current()
			return s != nil && s.Subscribed()
		}
		rt.virtual = v
		rt.camera = func() calibration.Camera { return v }
	case config.CameraMQTT:
		r, err := camera.BindMQTT(rt.mqttClient, rt.cfg.Camera.TopicPrefix)
		if err != nil {
			return fmt.Errorf("camera: %w", err)
		}
		rt.camera = r.Provider()
		log.Printf("camera: remote renderer on %s/*", rt.cfg.Camera.TopicPrefix)
	}
	return nil
}

// onHeading fans a heading update out. It runs on the sensor delivery path
// and must not block.
func (rt *service) onHeading(h orientation.Heading) {
	rt.heading.Publish(h)
	if rt.virtual != nil {
		rt.virtual.Follow(h)
	}
	if rt.headingQ != nil {
		select {
		case rt.headingQ <- h:
		default:
		}
	}
}

func (rt *service) deviceHub() *web.DeviceHub {
	if rt.cfg.Device.Source != config.SourceWebSocket {
		return nil
	}
	return web.NewDeviceHub(web.DeviceConfig{
		Host:              rt.host,
		Status:            rt.status,
		CameraFromDevice:  rt.cfg.Camera.Kind == config.CameraDevice,
		Camera:            rt.camera,
		OnHeading:         rt.onHeading,
		Recorder:          rt.recorder,
		PermissionTimeout: rt.cfg.Permission.Timeout,
	})
}

func (rt *service) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	devices := rt.deviceHub()
	h := web.Handler(web.Options{
		Host:          rt.host,
		Status:        rt.status,
		Logs:          rt.logs,
		Heading:       rt.heading,
		Devices:       devices,
		About:         web.AboutInfo{Source: rt.cfg.Device.Source, ConfigPath: rt.configPath},
		ActionTimeout: rt.cfg.Permission.Timeout,
	})
	g.Go(func() error {
		return web.Serve(gctx, rt.cfg.Web.Listen, h)
	})

	if rt.mqttClient != nil {
		pub := &mqtt.HeadingPublisher{
			Conn:        rt.mqttClient,
			Topic:       rt.cfg.MQTT.HeadingTopic,
			MinInterval: rt.cfg.MQTT.MinInterval,
		}
		g.Go(func() error {
			return pub.Run(gctx, rt.headingQ)
		})
	}

	if devices == nil {
		bus, err := rt.startLocalSession()
		if err != nil {
			return err
		}
		g.Go(func() error {
			return rt.runSource(gctx, bus)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// startLocalSession attaches the single session fed by an in-process source.
func (rt *service) startLocalSession() (*platform.Bus, error) {
	dc := rt.cfg.Device
	types, err := rt.localEventTypes()
	if err != nil {
		return nil, err
	}
	bus := platform.NewBus(types...)
	s := session.New(session.Config{
		Platform: bus,
		Capabilities: permission.Capabilities{
			Absolute:       bus.Supports(orientation.EventAbsolute),
			Relative:       bus.Supports(orientation.EventRelative),
			PermissionAPI:  dc.RequestPermission,
			UserAgent:      dc.UserAgent,
			MaxTouchPoints: dc.MaxTouchPoints,
		},
		Requester:         sim.Requester{Grant: *rt.cfg.Sim.Grant, Delay: rt.cfg.Sim.GrantDelay},
		Camera:            rt.camera,
		OnHeading:         rt.onHeading,
		PermissionTimeout: rt.cfg.Permission.Timeout,
	})
	rt.host.Attach(s)
	if err := s.Start(); err != nil {
		// Surfaced once; the service keeps serving status.
		log.Printf("session: %v", err)
	}
	if rt.recorder != nil {
		tap, err := replay.NewRecorder(bus, rt.recorder)
		if err != nil {
			return nil, fmt.Errorf("record: %w", err)
		}
		rt.taps = append(rt.taps, tap)
	}
	return bus, nil
}

// localEventTypes lists the events the in-process device offers. A simulated
// device offers what its mode emits; a replayed one what the config declares.
func (rt *service) localEventTypes() ([]orientation.EventType, error) {
	if rt.cfg.Device.Source == config.SourceSim {
		dev, err := simDevice(rt.cfg.Sim, nil)
		if err != nil {
			return nil, err
		}
		return dev.Mode.EventTypes(), nil
	}
	return platform.EventTypes(rt.cfg.Device.Absolute, rt.cfg.Device.Relative), nil
}

func (rt *service) runSource(ctx context.Context, bus *platform.Bus) error {
	switch rt.cfg.Device.Source {
	case config.SourceReplay:
		recs, err := replay.ReadFile(rt.cfg.Replay.Path)
		if err != nil {
			return fmt.Errorf("replay: %w", err)
		}
		log.Printf("replay: %d records from %s speed=%g loop=%t", len(recs), rt.cfg.Replay.Path, rt.cfg.Replay.Speed, rt.cfg.Replay.Loop)
		return replay.Run(ctx, bus, recs, rt.cfg.Replay.Speed, rt.cfg.Replay.Loop)
	default:
		dev, err := simDevice(rt.cfg.Sim, bus)
		if err != nil {
			return err
		}
		return dev.Run(ctx)
	}
}

func simDevice(sc config.SimConfig, bus *platform.Bus) (sim.Device, error) {
	dev := sim.Device{Bus: bus, AccuracyDeg: sc.AccuracyDeg, Interval: sc.Interval}
	if sc.JitterDeg > 0 {
		dev.Jitter = sim.NewJitter(sc.JitterDeg, sc.Seed)
	}
	if sc.ScenarioPath != "" {
		script, err := sim.LoadScenarioScript(sc.ScenarioPath)
		if err != nil {
			return sim.Device{}, fmt.Errorf("sim: scenario: %w", err)
		}
		scn, err := sim.NewScenario(script)
		if err != nil {
			return sim.Device{}, fmt.Errorf("sim: scenario %s: %w", sc.ScenarioPath, err)
		}
		dev.Source = sim.ScenarioSource{Scenario: scn, Loop: sc.Loop}
		dev.Mode = scn.Mode()
		dev.AccuracyDeg = scn.AccuracyDeg()
		return dev, nil
	}
	mode, err := sim.ParseMode(sc.Mode)
	if err != nil {
		return sim.Device{}, err
	}
	dev.Mode = mode
	dev.Source = sim.RotationSource{StartDeg: sc.StartDeg, Period: sc.Period, TiltDeg: sc.TiltDeg}
	return dev, nil
}

func (rt *service) Close() {
	if s := rt.host.Current(); s != nil {
		rt.host.Detach(s)
	}
	for _, tap := range rt.taps {
		if err := tap.Close(); err != nil {
			log.Printf("record: %v", err)
		}
	}
	rt.taps = nil
	if rt.recorder != nil {
		if err := rt.recorder.Close(); err != nil {
			log.Printf("record: close: %v", err)
		}
	}
	if rt.mqttClient != nil {
		rt.mqttClient.Close()
	}
}
