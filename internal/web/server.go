package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"panocompass/internal/orientation"
	"panocompass/internal/session"
)

// Options wires the HTTP surface to the running service. Status and Host are
// required; the rest may be nil.
type Options struct {
	Host    *session.Host
	Status  *Status
	Logs    *LogBuffer
	Heading *HeadingBroadcaster
	// Devices serves /ws/device when the service ingests device events over
	// WebSocket.
	Devices *DeviceHub
	About   AboutInfo
	// ActionTimeout bounds user actions that wait on the device (permission
	// prompts, gyro enable).
	ActionTimeout time.Duration
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

type headingResponse struct {
	Session string              `json:"session,omitempty"`
	Heading orientation.Heading `json:"heading"`
}

type permissionResponse struct {
	State    string `json:"state"`
	Strategy string `json:"strategy,omitempty"`
	Platform string `json:"platform,omitempty"`
	Error    string `json:"error,omitempty"`
	Kind     string `json:"kind,omitempty"`
}

type rotationResponse struct {
	Enabled bool   `json:"enabled"`
	Error   string `json:"error,omitempty"`
	Kind    string `json:"kind,omitempty"`
}

func Handler(opts Options) http.Handler {
	if opts.Status == nil {
		opts.Status = NewStatus()
	}
	if opts.Host == nil {
		opts.Host = &session.Host{}
	}
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = 60 * time.Second
	}
	host := opts.Host

	mux := http.NewServeMux()

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodGet) {
			return
		}
		writeJSON(w, http.StatusOK, opts.Status.Snapshot(time.Now().UTC(), host.Current()))
	})

	mux.HandleFunc("/api/heading", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodGet) {
			return
		}
		resp := headingResponse{Heading: orientation.NewHeadingState().Snapshot()}
		if s := host.Current(); s != nil {
			resp.Session = s.ID()
			resp.Heading = s.Heading()
		}
		writeJSON(w, http.StatusOK, resp)
	})

	if opts.Heading != nil {
		mux.HandleFunc("/api/heading/stream", func(w http.ResponseWriter, r *http.Request) {
			if !allow(w, r, http.MethodGet) {
				return
			}
			streamHeading(w, r, opts.Heading)
		})
	}

	mux.HandleFunc("/api/calibrate", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodPost) {
			return
		}
		s := host.Current()
		if s == nil {
			writeNoSession(w)
			return
		}
		// Calibration never fails from the user's point of view; a missing
		// camera shows up as skipped.
		writeJSON(w, http.StatusOK, s.Calibrate())
	})

	mux.HandleFunc("/api/rotation/toggle", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodPost) {
			return
		}
		s := host.Current()
		if s == nil {
			writeNoSession(w)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), opts.ActionTimeout)
		defer cancel()
		on, err := s.ToggleRotation(ctx)
		resp := rotationResponse{Enabled: on}
		code := http.StatusOK
		if err != nil {
			resp.Error, resp.Kind = describe(err)
			code = statusFor(err)
		}
		writeJSON(w, code, resp)
	})

	mux.HandleFunc("/api/permission", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodGet) {
			return
		}
		s := host.Current()
		if s == nil {
			writeNoSession(w)
			return
		}
		st := s.Status()
		writeJSON(w, http.StatusOK, permissionResponse{
			State:    st.Permission,
			Strategy: st.Strategy,
			Platform: st.Platform,
			Error:    st.Error,
		})
	})

	mux.HandleFunc("/api/permission/request", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodPost) {
			return
		}
		s := host.Current()
		if s == nil {
			writeNoSession(w)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), opts.ActionTimeout)
		defer cancel()
		state, err := s.RequestPermission(ctx)
		st := s.Status()
		resp := permissionResponse{State: state.String(), Strategy: st.Strategy, Platform: st.Platform}
		code := http.StatusOK
		if err != nil {
			resp.Error, resp.Kind = describe(err)
			code = statusFor(err)
		}
		writeJSON(w, code, resp)
	})

	if opts.Logs != nil {
		mux.Handle("/api/logs", opts.Logs.Handler())
	}

	mux.Handle("/api/about", AboutHandler(opts.About))

	if opts.Devices != nil {
		mux.Handle("/ws/device", opts.Devices)
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		if !allow(w, r, http.MethodGet) {
			return
		}
		snap := opts.Status.Snapshot(time.Now().UTC(), host.Current())
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = fmt.Fprintf(w, "<!doctype html><html><head><meta charset=\"utf-8\"><title>panocompass</title></head><body>")
		_, _ = fmt.Fprintf(w, "<h1>panocompass</h1>")
		_, _ = fmt.Fprintf(w, "<p>API: <a href=\"/api/status\">/api/status</a>, <a href=\"/api/heading\">/api/heading</a>.</p>")
		_, _ = fmt.Fprintf(w, "<pre>source=%s\ncamera=%s\ndevices=%d\nframes_in_total=%d</pre>",
			snap.Source, snap.Camera, snap.Devices, snap.FramesIn,
		)
		_, _ = fmt.Fprintf(w, "</body></html>")
	})

	return mux
}

func streamHeading(w http.ResponseWriter, r *http.Request, b *HeadingBroadcaster) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	id, ch := b.Subscribe(8)
	defer b.Unsubscribe(id)

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()
	for {
		select {
		case h, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(h)
			if err != nil {
				continue
			}
			_, _ = fmt.Fprintf(w, "event: heading\ndata: %s\n\n", data)
			flusher.Flush()
		case <-heartbeat.C:
			_, _ = fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	return false
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n"))
}

func writeNoSession(w http.ResponseWriter) {
	err := orientation.NewError(orientation.CollaboratorUnavailable, "no viewer session", nil)
	msg, kind := describe(err)
	writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: msg, Kind: kind})
}

// describe splits an error into the user-facing message and its kind.
func describe(err error) (msg, kind string) {
	var oe *orientation.Error
	if errors.As(err, &oe) {
		if oe.Message != "" {
			return oe.Message, oe.Kind.String()
		}
		return oe.Error(), oe.Kind.String()
	}
	return err.Error(), ""
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, orientation.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, orientation.ErrUnsupportedDevice):
		return http.StatusNotImplemented
	case errors.Is(err, orientation.ErrCollaboratorUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	default:
		return http.StatusConflict
	}
}

// Serve runs the HTTP server until ctx ends.
func Serve(ctx context.Context, listenAddr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// No WriteTimeout: SSE and WebSocket connections are long-lived.
		IdleTimeout:    30 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1 MiB
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.Printf("web: listening on %s", listenAddr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
