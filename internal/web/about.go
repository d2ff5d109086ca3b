package web

import (
	"net/http"
	"runtime"
	"runtime/debug"
	"sync"
	"time"
)

type AboutResponse struct {
	Service    string            `json:"service"`
	NowUTC     string            `json:"now_utc"`
	GoVersion  string            `json:"go_version"`
	Build      buildDetails      `json:"build"`
	Deps       map[string]string `json:"deps,omitempty"`
	Source     string            `json:"source,omitempty"`
	ConfigPath string            `json:"config_path,omitempty"`
}

type buildDetails struct {
	Module   string `json:"module,omitempty"`
	Version  string `json:"version,omitempty"`
	Revision string `json:"revision,omitempty"`
	Modified bool   `json:"modified,omitempty"`
	Time     string `json:"time,omitempty"`
}

// AboutInfo is the deployment information reported next to build info.
type AboutInfo struct {
	Source     string
	ConfigPath string
}

// readBuild is evaluated once; build info does not change at runtime.
var readBuild = sync.OnceValues(func() (buildDetails, map[string]string) {
	bi, ok := debug.ReadBuildInfo()
	if !ok || bi == nil {
		return buildDetails{}, nil
	}
	d := buildDetails{Module: bi.Main.Path, Version: bi.Main.Version}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			d.Revision = s.Value
		case "vcs.modified":
			d.Modified = s.Value == "true"
		case "vcs.time":
			d.Time = s.Value
		}
	}
	deps := make(map[string]string, len(bi.Deps))
	for _, m := range bi.Deps {
		deps[m.Path] = m.Version
	}
	return d, deps
})

func AboutHandler(info AboutInfo) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodGet) {
			return
		}
		build, deps := readBuild()
		writeJSON(w, http.StatusOK, AboutResponse{
			Service:    "panocompass",
			NowUTC:     time.Now().UTC().Format(time.RFC3339Nano),
			GoVersion:  runtime.Version(),
			Build:      build,
			Deps:       deps,
			Source:     info.Source,
			ConfigPath: info.ConfigPath,
		})
	})
}
