package handlers

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/crucible"
)

// BuildInfo identifies the running binary.
type BuildInfo struct {
	Name      string
	Version   string
	Commit    string
	BuildDate string
	StartedAt time.Time
}

var (
	buildMu   sync.RWMutex
	buildInfo = BuildInfo{Name: "arenawatch", Version: "dev", Commit: "unknown", BuildDate: "unknown"}
)

// SetBuildInfo replaces the identity reported on /version. Empty fields keep
// their previous value.
func SetBuildInfo(info BuildInfo) {
	buildMu.Lock()
	defer buildMu.Unlock()
	if info.Name != "" {
		buildInfo.Name = info.Name
	}
	if info.Version != "" {
		buildInfo.Version = info.Version
	}
	if info.Commit != "" {
		buildInfo.Commit = info.Commit
	}
	if info.BuildDate != "" {
		buildInfo.BuildDate = info.BuildDate
	}
	if !info.StartedAt.IsZero() {
		buildInfo.StartedAt = info.StartedAt
	}
}

func currentBuildInfo() BuildInfo {
	buildMu.RLock()
	defer buildMu.RUnlock()
	return buildInfo
}

// VersionResponse is the /version body.
type VersionResponse struct {
	App          AppInfo     `json:"app"`
	Dependencies DepInfo     `json:"dependencies"`
	Runtime      RuntimeInfo `json:"runtime"`
}

type AppInfo struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Commit    string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version,omitempty"`
}

type DepInfo struct {
	Gofulmen string `json:"gofulmen"`
	Crucible string `json:"crucible"`
}

type RuntimeInfo struct {
	Platform      string `json:"platform"`
	NumCPU        int    `json:"num_cpu"`
	NumGoroutines int    `json:"num_goroutines"`
	StartedAt     string `json:"started_at,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds,omitempty"`
}

// VersionHandler reports build identity, framework versions and process uptime.
func VersionHandler(w http.ResponseWriter, r *http.Request) {
	info := currentBuildInfo()
	deps := crucible.GetVersion()

	rt := RuntimeInfo{
		Platform:      runtime.GOOS + "/" + runtime.GOARCH,
		NumCPU:        runtime.NumCPU(),
		NumGoroutines: runtime.NumGoroutine(),
	}
	if !info.StartedAt.IsZero() {
		rt.StartedAt = info.StartedAt.UTC().Format(time.RFC3339)
		rt.UptimeSeconds = int64(time.Since(info.StartedAt).Seconds())
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(VersionResponse{
		App: AppInfo{
			Name:      info.Name,
			Version:   info.Version,
			Commit:    info.Commit,
			BuildDate: info.BuildDate,
			GoVersion: runtime.Version(),
		},
		Dependencies: DepInfo{Gofulmen: deps.Gofulmen, Crucible: deps.Crucible},
		Runtime:      rt,
	})
}
