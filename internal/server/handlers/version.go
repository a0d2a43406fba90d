package handlers

import (
	"encoding/json"
	"net/http"
	"runtime"
	"runtime/debug"
)

// AppName is reported by the version endpoint.
const AppName = "marketgate"

// Build metadata injected from main via SetVersionInfo.
var (
	AppVersion   = "dev"
	AppCommit    = "unknown"
	AppBuildDate = "unknown"
)

// reportedModules are the dependencies whose versions /version exposes.
var reportedModules = map[string]string{
	"github.com/fulmenhq/gofulmen":       "gofulmen",
	"github.com/tursodatabase/go-libsql": "libsql",
	"github.com/jackc/pgx/v5":            "pgx",
	"github.com/redis/go-redis/v9":       "go_redis",
	"google.golang.org/protobuf":         "protobuf",
	"github.com/go-chi/chi/v5":           "chi",
}

// SetVersionInfo sets the version information for the handler
func SetVersionInfo(version, commit, buildDate string) {
	AppVersion = version
	AppCommit = commit
	AppBuildDate = buildDate
}

// VersionResponse represents the version information response
type VersionResponse struct {
	App          AppInfo           `json:"app"`
	Dependencies map[string]string `json:"dependencies"`
	Runtime      RuntimeInfo       `json:"runtime"`
}

// AppInfo contains application version details
type AppInfo struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Commit    string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version,omitempty"`
}

// RuntimeInfo contains runtime environment information
type RuntimeInfo struct {
	Platform      string `json:"platform"`
	NumCPU        int    `json:"num_cpu"`
	NumGoroutines int    `json:"num_goroutines"`
}

// VersionHandler handles version information requests
func VersionHandler(w http.ResponseWriter, _ *http.Request) {
	response := VersionResponse{
		App: AppInfo{
			Name:      AppName,
			Version:   AppVersion,
			Commit:    AppCommit,
			BuildDate: AppBuildDate,
			GoVersion: runtime.Version(),
		},
		Dependencies: DependencyVersions(),
		Runtime: RuntimeInfo{
			Platform:      runtime.GOOS + "/" + runtime.GOARCH,
			NumCPU:        runtime.NumCPU(),
			NumGoroutines: runtime.NumGoroutine(),
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}

// DependencyVersions reads module versions from the build info. Test binaries
// and builds without module info report nothing.
func DependencyVersions() map[string]string {
	out := make(map[string]string)
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return out
	}
	for _, dep := range info.Deps {
		module := dep
		if dep.Replace != nil {
			module = dep.Replace
		}
		if name, tracked := reportedModules[dep.Path]; tracked {
			out[name] = module.Version
		}
	}
	return out
}
