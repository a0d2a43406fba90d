package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVersionHandlerReportsBuildInfo(t *testing.T) {
	SetVersionInfo("1.2.3", "abcd123", "2025-11-07T12:00:00Z")
	t.Cleanup(func() { SetVersionInfo("dev", "unknown", "unknown") })

	rec := httptest.NewRecorder()
	VersionHandler(rec, httptest.NewRequest(http.MethodGet, "/version", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp VersionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, AppName, resp.App.Name)
	require.Equal(t, "1.2.3", resp.App.Version)
	require.Equal(t, "abcd123", resp.App.Commit)
	require.Equal(t, runtime.Version(), resp.App.GoVersion)
	require.NotNil(t, resp.Dependencies)
}
