package version

import (
	"runtime"
	"strings"
	"testing"

	"github.com/matryer/is"
)

func TestGetVersionInfo(t *testing.T) {
	is := is.New(t)

	info := GetVersionInfo()
	is.True(strings.Contains(info, "emo-go version dev"))
	is.True(strings.Contains(info, "unknown"))
	is.True(strings.Contains(info, runtime.Version()))
}

func TestCustomValues(t *testing.T) {
	is := is.New(t)

	originalVersion, originalCommit, originalBuildTime := Version, GitCommit, BuildTime
	defer func() {
		Version, GitCommit, BuildTime = originalVersion, originalCommit, originalBuildTime
	}()

	Version = "v1.0.0"
	GitCommit = "abc123"
	BuildTime = "2024-01-01T00:00:00Z"

	info := GetVersionInfo()
	is.True(strings.Contains(info, "v1.0.0"))
	is.True(strings.Contains(info, "abc123"))
	is.True(strings.Contains(info, "2024-01-01T00:00:00Z"))

	is.Equal(Get(), Info{
		Name:      "emo-go",
		Version:   "v1.0.0",
		Commit:    "abc123",
		BuildTime: "2024-01-01T00:00:00Z",
		Go:        runtime.Version(),
	})
	is.Equal(UserAgent(), "emo-go/v1.0.0")
}
