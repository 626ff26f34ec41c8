package version

import (
	"runtime"
	"testing"
)

func setVars(t *testing.T, version, commit, built string) {
	t.Helper()
	origVersion, origCommit, origBuildTime := Version, GitCommit, BuildTime
	t.Cleanup(func() {
		Version, GitCommit, BuildTime = origVersion, origCommit, origBuildTime
	})
	Version, GitCommit, BuildTime = version, commit, built
}

func TestFull(t *testing.T) {
	tests := []struct {
		name    string
		version string
		commit  string
		built   string
		want    string
	}{
		{"version only", "1.2.0", "", "", "1.2.0"},
		{"with commit", "1.2.0", "abc1234", "", "1.2.0-abc1234"},
		{"with build time", "1.2.0", "", "2026-10-18T12:00:00Z", "1.2.0 (2026-10-18T12:00:00Z)"},
		{"complete", "1.2.0", "abc1234", "2026-10-18T12:00:00Z", "1.2.0-abc1234 (2026-10-18T12:00:00Z)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setVars(t, tt.version, tt.commit, tt.built)
			if got := Full(); got != tt.want {
				t.Errorf("Full() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFullDev(t *testing.T) {
	setVars(t, "dev", "", "")
	want := "dev"
	if mod := moduleVersion(); mod != "" {
		want = mod
	}
	if got := Full(); got != want {
		t.Errorf("Full() = %q, want %q", got, want)
	}
}

func TestGet(t *testing.T) {
	setVars(t, "1.2.0", "abc1234", "")
	info := Get()
	if info.Version != "1.2.0" || info.GitCommit != "abc1234" {
		t.Errorf("Get() = %+v", info)
	}
	if info.GoVersion != runtime.Version() {
		t.Errorf("GoVersion = %q, want %q", info.GoVersion, runtime.Version())
	}
}
