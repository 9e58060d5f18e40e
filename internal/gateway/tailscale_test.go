// ABOUTME: Tests for tailscale state directory and auth key resolution.
// ABOUTME: Environment lookups are isolated with t.Setenv.

package gateway

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveTailscaleStateDir(t *testing.T) {
	home := t.TempDir()
	data := t.TempDir()

	tests := []struct {
		name       string
		configured string
		xdg        string
		want       string
	}{
		{name: "configured wins", configured: "/var/lib/toolgate/ts", xdg: data, want: "/var/lib/toolgate/ts"},
		{name: "xdg data home", xdg: data, want: filepath.Join(data, "toolgate", "tailscale")},
		{name: "relative xdg is ignored", xdg: "relative/dir", want: filepath.Join(home, ".local", "share", "toolgate", "tailscale")},
		{name: "home fallback", want: filepath.Join(home, ".local", "share", "toolgate", "tailscale")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("HOME", home)
			t.Setenv("XDG_DATA_HOME", tt.xdg)

			got, err := resolveTailscaleStateDir(tt.configured)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveTailscaleStateDirWithoutHome(t *testing.T) {
	t.Setenv("HOME", "")
	t.Setenv("XDG_DATA_HOME", "")

	_, err := resolveTailscaleStateDir("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tailscale.state_dir")
}

func TestResolveTailscaleAuthKey(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		env        string
		want       string
		wantErr    bool
	}{
		{name: "configured wins", configured: "tskey-config", env: "tskey-env", want: "tskey-config"},
		{name: "env fallback", env: "tskey-env", want: "tskey-env"},
		{name: "whitespace trimmed", configured: "  tskey-config\n", want: "tskey-config"},
		{name: "blank config falls back", configured: "   ", env: "tskey-env", want: "tskey-env"},
		{name: "missing", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TS_AUTHKEY", tt.env)

			got, err := resolveTailscaleAuthKey(tt.configured)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "TS_AUTHKEY")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
