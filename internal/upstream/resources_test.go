// ABOUTME: Tests for the platform:// resources rendered from loaded services.
// ABOUTME: Reads go through a real catalog so URI template matching is exercised too.

package upstream

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/toolgate/internal/catalog"
)

func TestPlatformResources(t *testing.T) {
	m, _, dir := setupManager(t)
	cat := catalog.New(nil)
	require.NoError(t, RegisterResources(cat, m))

	got, err := cat.Read(context.Background(), "platform://services")
	require.NoError(t, err)
	assert.Equal(t, "No services available.", got.Text)
	assert.Equal(t, "text/markdown", got.MIMEType)

	yaml := serviceYAML("weather", "http://127.0.0.1:1", "forecast", "alerts") +
		"  category: data\n  description: Weather lookups\n"
	path := filepath.Join(dir, "weather.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))
	require.NoError(t, m.LoadFile(path))

	got, err = cat.Read(context.Background(), "platform://services")
	require.NoError(t, err)
	assert.Contains(t, got.Text, "## weather")
	assert.Contains(t, got.Text, "**Category**: data")
	assert.Contains(t, got.Text, "**Endpoints**: 2")

	got, err = cat.Read(context.Background(), "platform://service/weather")
	require.NoError(t, err)
	assert.Equal(t, "platform://service/weather", got.URI)
	assert.Contains(t, got.Text, "# weather")
	assert.Contains(t, got.Text, "### forecast")
	assert.Contains(t, got.Text, "- **Tool**: weather_alerts")

	_, err = cat.Read(context.Background(), "platform://service/nope")
	assert.ErrorIs(t, err, catalog.ErrResourceNotFound)
}
