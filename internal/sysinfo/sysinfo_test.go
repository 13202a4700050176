package sysinfo

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shirou/gopsutil/v4/mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemperatureClass(t *testing.T) {

	assert.Equal(t, "normal", TemperatureClass(0, false))
	assert.Equal(t, "cold", TemperatureClass(39.9, true))
	assert.Equal(t, "normal", TemperatureClass(40, true))
	assert.Equal(t, "normal", TemperatureClass(54.9, true))
	assert.Equal(t, "warm", TemperatureClass(55, true))
	assert.Equal(t, "warm", TemperatureClass(69.9, true))
	assert.Equal(t, "hot", TemperatureClass(70, true))
	assert.Equal(t, "hot", TemperatureClass(95, true))
}

func TestTemperaturePercent(t *testing.T) {

	assert.Equal(t, 0, TemperaturePercent(50, false, 85))
	assert.Equal(t, 0, TemperaturePercent(0, true, 85))
	assert.Equal(t, 56, TemperaturePercent(48.3, true, 85))
	assert.Equal(t, 100, TemperaturePercent(85, true, 85))
	assert.Equal(t, 100, TemperaturePercent(99.5, true, 85))
}

func TestFormatUptime(t *testing.T) {

	assert.Equal(t, "0 days 0 hours 0 minutes", FormatUptime(59))
	assert.Equal(t, "0 days 9 hours 12 minutes", FormatUptime(9*3600+12*60+30))
	assert.Equal(t, "3 days 1 hours 1 minutes", FormatUptime(3*86400+3600+60))
}

func TestFormatGB(t *testing.T) {

	assert.Equal(t, "4.0GB", FormatGB(4<<30))
	assert.Equal(t, "1.5GB", FormatGB(3<<29))
	assert.Equal(t, "0.0GB", FormatGB(0))
	assert.Equal(t, "3.73GB", FormatGB(4005000000))
}

func TestParseOSRelease(t *testing.T) {

	release := `PRETTY_NAME="Debian GNU/Linux 12 (bookworm)"
NAME="Debian GNU/Linux"
VERSION_ID="12"
ID=debian
`
	assert.Equal(t, "Debian GNU/Linux 12 (bookworm)", ParseOSRelease(strings.NewReader(release)))
	assert.Equal(t, "", ParseOSRelease(strings.NewReader("ID=alpine\n")))
}

func TestParseThermal(t *testing.T) {

	temp, err := ParseThermal([]byte("48312\n"))
	assert.NoError(t, err)
	assert.Equal(t, 48.3, temp)

	_, err = ParseThermal([]byte("n/a"))
	assert.Error(t, err)
}

func TestCollector(t *testing.T) {

	dir := t.TempDir()

	release := filepath.Join(dir, "os-release")
	require.NoError(t, os.WriteFile(release, []byte(`PRETTY_NAME="Test OS 1"`+"\n"), 0644))

	zone := filepath.Join(dir, "temp")
	require.NoError(t, os.WriteFile(zone, []byte("61000\n"), 0644))

	c := New(Config{OSRelease: release, ThermalZone: zone})

	static, err := c.StaticInfo()
	require.NoError(t, err)
	assert.Equal(t, "Test OS 1", static["os_name"])
	assert.Contains(t, static["hardware"], "cores)")
	assert.True(t, strings.HasSuffix(static["ram_total"].(string), "GB"))
	assert.NoError(t, static.Validate())

	slow, err := c.SlowInfo()
	require.NoError(t, err)
	assert.Contains(t, slow["uptime"], "days")

	fast, err := c.FastInfo()
	require.NoError(t, err)
	assert.Equal(t, 61.0, fast["cpu_temp"])
	assert.Equal(t, 71, fast["cpu_temp_percent"])
	assert.Equal(t, "warm", fast["temp_class"])
	for _, k := range []string{"cpu_usage", "ram_used", "ram_percent"} {
		assert.Contains(t, fast, k)
	}
	assert.NoError(t, fast.Validate())
}

func TestMemoryUnavailable(t *testing.T) {

	c := New(Config{ThermalZone: filepath.Join(t.TempDir(), "missing")})
	c.memory = func(context.Context) (*mem.VirtualMemoryStat, error) {
		return nil, errors.New("no /proc/meminfo")
	}

	static, err := c.StaticInfo()
	require.NoError(t, err)
	assert.Equal(t, "0GB", static["ram_total"])

	fast, err := c.FastInfo()
	require.NoError(t, err)
	assert.Equal(t, "0GB", fast["ram_used"])
	assert.Equal(t, 0.0, fast["ram_percent"])
	assert.Contains(t, fast, "cpu_usage")
	assert.NoError(t, fast.Validate())
}
