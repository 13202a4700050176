// Package sysinfo collects the host telemetry shown on the dashboard.
// Each of StaticInfo, SlowInfo and FastInfo returns a fresh snapshot
// for one topic.
package sysinfo

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/practable/gcs/internal/hub"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/sensors"
	log "github.com/sirupsen/logrus"
)

// Defaults for Config
const (
	DefaultOSRelease   = "/etc/os-release"
	DefaultThermalZone = "/sys/class/thermal/thermal_zone0/temp"
	DefaultTempMax     = 85.0
	DefaultTimeout     = 2 * time.Second
)

// Config represents configuration options for a Collector
type Config struct {

	// OSRelease is the os-release file to read the distribution name from
	OSRelease string

	// ThermalZone is a sysfs file holding the CPU temperature in millidegrees
	ThermalZone string

	// TempMax is the temperature reported as 100%
	TempMax float64

	// Timeout limits each probe of the host
	Timeout time.Duration
}

// Collector takes snapshots of the host
type Collector struct {
	config Config

	memory func(context.Context) (*mem.VirtualMemoryStat, error)
}

// New returns a pointer to a Collector, filling in defaults for missing config
func New(config Config) *Collector {
	if config.OSRelease == "" {
		config.OSRelease = DefaultOSRelease
	}
	if config.ThermalZone == "" {
		config.ThermalZone = DefaultThermalZone
	}
	if config.TempMax <= 0 {
		config.TempMax = DefaultTempMax
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	return &Collector{
		config: config,
		memory: mem.VirtualMemoryWithContext,
	}
}

// StaticInfo returns values that do not change while the host is up
func (c *Collector) StaticInfo() (hub.Data, error) {

	ctx, cancel := context.WithTimeout(context.Background(), c.config.Timeout)
	defer cancel()

	_, total, _ := c.ramUsage(ctx)

	return hub.Data{
		"os_name":   c.osName(ctx),
		"hardware":  c.hardware(ctx),
		"ram_total": total,
	}, nil
}

// SlowInfo returns values that change slowly
func (c *Collector) SlowInfo() (hub.Data, error) {

	ctx, cancel := context.WithTimeout(context.Background(), c.config.Timeout)
	defer cancel()

	uptime := "N/A"

	seconds, err := host.UptimeWithContext(ctx)
	if err != nil {
		log.WithField("error", err.Error()).Debug("cannot read uptime")
	} else {
		uptime = FormatUptime(seconds)
	}

	return hub.Data{
		"uptime": uptime,
	}, nil
}

// FastInfo returns values that change quickly
func (c *Collector) FastInfo() (hub.Data, error) {

	ctx, cancel := context.WithTimeout(context.Background(), c.config.Timeout)
	defer cancel()

	used, _, percent := c.ramUsage(ctx)

	temp, ok := c.cpuTemperature(ctx)

	return hub.Data{
		"cpu_temp":         temp,
		"cpu_temp_percent": TemperaturePercent(temp, ok, c.config.TempMax),
		"temp_class":       TemperatureClass(temp, ok),
		"cpu_usage":        cpuUsage(ctx),
		"ram_used":         used,
		"ram_percent":      percent,
	}, nil
}

// ramUsage reports used and total memory, or "0GB" and 0 if memory cannot be read
func (c *Collector) ramUsage(ctx context.Context) (used, total string, percent float64) {

	vm, err := c.memory(ctx)
	if err != nil {
		log.WithField("error", err.Error()).Warn("cannot read memory")
		return "0GB", "0GB", 0.0
	}

	return FormatGB(vm.Used), FormatGB(vm.Total), Round(vm.UsedPercent, 1)
}

// osName prefers the distribution's pretty name, e.g. "Debian GNU/Linux 12 (bookworm)"
func (c *Collector) osName(ctx context.Context) string {

	if f, err := os.Open(c.config.OSRelease); err == nil {
		defer f.Close()
		if name := ParseOSRelease(f); name != "" {
			return name
		}
	}

	info, err := host.InfoWithContext(ctx)
	if err != nil || info.Platform == "" {
		return runtime.GOOS
	}

	return strings.TrimSpace(info.Platform + " " + info.PlatformVersion)
}

// hardware describes the processor, e.g. "Cortex-A72 (4 cores)"
func (c *Collector) hardware(ctx context.Context) string {

	model := ""

	infos, err := cpu.InfoWithContext(ctx)
	if err == nil && len(infos) > 0 {
		model = infos[0].ModelName
		if model == "" {
			model = infos[0].Model
		}
	}

	if model == "" {
		model = runtime.GOARCH
	}

	cores, err := cpu.CountsWithContext(ctx, true)
	if err != nil || cores < 1 {
		cores = runtime.NumCPU()
	}

	return fmt.Sprintf("%s (%d cores)", model, cores)
}

// cpuTemperature reads the thermal zone, then falls back to the
// hottest sensor reported by the host. ok is false if neither works.
func (c *Collector) cpuTemperature(ctx context.Context) (float64, bool) {

	if b, err := os.ReadFile(c.config.ThermalZone); err == nil {
		if t, err := ParseThermal(b); err == nil {
			return t, true
		}
	}

	temps, err := sensors.TemperaturesWithContext(ctx)
	if err != nil && len(temps) == 0 {
		log.WithField("error", err.Error()).Debug("cannot read temperature sensors")
		return 0, false
	}

	hottest := 0.0
	found := false

	for _, t := range temps {
		if t.Temperature > hottest {
			hottest = t.Temperature
			found = true
		}
	}

	if !found {
		return 0, false
	}

	return Round(hottest, 1), true
}

// cpuUsage is the utilisation since the previous call, in percent
func cpuUsage(ctx context.Context) float64 {
	p, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil || len(p) == 0 {
		return 0.0
	}
	return Round(p[0], 1)
}

// ParseOSRelease returns PRETTY_NAME from an os-release file, or "" if absent
func ParseOSRelease(r io.Reader) string {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if ok && key == "PRETTY_NAME" {
			return strings.Trim(value, `"'`)
		}
	}
	return ""
}

// ParseThermal converts a sysfs millidegree reading into degrees, to one decimal
func ParseThermal(b []byte) (float64, error) {
	milli, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, err
	}
	return Round(float64(milli)/1000, 1), nil
}

// TemperatureClass buckets a temperature for display; an unknown
// temperature is treated as normal
func TemperatureClass(temp float64, ok bool) string {
	switch {
	case !ok:
		return "normal"
	case temp < 40:
		return "cold"
	case temp < 55:
		return "normal"
	case temp < 70:
		return "warm"
	default:
		return "hot"
	}
}

// TemperaturePercent expresses temp as a percentage of max, capped at 100
func TemperaturePercent(temp float64, ok bool, max float64) int {
	if !ok || temp == 0 || max <= 0 {
		return 0
	}
	p := int(temp / max * 100)
	if p > 100 {
		return 100
	}
	return p
}

// FormatUptime formats seconds as "D days H hours M minutes"
func FormatUptime(seconds uint64) string {
	days := seconds / 86400
	hours := (seconds % 86400) / 3600
	minutes := (seconds % 3600) / 60
	return fmt.Sprintf("%d days %d hours %d minutes", days, hours, minutes)
}

// FormatGB formats bytes as gigabytes to at most two decimals, e.g. "3.73GB" or "4.0GB"
func FormatGB(bytes uint64) string {
	s := strconv.FormatFloat(Round(float64(bytes)/(1<<30), 2), 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s + "GB"
}

// Round rounds x to the given number of decimal places
func Round(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}
