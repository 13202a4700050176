package gcs

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/practable/gcs/internal/crossbar"
	"github.com/practable/gcs/internal/destination"
	"github.com/practable/gcs/internal/hub"
	"github.com/practable/gcs/internal/monitor"
	"github.com/practable/gcs/internal/sysinfo"
	log "github.com/sirupsen/logrus"
)

// Topics published by the dashboard
const (
	TopicStatic = "static_info"
	TopicSlow   = "slow_info"
	TopicFast   = "fast_info"
)

// Config represents configuration options for the dashboard
type Config struct {
	Port             int
	FastEvery        time.Duration
	SlowEvery        time.Duration
	GraceDelay       time.Duration
	DestinationsFile string
	ThermalZone      string
}

// NewDefaultConfig returns a pointer to a Config struct with default parameters
func NewDefaultConfig() *Config {
	return &Config{
		Port:             8000,
		FastEvery:        5 * time.Second,
		SlowEvery:        60 * time.Second,
		GraceDelay:       monitor.DefaultGraceDelay,
		DestinationsFile: destination.DefaultFile,
		ThermalZone:      sysinfo.DefaultThermalZone,
	}
}

// Run serves the dashboard until closed is closed
func Run(closed <-chan struct{}, parentwg *sync.WaitGroup, config Config) {

	defer parentwg.Done()

	var wg sync.WaitGroup

	clock := clockwork.NewRealClock()

	h := hub.New().WithClock(clock)

	m := monitor.New(h, monitor.Config{Clock: clock, GraceDelay: config.GraceDelay})

	c := sysinfo.New(sysinfo.Config{ThermalZone: config.ThermalZone})

	m.Register(TopicStatic, c.StaticInfo, monitor.OneShot)
	m.Register(TopicSlow, c.SlowInfo, config.SlowEvery)
	m.Register(TopicFast, c.FastInfo, config.FastEvery)

	ds := destination.New(config.DestinationsFile)

	crossbarConfig := crossbar.Config{
		Listen:       config.Port,
		Hub:          h,
		Monitor:      m,
		Destinations: ds,
	}

	// the crossbar outlives the monitors so it can pass on the final notice
	crossbarClosed := make(chan struct{})

	wg.Add(1)
	go crossbar.Crossbar(crossbarConfig, crossbarClosed, &wg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.StartAll(ctx)

	log.WithFields(log.Fields{"port": config.Port, "fast": config.FastEvery.String(), "slow": config.SlowEvery.String()}).Info("dashboard running")

	<-closed

	m.StopAll()

	n := h.BroadcastToAll(context.Background(), hub.Data{"status": "shutting down"})

	log.WithField("notified", n).Info("monitors stopped")

	close(crossbarClosed)

	wg.Wait()

	log.Trace("gcs done")
}
