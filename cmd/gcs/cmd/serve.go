/*
   gcs serves a live telemetry dashboard for a ground control station
   Copyright (C) 2025 Timothy Drysdale <timothy.d.drysdale@gmail.com>

   This program is free software: you can redistribute it and/or modify
   it under the terms of the GNU Affero General Public License as
   published by the Free Software Foundation, either version 3 of the
   License, or (at your option) any later version.

   This program is distributed in the hope that it will be useful,
   but WITHOUT ANY WARRANTY; without even the implied warranty of
   MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
   GNU Affero General Public License for more details.

   You should have received a copy of the GNU Affero General Public License
   along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package cmd

import (
	"fmt"
	"net/http"
	_ "net/http/pprof" //ok in production https://medium.com/google-cloud/continuous-profiling-of-go-programs-96d4416af77b
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/practable/gcs/internal/gcs"
	log "github.com/sirupsen/logrus"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// serveCmd runs the dashboard
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve the telemetry dashboard",
	Long: `Serve publishes host telemetry to websocket clients on /ws. Set
parameters with environment variables, for example:

export GCS_DESTINATIONS_FILE=/var/lib/gcs/ground_control_station.json
export GCS_FAST_EVERY=5s
export GCS_GRACE_DELAY=1s
export GCS_LOG_FILE=/var/log/gcs/gcs.log
export GCS_LOG_FORMAT=json
export GCS_LOG_LEVEL=warn
export GCS_PORT=8000
export GCS_PORT_PROFILE=6061
export GCS_PROFILE=true
export GCS_SLOW_EVERY=60s
export GCS_THERMAL_ZONE=/sys/class/thermal/thermal_zone0/temp
gcs serve

Notes:
static_info is sent once, GCS_GRACE_DELAY after start up, so clients
connected before then receive it
`,
	Run: func(cmd *cobra.Command, args []string) {

		viper.SetEnvPrefix("GCS")
		viper.AutomaticEnv()

		def := gcs.NewDefaultConfig()

		viper.SetDefault("destinations_file", def.DestinationsFile)
		viper.SetDefault("fast_every", def.FastEvery.String())
		viper.SetDefault("grace_delay", def.GraceDelay.String())
		viper.SetDefault("log_file", "stdout")
		viper.SetDefault("log_format", "text")
		viper.SetDefault("log_level", "info")
		viper.SetDefault("port", def.Port)
		viper.SetDefault("port_profile", 6061)
		viper.SetDefault("profile", false)
		viper.SetDefault("slow_every", def.SlowEvery.String())
		viper.SetDefault("thermal_zone", def.ThermalZone)

		destinationsFile := viper.GetString("destinations_file")
		fastEveryStr := viper.GetString("fast_every")
		graceDelayStr := viper.GetString("grace_delay")
		logFile := viper.GetString("log_file")
		logFormat := viper.GetString("log_format")
		logLevel := viper.GetString("log_level")
		port := viper.GetInt("port")
		portProfile := viper.GetInt("port_profile")
		profile := viper.GetBool("profile")
		slowEveryStr := viper.GetString("slow_every")
		thermalZone := viper.GetString("thermal_zone")

		// parse durations
		ok := true

		fastEvery, err := parsePositive("GCS_FAST_EVERY", fastEveryStr)
		if err != nil {
			fmt.Println(err.Error())
			ok = false
		}

		slowEvery, err := parsePositive("GCS_SLOW_EVERY", slowEveryStr)
		if err != nil {
			fmt.Println(err.Error())
			ok = false
		}

		graceDelay, err := time.ParseDuration(graceDelayStr)
		if err != nil || graceDelay < 0 {
			fmt.Println("cannot parse duration in GCS_GRACE_DELAY=" + graceDelayStr)
			ok = false
		}

		if !ok {
			os.Exit(1)
		}

		// set up logging
		if err := setupLogging(logLevel, logFormat, logFile); err != nil {
			fmt.Println(err.Error())
			os.Exit(1)
		}

		// Report useful info
		log.Infof("gcs version: %s", versionString())
		log.Infof("Destinations file: [%s]", destinationsFile)
		log.Infof("Fast every: [%s]", fastEvery)
		log.Infof("Grace delay: [%s]", graceDelay)
		log.Infof("Log file: [%s]", logFile)
		log.Infof("Log format: [%s]", logFormat)
		log.Infof("Log level: [%s]", logLevel)
		log.Infof("Port: [%d]", port)
		log.Infof("Port for profile: [%d]", portProfile)
		log.Infof("Profiling is on: [%t]", profile)
		log.Infof("Slow every: [%s]", slowEvery)
		log.Infof("Thermal zone: [%s]", thermalZone)

		// Optionally start the profiling server
		if profile {
			go func() {
				url := "localhost:" + strconv.Itoa(portProfile)
				err := http.ListenAndServe(url, nil)
				if err != nil {
					log.Error(err.Error())
				}
			}()
		}

		var wg sync.WaitGroup

		closed := make(chan struct{})

		c := make(chan os.Signal, 1)

		signal.Notify(c, os.Interrupt, syscall.SIGTERM)

		go func() {
			for range c {
				close(closed)
				wg.Wait()
				os.Exit(0)
			}
		}()

		wg.Add(1)

		config := gcs.Config{
			Port:             port,
			FastEvery:        fastEvery,
			SlowEvery:        slowEvery,
			GraceDelay:       graceDelay,
			DestinationsFile: destinationsFile,
			ThermalZone:      thermalZone,
		}

		go gcs.Run(closed, &wg, config)

		wg.Wait()

	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// parsePositive parses a duration that must be greater than zero
func parsePositive(name, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("cannot parse duration in %s=%s", name, value)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be greater than zero, not %s", name, value)
	}
	return d, nil
}
