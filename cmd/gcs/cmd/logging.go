package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/client9/reopen"
	log "github.com/sirupsen/logrus"
)

// setupLogging sets the level, format and output of the standard logger.
// Output is stdout, or a file that is reopened on SIGHUP so that it
// can be rotated.
func setupLogging(level, format, file string) error {

	switch strings.ToLower(level) {
	case "trace":
		log.SetLevel(log.TraceLevel)
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warn":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	case "fatal":
		log.SetLevel(log.FatalLevel)
	case "panic":
		log.SetLevel(log.PanicLevel)
	default:
		return fmt.Errorf("GCS_LOG_LEVEL can be trace, debug, info, warn, error, fatal or panic but not %s", level)
	}

	switch strings.ToLower(format) {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "text":
		log.SetFormatter(&log.TextFormatter{})
	default:
		return fmt.Errorf("GCS_LOG_FORMAT can be json or text but not %s", format)
	}

	if strings.ToLower(file) == "stdout" {
		log.SetOutput(os.Stdout)
		return nil
	}

	f, err := reopen.NewFileWriter(file)
	if err != nil {
		log.Infof("Failed to log to %s, logging to default stderr", file)
		return nil
	}

	log.SetOutput(f)

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)

	go func() {
		for range hup {
			if err := f.Reopen(); err != nil {
				log.WithField("error", err.Error()).Error("cannot reopen log file")
				continue
			}
			log.WithField("file", file).Info("reopened log file")
		}
	}()

	return nil
}
