package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/kelseyhightower/envconfig"
	"github.com/practable/gcs/internal/reconws"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// WatchSpecification is read from GCSWATCH_<var>
type WatchSpecification struct {
	URL      string   `default:"ws://localhost:8000/ws"`
	Topics   []string `default:"static_info,slow_info,fast_info"`
	LogLevel string   `split_words:"true" default:"warn"`
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "print the envelopes sent by a dashboard",
	Long: `Watch connects to a dashboard, reconnecting as needed, subscribes to
topics and prints each envelope it receives, one per line. Set parameters
with environment variables, for example:

export GCSWATCH_URL=ws://localhost:8000/ws
export GCSWATCH_TOPICS=static_info,fast_info
export GCSWATCH_LOG_LEVEL=info
gcs watch
`,
	Run: func(cmd *cobra.Command, args []string) {

		var spec WatchSpecification

		if err := envconfig.Process("gcswatch", &spec); err != nil {
			fmt.Println("Configuration Failed: " + err.Error())
			os.Exit(1)
		}

		if err := setupLogging(spec.LogLevel, "text", "stdout"); err != nil {
			fmt.Println(err.Error())
			os.Exit(1)
		}

		log.WithField("s", spec).Info("Specification")

		ctx, cancel := context.WithCancel(context.Background())

		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt)

		go func() {
			<-c
			cancel()
		}()

		r := reconws.New()
		r.Topics = spec.Topics

		go r.Reconnect(ctx, spec.URL)

		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-r.In:
				fmt.Println(string(msg.Data))
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
