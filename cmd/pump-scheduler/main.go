// Command pump-scheduler energizes GPIO outputs in duty cycles on cron schedules
// read from a pin schedule document, publishing each run to MQTT.
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sweeney/pump-scheduler/internal/config"
	"github.com/sweeney/pump-scheduler/internal/gpio"
)

const envPrefix = "PUMPSCHED"

// settings is the resolved daemon configuration.
type settings struct {
	ConfigPath string
	Tick       time.Duration
	Heartbeat  time.Duration
	Timezone   string
	Chip       string
	ActiveLow  bool
	Pins       []int
	Broker     string
	HTTPAddr   string
	Watch      bool
	LogLevel   string
	LogJSON    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

func addDaemonFlags(fs *pflag.FlagSet) {
	fs.String("config", config.DefaultPath, "Pin schedule document (JSON or YAML)")
	fs.Duration("tick", time.Second, "How often the cron engine is evaluated")
	fs.Duration("heartbeat", 15*time.Minute, "Heartbeat interval (0 to disable)")
	fs.String("timezone", "Local", "Timezone cron expressions are evaluated in")
	fs.String("chip", gpio.DefaultChip, "GPIO character device")
	fs.Bool("active-low", false, "Outputs are energized by driving the line low")
	fs.IntSlice("pins", []int{gpio.DefaultPumpPin}, "Pins forced off at startup")
	fs.String("broker", "", "MQTT broker address (empty to disable)")
	fs.String("http", ":8080", "HTTP status address (empty to disable)")
	fs.Bool("watch", true, "Reload the schedule document when it changes")
	fs.String("log-level", "info", "Log level: trace, debug, info, warn, error")
	fs.Bool("log-json", false, "Log JSON lines instead of console text")
}

func loadSettings(v *viper.Viper) settings {
	return settings{
		ConfigPath: v.GetString("config"),
		Tick:       v.GetDuration("tick"),
		Heartbeat:  v.GetDuration("heartbeat"),
		Timezone:   v.GetString("timezone"),
		Chip:       v.GetString("chip"),
		ActiveLow:  v.GetBool("active-low"),
		Pins:       v.GetIntSlice("pins"),
		Broker:     v.GetString("broker"),
		HTTPAddr:   v.GetString("http"),
		Watch:      v.GetBool("watch"),
		LogLevel:   v.GetString("log-level"),
		LogJSON:    v.GetBool("log-json"),
	}
}

func newRootCmd() *cobra.Command {
	v := newViper()

	runDaemon := func(cmd *cobra.Command, _ []string) error {
		return run(loadSettings(v))
	}

	root := &cobra.Command{
		Use:           "pump-scheduler",
		Short:         "Run pump duty cycles on cron schedules",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return v.BindPFlags(cmd.Flags())
		},
		RunE: runDaemon,
	}
	addDaemonFlags(root.PersistentFlags())

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run the scheduler daemon (default)",
			Args:  cobra.NoArgs,
			RunE:  runDaemon,
		},
		newValidateCmd(v),
		newActivateCmd(v),
	)
	return root
}

// loadLocation resolves the --timezone value. Empty and "Local" mean the
// system zone.
func loadLocation(name string) (*time.Location, error) {
	switch name {
	case "", "Local":
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return loc, nil
}
