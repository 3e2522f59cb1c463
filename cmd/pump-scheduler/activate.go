package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sweeney/pump-scheduler/internal/activation"
	"github.com/sweeney/pump-scheduler/internal/gpio"
	"github.com/sweeney/pump-scheduler/internal/logging"
)

func newActivateCmd(v *viper.Viper) *cobra.Command {
	var pin, total, on, off int

	cmd := &cobra.Command{
		Use:   "activate",
		Short: "Run one duty cycle now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s := loadSettings(v)
			log := logging.New(logging.Options{Level: s.LogLevel, JSON: s.LogJSON, Out: cmd.ErrOrStderr()})

			out, err := gpio.NewRealWriter(gpio.Options{Chip: s.Chip, ActiveLow: s.ActiveLow})
			if err != nil {
				return fmt.Errorf("init gpio: %w", err)
			}
			defer out.Close()

			// An interrupted manual run must not leave the output energized.
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)
			go func() {
				if _, ok := <-sigCh; ok {
					log.Warn().Int("pin", pin).Msg("interrupted, turning output off")
					_ = out.Close()
					os.Exit(130)
				}
			}()

			e := activation.New(out, activation.Options{Log: logging.Component(log, "activation")})
			return activate(cmd.OutOrStdout(), e, pin, total, on, off)
		},
	}

	cmd.Flags().IntVar(&pin, "pin", gpio.DefaultPumpPin, "BCM pin to energize")
	cmd.Flags().IntVar(&total, "total", 0, "Total energized seconds")
	cmd.Flags().IntVar(&on, "on", 0, "Maximum seconds per burst")
	cmd.Flags().IntVar(&off, "off", 0, "Rest seconds between bursts")
	_ = cmd.MarkFlagRequired("total")
	_ = cmd.MarkFlagRequired("on")
	return cmd
}

// activate runs one duty cycle and prints its summary.
func activate(w io.Writer, e *activation.Engine, pin, total, on, off int) error {
	sum, err := e.RunDutyCycle(pin, total, on, off)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "run %s: pin %d, %d bursts, took %s\n",
		sum.RunID, pin, len(sum.Bursts), sum.Finished.Sub(sum.Started).Truncate(time.Second))
	return nil
}
