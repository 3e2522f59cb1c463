package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sweeney/pump-scheduler/internal/config"
	"github.com/sweeney/pump-scheduler/internal/cron"
	"github.com/sweeney/pump-scheduler/internal/logging"
	"github.com/sweeney/pump-scheduler/internal/scheduler"
)

func newValidateCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file]",
		Short: "Check a pin schedule document and print its schedules",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s := loadSettings(v)
			path := s.ConfigPath
			if len(args) == 1 {
				path = args[0]
			}
			loc, err := loadLocation(s.Timezone)
			if err != nil {
				return err
			}
			log := logging.New(logging.Options{Level: s.LogLevel, JSON: s.LogJSON, Out: cmd.ErrOrStderr()})
			return validate(cmd.OutOrStdout(), afero.NewOsFs(), path, loc, time.Now, log)
		},
	}
}

// validate applies the document at path to a throwaway scheduler, which runs
// every check a real load does, then prints what would be registered.
func validate(w io.Writer, fsys afero.Fs, path string, loc *time.Location, now func() time.Time, log zerolog.Logger) error {
	doc, err := config.NewLoader(fsys, path).Load()
	if err != nil {
		return err
	}

	engine := cron.New(cron.Options{Location: loc, Now: now, Log: log})
	sched := scheduler.New(engine, nil, log)
	res, err := sched.Apply(doc)
	if err != nil {
		return err
	}

	next := map[cron.ID]time.Time{}
	for _, e := range engine.Entries() {
		next[e.ID] = e.Next
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPIN\tTOTAL\tON\tOFF\tCRON\tNEXT")
	for _, e := range sched.Entries() {
		d := e.Descriptor
		fmt.Fprintf(tw, "%d\t%d\t%ds\t%ds\t%ds\t%s\t%s\n",
			e.ID, d.Pin, d.TotalOnSec, d.OnSec, d.OffSec, d.TriggerExpression, next[e.ID].Format(time.RFC3339))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "%s: %d schedules, %d skipped\n", path, len(res.Registered), len(res.Skipped))
	return nil
}
