package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/aelexs/nextchapter/internal/chapter/app"
	"github.com/aelexs/nextchapter/internal/config"
	"github.com/aelexs/nextchapter/internal/domain"
)

type breakdownFlags struct {
	at     string
	zone   string
	asJSON bool
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "chapterctl",
		Short: "Countdown and time-together breakdowns",
		Long: `chapterctl prints the two timeline breakdowns shown on the landing pages.

Instants and the zone come from the service configuration
(TIMELINE_ZONE, TIMELINE_COUNTDOWN, TIMELINE_TOGETHER).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newBreakdownCmd(app.ModeCountdown, "Time until the next chapter, or since it began"),
		newBreakdownCmd(app.ModeTogether, "Time since the story began"),
		newWatchCmd(),
	)
	return root
}

func newBreakdownCmd(mode app.Mode, short string) *cobra.Command {
	var flags breakdownFlags

	cmd := &cobra.Command{
		Use:   string(mode),
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBreakdown(cmd, mode, flags)
		},
	}
	cmd.Flags().StringVar(&flags.at, "at", "", "reference instant in RFC 3339 (default: now)")
	cmd.Flags().StringVar(&flags.zone, "tz", "", "IANA zone to compute in (default: timeline.zone)")
	cmd.Flags().BoolVar(&flags.asJSON, "json", false, "print the breakdown as JSON")
	return cmd
}

func runBreakdown(cmd *cobra.Command, mode app.Mode, flags breakdownFlags) error {
	cfg, err := config.Load(cmd.Context())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if flags.zone != "" {
		cfg.Timeline.Zone = flags.zone
	}
	resolved, err := cfg.Timeline.Resolve()
	if err != nil {
		return err
	}

	reference := time.Now()
	if flags.at != "" {
		reference, err = time.Parse(time.RFC3339, flags.at)
		if err != nil {
			return fmt.Errorf("--at %q: %w", flags.at, domain.ErrInvalidInput)
		}
	}

	timeline := app.NewTimeline(app.TimelineConfig{
		Clock:     domain.RealClock{},
		Location:  resolved.Location,
		Countdown: resolved.Countdown,
		Together:  resolved.Together,
	})
	b := timeline.At(mode, reference)

	if flags.asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		return enc.Encode(b)
	}
	return printBreakdown(cmd.OutOrStdout(), mode, b)
}

func printBreakdown(w io.Writer, mode app.Mode, b domain.TimeBreakdown) error {
	heading := "Until the next chapter"
	switch {
	case mode == app.ModeTogether:
		heading = "Together for"
	case b.IsForward():
		heading = "Since the next chapter began"
	}

	_, err := fmt.Fprintf(w, "%s\n  Years %d  Months %d  Days %d  Hours %d  Minutes %d  Seconds %d\n",
		heading, b.Years, b.Months, b.Days, b.Hours, b.Minutes, b.Seconds)
	return err
}
