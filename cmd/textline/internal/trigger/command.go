package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/agencyos/textline/cmd/textline/internal"
	"github.com/agencyos/textline/pkg/logger"
	"github.com/agencyos/textline/pkg/trigger"
)

func NewTriggerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Inspect and run automated message triggers",
	}
	cmd.AddCommand(newRunCommand(), newListCommand())
	return cmd
}

func newRunCommand() *cobra.Command {
	var (
		triggerType string
		dateStr     string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run scheduled triggers once and print the report",
		Args:  cobra.NoArgs,
		Example: `  textline trigger run
  textline trigger run --type birthday
  textline trigger run --type billing_reminder --date 2026-04-12`,
		RunE: func(_ *cobra.Command, _ []string) error {
			return run(triggerType, dateStr)
		},
	}

	cmd.Flags().StringVar(&triggerType, "type", "",
		"Run only this trigger type (default: all scheduled types)")
	cmd.Flags().StringVar(&dateStr, "date", "",
		"Evaluate for this day, YYYY-MM-DD (default: today)")
	return cmd
}

func run(triggerType, dateStr string) error {
	cfg, err := internal.LoadConfig()
	if err != nil {
		return err
	}
	if cfg.LogJSON {
		logger.SetJSON(slog.LevelInfo)
	}

	day := time.Now()
	if dateStr != "" {
		day, err = time.Parse("2006-01-02", dateStr)
		if err != nil {
			return fmt.Errorf("bad --date %q: %w", dateStr, err)
		}
	}

	var selected []trigger.Trigger
	for _, t := range trigger.Registry() {
		if triggerType == "" || string(t.Type()) == triggerType {
			selected = append(selected, t)
		}
	}
	if len(selected) == 0 {
		return fmt.Errorf("unknown trigger type %q", triggerType)
	}

	ctx := context.Background()
	app, err := internal.NewApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	var reports []*trigger.RunReport
	for _, t := range selected {
		report, err := app.Runner.Run(ctx, t, day)
		if err != nil {
			return err
		}
		reports = append(reports, report)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(reports)
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List trigger types and their schedules",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			for _, t := range trigger.Registry() {
				fmt.Printf("%-22s %s\n", t.Type(), t.CronSpec())
			}
			fmt.Printf("%-22s %s\n", "welcome", "(event-driven)")
		},
	}
}
