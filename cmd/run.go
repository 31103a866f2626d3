package cmd

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/realtime-draw-watcher/internal/dispatcher"
	"github.com/JakeFAU/realtime-draw-watcher/internal/draw"
)

type runOptions struct {
	family  string
	date    string
	regions []string
	frames  string
}

func newRunCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Runs one session in the foreground and prints its result",
		Long: `Runs a single session for a family and draw date until it completes,
times out or is interrupted, then prints the session result as JSON.
With --frames the configured extractor is replaced by recorded frames,
which makes a dry run of the whole pipeline.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSession(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.family, "family", "", "draw family name or code (north, central, south)")
	cmd.Flags().StringVar(&opts.date, "date", "", "draw date (dd-mm-yyyy or yyyy-mm-dd); defaults to today in the family time zone")
	cmd.Flags().StringSliceVar(&opts.regions, "region", nil, "restrict a multi-region family to these regions (repeatable)")
	cmd.Flags().StringVar(&opts.frames, "frames", "", "replay recorded frames from this YAML file")
	_ = cmd.MarkFlagRequired("family")
	return cmd
}

func runSession(cmd *cobra.Command, opts runOptions) error {
	cfg, err := resolveConfig(cmd.Context())
	if err != nil {
		return err
	}
	f, _, err := cfg.Family(opts.family)
	if err != nil {
		return err
	}
	req := dispatcher.Request{Family: f.Name, Regions: opts.regions}
	if opts.date != "" {
		req.Date, err = draw.ParseDate(opts.date, f.Location)
		if err != nil {
			return err
		}
	}

	app, err := buildApp(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}
	defer func() { _ = app.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	res, runErr := app.RunOnce(ctx, req, opts.frames)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return runErr
}
