package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ericogr/templog/pkg/config"
	"github.com/ericogr/templog/pkg/history"
	"github.com/ericogr/templog/pkg/output"
	"github.com/ericogr/templog/pkg/output/console"
	"github.com/ericogr/templog/pkg/output/csvlog"
	"github.com/ericogr/templog/pkg/output/mqtt"
	"github.com/ericogr/templog/pkg/sampler"
	"github.com/ericogr/templog/pkg/sensor"
	"github.com/google/uuid"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
)

// chartWidth is the number of most recent points drawn per channel.
const chartWidth = 60

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var flags config.Flags
	cmd := &cobra.Command{
		Use:   "templog",
		Short: "Log a multi-channel thermometer to CSV",
		Long: "templog samples every enabled channel of the instrument once per sample period,\n" +
			"keeps the most recent history-window of rounds in memory for the live chart\n" +
			"and appends every round to <log-dir>/<log-name>" + config.LogFileExtension + ".\n" +
			"It runs until interrupted.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.Load(cmd.Flags())
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "config:", err)
				return err
			}
			log := newLogger(cfg.LogLevel, cmd.ErrOrStderr())

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := run(ctx, cfg, cmd.InOrStdin(), cmd.OutOrStdout(), log); err != nil {
				log.Error("templog stopped", "error", err)
				return err
			}
			return nil
		},
	}
	flags.Register(cmd.Flags())
	return cmd
}

func newLogger(level string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(tint.NewHandler(w, &tint.Options{Level: lvl, TimeFormat: time.DateTime}))
}

// run wires one sampling session and blocks until ctx is cancelled or the
// session fails.
func run(ctx context.Context, cfg config.Config, in io.Reader, out io.Writer, log *slog.Logger) error {
	runID := uuid.New()
	log = log.With("run", runID.String()[:8])
	channels := cfg.EnabledChannels()

	inst, err := newInstrument(cfg, log)
	if err != nil {
		return err
	}
	defer inst.Close()

	if err := sampler.Probe(ctx, inst, channels, log); err != nil {
		return err
	}

	writer, err := openDataLog(cfg, channels, in, out, log)
	if err != nil {
		return err
	}
	defer writer.Close()

	hist, err := history.New(channels, cfg.HistoryCapacity())
	if err != nil {
		return err
	}

	outs, err := initOutputs(cfg, channels, runID, out, log)
	if err != nil {
		return err
	}
	defer func() {
		for _, o := range outs {
			_ = o.Close()
		}
	}()

	var renderers []output.Renderer
	if cfg.Render {
		renderers = append(renderers, console.NewChart(out, chartWidth))
	}

	session, err := sampler.NewSession(sampler.Options{
		Instrument:           inst,
		Channels:             channels,
		History:              hist,
		Persistence:          writer,
		Outputs:              outs,
		Renderers:            renderers,
		Period:               cfg.SamplePeriod.D(),
		MaxConsecutiveMisses: cfg.MaxConsecutiveMisses,
		Logger:               log,
	})
	if err != nil {
		return err
	}
	return session.Run(ctx)
}

func newInstrument(cfg config.Config, log *slog.Logger) (sensor.Instrument, error) {
	switch cfg.SensorType {
	case config.SensorHart1560:
		return sensor.ConnectHart(cfg, log)
	case config.SensorADS1115:
		return sensor.NewADS1115(cfg)
	case config.SensorSimulation:
		log.Info("using simulated instrument")
		return sensor.NewFake(cfg), nil
	}
	return nil, fmt.Errorf("unknown sensor type %q", cfg.SensorType)
}

// openDataLog resolves the log path, asking on in/out when the mode is
// prompt, and opens the writer.
func openDataLog(cfg config.Config, channels []int, in io.Reader, out io.Writer, log *slog.Logger) (*csvlog.Writer, error) {
	var (
		path string
		mode csvlog.Mode
		err  error
	)
	if cfg.LogFile.Mode == config.LogModePrompt {
		path, mode, err = csvlog.Choose(in, out, cfg.LogFile.Dir)
	} else {
		path = cfg.LogFilePath()
		mode, err = csvlog.ParseMode(cfg.LogFile.Mode)
	}
	if err != nil {
		return nil, err
	}
	return csvlog.Open(path, mode, channels, log)
}

func initOutputs(cfg config.Config, channels []int, runID uuid.UUID, w io.Writer, log *slog.Logger) ([]output.Output, error) {
	entries := make([]output.Output, 0, len(cfg.Outputs))
	for _, oc := range cfg.Outputs {
		switch oc.Type {
		case "console":
			entries = append(entries, console.NewConsoleWriter(w))
		case "mqtt":
			mc := config.MQTTConfig{}
			if oc.MQTT != nil {
				mc = *oc.MQTT
			}
			if mc.ClientID == "" {
				mc.ClientID = "templog-" + runID.String()[:8]
			}
			o, err := mqtt.NewMQTT(mc, channels, log)
			if err != nil {
				for _, e := range entries {
					_ = e.Close()
				}
				return nil, err
			}
			entries = append(entries, o)
		default:
			return nil, fmt.Errorf("unknown output type %q", oc.Type)
		}
	}
	return entries, nil
}
