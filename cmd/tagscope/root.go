package main

import (
	"fmt"
	"path/filepath"

	"emperror.dev/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Resinat/Tagscope/internal/buildinfo"
	"github.com/Resinat/Tagscope/internal/config"
	"github.com/Resinat/Tagscope/internal/device"
	"github.com/Resinat/Tagscope/internal/render"
	"github.com/Resinat/Tagscope/internal/service"
	"github.com/Resinat/Tagscope/internal/session"
	"github.com/Resinat/Tagscope/internal/store"
)

// DBName is the run database file under state_dir.
const DBName = "tagscope.db"

type rootOptions struct {
	configPath string
	logLevel   string
	noStore    bool

	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "tagscope",
		Short:         "Time tagger measurement harness",
		Long:          `tagscope reads coincidence counters from a time tagger, plots live count rates, sweeps coincidence windows and captures g2 correlation functions.`,
		Version:       buildinfo.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			level := cfg.LogLevel
			if cmd.Flags().Changed("log-level") {
				level = opts.logLevel
			}
			lvl, err := log.ParseLevel(level)
			if err != nil {
				return fmt.Errorf("invalid log level: %w", err)
			}
			log.SetLevel(lvl)
			if cfg.Source != "" {
				log.WithField("path", cfg.Source).Debug("config loaded")
			}
			opts.cfg = cfg
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Config file (default: tagscope.{yaml,toml,json} in /etc/tagscope or the working directory)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "Log level. One of debug, info, warn, error, fatal, panic.")
	cmd.PersistentFlags().BoolVar(&opts.noStore, "no-store", false, "Do not record runs in the state database")

	cmd.AddCommand(
		newInfoCmd(opts),
		newLiveCmd(opts),
		newAcquireCmd(opts),
		newSweepCmd(opts),
		newHBTCmd(opts),
		newHg2Cmd(opts),
		newServeCmd(opts),
	)
	return cmd
}

// app is the wired device, session, store and harness of one command.
type app struct {
	cfg     *config.Config
	sess    *session.Session
	store   *store.Store
	harness *service.Harness
	chart   render.ChartRenderer
}

func openApp(opts *rootOptions) (*app, error) {
	cfg := opts.cfg
	if cfg == nil {
		return nil, errors.New("config not loaded")
	}
	dev, err := device.Open(cfg.Device, device.SimulatorOptions{Seed: cfg.SimSeed})
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:  cfg,
		sess: session.New(dev, session.Options{}),
		chart: render.ChartRenderer{
			Width:  cfg.ChartWidth,
			Height: cfg.ChartHeight,
			Dir:    cfg.ExportDir,
		},
	}
	if !opts.noStore {
		a.store, err = store.Open(filepath.Join(cfg.StateDir, DBName))
		if err != nil {
			_ = a.sess.Close()
			return nil, err
		}
	}
	a.harness = service.NewHarness(service.Config{
		Session:   a.sess,
		Store:     a.store,
		ExportDir: cfg.ExportDir,
		Chart:     a.chart,
		Hg2:       hg2Params(cfg),
	})
	return a, nil
}

func (a *app) Close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	errs = append(errs, a.sess.Close())
	return errors.Combine(errs...)
}

func hg2Params(cfg *config.Config) session.Hg2Params {
	return session.Hg2Params{
		Idler:    cfg.Hg2Idler,
		Channel1: cfg.Hg2Channel1,
		Channel2: cfg.Hg2Channel2,
		BinWidth: cfg.Hg2BinWidth,
		BinCount: cfg.Hg2BinCount,
		Wait:     cfg.Hg2Wait,
	}
}

func liveConfig(cfg *config.Config) session.LiveConfig {
	return session.LiveConfig{
		Name:         session.DefaultLiveName,
		Channels:     cfg.LiveChannels,
		Capacity:     cfg.WindowCapacity,
		PollInterval: cfg.PollInterval,
	}
}
