package cmd

import (
	"io"
	"os"

	"github.com/productdevbook/lsprobe/internal/config"
	"github.com/productdevbook/lsprobe/internal/discovery"
	"github.com/productdevbook/lsprobe/internal/logging"
	"github.com/productdevbook/lsprobe/internal/platform"
	"github.com/sirupsen/logrus"
)

// app is the wiring shared by every command.
type app struct {
	cfg      *config.Config
	logger   *logrus.Logger
	closer   io.Closer
	platform *platform.Detector
	detector *discovery.Detector
}

func newApp(console io.Writer) (*app, error) {
	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return nil, err
	}

	logger, closer, err := logging.New(cfg.Log, console)
	if err != nil {
		return nil, err
	}

	lang := platform.MatchLanguage(cfg.Language, os.Getenv("LC_ALL"), os.Getenv("LANG"))
	p := platform.Host(lang)
	if cfg.ProcessName != "" {
		p.WithProcessName(cfg.ProcessName)
	}

	det := discovery.New(p, discovery.Options{
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})

	return &app{cfg: cfg, logger: logger, closer: closer, platform: p, detector: det}, nil
}

func (a *app) Close() error {
	return a.closer.Close()
}
