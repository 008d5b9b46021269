package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/0bVdnt/xrvideo/internal/config"
	"github.com/0bVdnt/xrvideo/internal/logger"
	"github.com/0bVdnt/xrvideo/internal/metrics"
	"github.com/0bVdnt/xrvideo/internal/player"
	"github.com/0bVdnt/xrvideo/internal/status"
	"github.com/0bVdnt/xrvideo/internal/xrvideo"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML configuration file")
	statusAddr := flag.String("status", "", "Status server address, overrides status.addr")
	logPath := flag.String("log", "", "Log file, overrides log.path")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: xrplay [flags] <video.xrv>\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(flag.Arg(0), *configPath, *statusAddr, *logPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(videoPath, configPath, statusAddr, logPath string) error {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return err
		}
	}
	if statusAddr != "" {
		cfg.Status.Addr = statusAddr
	}
	if logPath != "" {
		cfg.Log.Path = logPath
	}

	log, err := logger.New(cfg.Log.Path, cfg.Log.Level)
	if err != nil {
		return err
	}
	defer log.Sync()

	for _, w := range cfg.Validate() {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", w)
		log.Warn("config", zap.String("warning", w))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	met := metrics.New("xrvideo", reg)

	video := xrvideo.New(xrvideo.Options{Config: cfg, Logger: log, Metrics: met})
	defer video.Close()

	if err := video.Load(videoPath); err != nil {
		return err
	}

	if cfg.Status.Addr != "" {
		fingerprint, err := cfg.Fingerprint()
		if err != nil {
			return err
		}
		srv := status.New(video, status.Options{
			Gatherer:    reg,
			Metrics:     met,
			Fingerprint: fingerprint,
			Logger:      log,
		})
		if err := srv.Start(cfg.Status.Addr); err != nil {
			return err
		}
		defer srv.Close()
	}

	p, err := player.New(player.Config{Video: video, Logger: log})
	if err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info("received signal", zap.Stringer("signal", sig))
		p.Stop()
	}()

	log.Info("starting player", zap.String("video", videoPath), zap.String("config", configPath))
	p.Run()
	log.Info("player stopped")
	return nil
}
