package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"qwcat/api"
	"qwcat/config"
	"qwcat/ffmpeg"
	"qwcat/gateway"
	"qwcat/task"
	"qwcat/tempdir"
)

// serverStarted is printed once on stdout so the desktop shell can learn
// the gateway address and control token.
type serverStarted struct {
	Event string `json:"event"`
	Port  int    `json:"port"`
	Token string `json:"token,omitempty"`
}

func run(ctx context.Context, cfg *config.Config, log *logrus.Logger, file string, stdout io.Writer) error {
	gin.SetMode(gin.ReleaseMode)

	allow := gateway.NewAllowList()
	tools := &ffmpeg.Tools{
		Dir:             cfg.ToolsDir,
		FFmpegOverride:  cfg.FFBin,
		FFprobeOverride: cfg.FFProbeBin,
	}
	runner, err := ffmpeg.NewRunner(cfg, tools, allow, log)
	if err != nil {
		return fmt.Errorf("failed to initialize ffmpeg runner: %w", err)
	}

	hub := api.NewHub(cfg.AllowedOrigins, log)
	tasks := task.NewManager(runner, hub, log)
	server := gateway.NewServer(cfg, allow, log)
	handler := api.NewHandler(tasks, allow, runner.Prober(), server, hub, log)
	api.RegisterRoutes(server.Engine(), handler, cfg)
	janitor := tempdir.NewJanitor(cfg.TempDir, cfg.TempFileLifetime, log)

	if err := server.Listen(); err != nil {
		return err
	}
	port, _ := server.Port()
	log.Infof("Integrated server listening at %s", server.BaseURL())
	announce := serverStarted{Event: api.EventServerStarted, Port: port}
	if cfg.AuthEnable {
		announce.Token = cfg.AuthKey
	}
	if err := json.NewEncoder(stdout).Encode(announce); err != nil {
		return fmt.Errorf("announce port: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return tasks.Run(gctx) })
	g.Go(func() error { return server.Serve(gctx) })
	g.Go(func() error { return hub.Run(gctx) })
	g.Go(func() error { return janitor.Run(gctx) })

	tasks.EnqueueDownloadTool()

	if file != "" {
		log.Infof("Provided cli file: %s", file)
		if _, err := handler.SelectFile(gctx, file); err != nil {
			log.WithError(err).Error("Failed to select video file from cli args")
		}
	}

	err = g.Wait()
	log.Info("Server exiting")
	return err
}
