package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"panocompass/internal/config"
	"panocompass/internal/replay"
	"panocompass/internal/web"
)

func main() {
	var configPath string
	var summarizePath string
	flag.StringVar(&configPath, "config", "./dev.yaml", "Path to YAML config")
	flag.StringVar(&summarizePath, "summarize", "", "Print a summary of a recorded sample log and exit")
	flag.Parse()

	if summarizePath != "" {
		recs, err := replay.ReadFile(summarizePath)
		if err != nil {
			log.Fatalf("read sample log: %v", err)
		}
		fmt.Print(summarizeSampleLog(recs).String())
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	logs := web.NewLogBuffer(cfg.Web.LogLines)
	log.SetOutput(io.MultiWriter(os.Stderr, logs))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Printf("panocompass starting")
	log.Printf("web listen=%s source=%s camera=%s", cfg.Web.Listen, cfg.Device.Source, cfg.Camera.Kind)

	rt, err := newService(cfg, configPath, logs)
	if err != nil {
		log.Fatalf("init failed: %v", err)
	}
	defer rt.Close()

	if err := rt.Run(ctx); err != nil {
		log.Printf("panocompass stopped: %v", err)
		os.Exit(1)
	}
	log.Printf("panocompass stopping")
}
