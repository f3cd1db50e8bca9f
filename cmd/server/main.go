package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	golog "gopkg.in/op/go-logging.v1"

	"chatrelay/internal/config"
	"chatrelay/internal/logging"
	"chatrelay/internal/server"
)

var log = golog.MustGetLogger("main")

func main() {
	cfgPath := flag.String("config", "", "optional TOML configuration file")
	addr := flag.String("addr", "", "listen address override (host:port)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if err := logging.Setup(cfg.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	srv, err := server.New(cfg.StorageDir)
	if err != nil {
		log.Critical("init server: %v", err)
		os.Exit(1)
	}

	// Graceful shutdown on SIGINT / SIGTERM: stop accepting, let in-flight
	// sessions drain on their next read error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Noticef("shutting down…")
		srv.Shutdown()
	}()

	listen := cfg.ListenAddr()
	if *addr != "" {
		listen = *addr
	}
	if err := srv.ListenAndServe(listen); err != nil {
		log.Critical("server stopped: %v", err)
		os.Exit(1)
	}
}
