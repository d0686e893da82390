package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"bgrefresh/internal/app"
	logx "bgrefresh/pkg/logx"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "path to config json/yaml (defaults when empty)")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	a, err := app.NewApp(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		os.Exit(1)
	}
	log := a.Logger()
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warn("sd_notify ready failed", logx.Err(err))
	} else if ok {
		log.Debug("sd_notify ready sent")
	}

	// SIGUSR1/SIGUSR2 drive the simulated app state; SIGHUP simulates a host launch.
	lifecycle := make(chan os.Signal, 4)
	signal.Notify(lifecycle, syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGHUP)
	defer signal.Stop(lifecycle)

	reason := app.StopUnknown
loop:
	for {
		select {
		case sig := <-shutdown:
			reason = app.StopReasonFor(sig)
			log.Info("shutdown signal received", logx.String("signal", sig.String()))
			cancel()
			break loop
		case <-a.Done():
			reason = app.StopFatalError
			log.Error("app stopped unexpectedly", logx.Err(a.Err()))
			break loop
		case sig := <-lifecycle:
			switch sig {
			case syscall.SIGUSR1:
				a.EnterBackground()
			case syscall.SIGUSR2:
				a.EnterForeground()
			case syscall.SIGHUP:
				id := a.Coordinator().Scheduler.TaskID()
				if err := a.Tasks().Trigger(id); err != nil {
					log.Warn("simulated launch failed", logx.String("task", id), logx.Err(err))
				}
			}
		}
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)
	if reason == app.StopFatalError {
		os.Exit(1)
	}
}
