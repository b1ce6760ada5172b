package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"

	"cronbot/internal/app"
	"cronbot/plugins/chat"
	"cronbot/plugins/confronts"
	"cronbot/plugins/cron"
	"cronbot/plugins/phrases"
	"cronbot/plugins/remind"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config file (yaml or json)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	a.Register(
		cron.New(),
		remind.New(),
		phrases.New(),
		confronts.New(),
		chat.New(),
	)

	if err := a.Start(ctx); err != nil {
		fmt.Println("fatal start:", err)
		os.Exit(1)
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	<-a.Done()

	reason := app.StopAppStop
	if ctx.Err() != nil {
		reason = app.StopSIGTERM
	} else if a.Err() != nil {
		reason = app.StopFatalError
		fmt.Println("fatal:", a.Err())
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	_ = a.Stop(context.Background(), reason)

	if reason == app.StopFatalError {
		os.Exit(1)
	}
}
