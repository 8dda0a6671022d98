package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ohmynofan/b402-claimer/internal/app"
	"github.com/ohmynofan/b402-claimer/internal/config"
	"github.com/ohmynofan/b402-claimer/internal/domain/model"
	"github.com/ohmynofan/b402-claimer/internal/platform/logger"
	"github.com/ohmynofan/b402-claimer/internal/platform/ui"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	_ = logger.Init(cfg.LogPath)
	ui.StartUISystem()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	status := model.NewStatus()

	code := 0
	summary, err := app.New(cfg, status).RunOnce(ctx)
	if err != nil {
		ui.SetSpinnerError(status.Snapshot(), "Fatal error: "+err.Error())
		code = 1
	} else {
		ui.SetSpinnerSuccess(status.Snapshot(), fmt.Sprintf("Done: %d minted, %d failed", summary.Minted, summary.Failed))
	}

	stop()
	ui.StopUISystem()
	logger.Close()
	os.Exit(code)
}
