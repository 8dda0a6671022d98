package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ohmynofan/b402-claimer/internal/domain/model"
	"github.com/pterm/pterm"
)

var (
	multi   *pterm.MultiPrinter
	spinner *pterm.SpinnerPrinter
	mu      sync.Mutex
)

func StartUISystem() {
	m, _ := pterm.DefaultMultiPrinter.Start()
	multi = m
}

func StopUISystem() {
	mu.Lock()
	defer mu.Unlock()
	if spinner != nil {
		_ = spinner.Stop()
	}
	if multi != nil {
		_, _ = multi.Stop()
	}
}

// UpdateStatus redraws the panel. It is a no-op until StartUISystem runs.
func UpdateStatus(view model.StatusView, status string, remainingDelay time.Duration) {
	mu.Lock()
	defer mu.Unlock()

	if multi == nil {
		return
	}

	balance := ""
	if view.Balance != "" {
		balance = fmt.Sprintf("\nBalance       : %s", view.Balance)
	}

	content := fmt.Sprintf(`
================ B402 Claimer ================
Address       : %s%s
Endpoint      : %s (chain %d)

Session       : %s
Approval      : %s
Watcher       : %s - block %d

Attempts      : %d
Minted        : %d
Failed        : %d

Status   : %s
Delay    : %s
==============================================`,
		view.Address,
		balance,
		defaultString(view.Endpoint, "-"),
		view.ChainID,
		defaultString(string(view.SessionState), string(model.SessionNone)),
		defaultString(view.Approval, "WAITING"),
		defaultString(view.WatchState, "IDLE"),
		view.LastBlock,
		view.Attempts,
		view.Minted,
		view.Failed,
		status,
		FormatDelay(remainingDelay))

	if spinner != nil {
		spinner.UpdateText(content)
		return
	}
	spinner, _ = pterm.DefaultSpinner.
		WithWriter(multi.NewWriter()).
		WithRemoveWhenDone(false).
		Start(content)
}

func SetSpinnerSuccess(view model.StatusView, finalMessage string) {
	UpdateStatus(view, finalMessage, 0)
	mu.Lock()
	defer mu.Unlock()
	if spinner != nil {
		spinner.Success()
	}
}

func SetSpinnerError(view model.StatusView, finalMessage string) {
	UpdateStatus(view, finalMessage, 0)
	mu.Lock()
	defer mu.Unlock()
	if spinner != nil {
		spinner.Fail()
	}
}

func FormatDelay(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d H %02d M %02d S", h, m, s)
}

func defaultString(val, fallback string) string {
	if strings.TrimSpace(val) == "" {
		return fallback
	}
	return val
}
