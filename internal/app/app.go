package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ohmynofan/b402-claimer/internal/adapters/captcha"
	"github.com/ohmynofan/b402-claimer/internal/adapters/chain"
	adhttp "github.com/ohmynofan/b402-claimer/internal/adapters/http"
	"github.com/ohmynofan/b402-claimer/internal/app/claim"
	"github.com/ohmynofan/b402-claimer/internal/app/watch"
	"github.com/ohmynofan/b402-claimer/internal/config"
	"github.com/ohmynofan/b402-claimer/internal/domain/model"
	"github.com/ohmynofan/b402-claimer/internal/platform/logger"
	"github.com/ohmynofan/b402-claimer/internal/platform/metrics"
	"github.com/ohmynofan/b402-claimer/internal/storage/claimlog"
)

// App wires the shared components for both entrypoints.
type App struct {
	cfg     config.Config
	status  *model.Status
	metrics *metrics.Recorder
	log     *logger.ClassLogger

	ec       *chain.EthersClient
	journal  *claimlog.Store
	sessions *claim.SessionManager
	orch     *claim.Orchestrator
}

func New(cfg config.Config, status *model.Status) *App {
	a := &App{cfg: cfg, status: status, metrics: metrics.New()}
	a.log = logger.NewLogger(a, status)
	return a
}

func (a *App) setup(ctx context.Context) error {
	cfg := a.cfg

	api, err := adhttp.NewAPIClient(adhttp.ClientOptions{
		Proxy:   cfg.Proxy,
		Origin:  originOf(cfg.CaptchaPageURL),
		Timeout: cfg.HTTPTimeout,
	}, a.status)
	if err != nil {
		return err
	}

	journal, err := claimlog.NewStore(cfg.JournalPath)
	if err != nil {
		return fmt.Errorf("claim journal: %w", err)
	}
	a.journal = journal

	rpcHTTP := &http.Client{Transport: api.HTTPClient.Transport}
	ec, err := chain.Connect(ctx, cfg.Network, cfg.RPCCandidates(), rpcHTTP, a.status)
	if err != nil {
		return err
	}
	a.ec = ec

	if err := ec.ConnectWallet(cfg.PrivateKey); err != nil {
		return err
	}
	if err := ec.RefreshBalance(ctx); err != nil {
		a.log.Log(fmt.Sprintf("Balance unavailable: %v", err))
	}

	solver, err := captcha.NewFromConfig(cfg, api.HTTPClient, logger.NewNamed("Captcha", a.status))
	if err != nil {
		return err
	}

	a.sessions = claim.NewSessionManager(claim.SessionConfig{
		APIBase:  cfg.APIBase,
		ClientID: cfg.ClientID,
		SiteKey:  cfg.TurnstileSiteKey,
		PageURL:  cfg.CaptchaPageURL,
	}, api, solver, ec, a.status)

	steps := claim.Steps{
		Sessions: a.sessions,
		Approver: claim.NewApprover(ec, common.HexToAddress(cfg.Token), common.HexToAddress(cfg.Relayer), a.status),
		Prober:   claim.NewProber(api, cfg.APIBase, cfg.Recipient, cfg.TokenDecimals, a.status),
		Builder: claim.NewBuilder(claim.BuilderConfig{
			Token:         cfg.Token,
			Recipient:     cfg.Recipient,
			DomainName:    cfg.PaymentDomainName,
			DomainVersion: cfg.PaymentDomainVersion,
		}, ec, ec, a.metrics, a.status),
		Blaster: claim.NewBlaster(api, cfg.APIBase, cfg.Recipient, cfg.Token, cfg.Network, a.metrics, a.status),
	}
	a.orch = claim.NewOrchestrator(steps, cfg.MintCount, journal, a.metrics, a.status)
	return nil
}

func (a *App) serveMetrics(ctx context.Context) {
	if a.cfg.MetricsAddr == "" {
		return
	}
	go func() {
		a.log.JustLog("Serving metrics on " + a.cfg.MetricsAddr)
		if err := a.metrics.Serve(ctx, a.cfg.MetricsAddr); err != nil {
			a.log.Log(fmt.Sprintf("Metrics server stopped: %v", err))
		}
	}()
}

// RunWatcher logs in once, then watches for distributions until ctx is done.
func (a *App) RunWatcher(ctx context.Context) error {
	defer a.close()
	if err := a.setup(ctx); err != nil {
		return err
	}
	a.serveMetrics(ctx)

	a.log.Log("Watcher armed - waiting for dev distribution...")
	if _, err := a.sessions.Login(ctx); err != nil {
		return err
	}

	w := watch.NewWatcher(a.ec, a.orch, watch.NewState(a.cfg.WatchAddresses), watch.Options{
		Window: time.Duration(a.cfg.WatchWindow) * time.Second,
	}, a.metrics, a.status)

	err := w.Run(ctx)
	if errors.Is(err, context.Canceled) {
		a.log.Log("Watcher stopped")
		return nil
	}
	return err
}

// RunOnce runs a single claim flow and reports the journal summary.
func (a *App) RunOnce(ctx context.Context) (claimlog.Summary, error) {
	defer a.close()
	if err := a.setup(ctx); err != nil {
		return claimlog.Summary{}, err
	}
	a.serveMetrics(ctx)

	_, runErr := a.orch.Run(ctx, "manual")

	summary, err := a.journal.Summary(context.Background())
	if err != nil {
		a.log.JustLog(fmt.Sprintf("journal summary: %v", err))
	}
	if runErr != nil {
		return summary, runErr
	}
	a.log.Log(fmt.Sprintf("Done: %d minted, %d failed over %d attempt(s)", summary.Minted, summary.Failed, summary.Attempts))
	return summary, nil
}

func (a *App) close() {
	if a.ec != nil {
		a.ec.Close()
	}
	if a.journal != nil {
		_ = a.journal.Close()
	}
}

func originOf(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
