package captcha

import (
	"fmt"
	"net/http"

	"github.com/ohmynofan/b402-claimer/internal/config"
	"github.com/ohmynofan/b402-claimer/internal/platform/logger"
)

var (
	_ Solver = (*TaskSolver)(nil)
	_ Solver = (*SCTG)(nil)
)

// NewFromConfig builds the solver selected by CAPTCHA_PROVIDER.
func NewFromConfig(cfg config.Config, client *http.Client, log *logger.ClassLogger) (Solver, error) {
	switch cfg.CaptchaProvider {
	case config.CaptchaProviderSCTG, "":
		return NewSCTG(cfg.SCTGKey, cfg.SCTGInURL, cfg.SCTGResURL, client, log), nil
	case config.CaptchaProviderTwoCaptcha:
		return NewTwoCaptcha(cfg.TwoCaptchaAPIKey, client, log), nil
	case config.CaptchaProviderCapSolver:
		return NewCapSolver(cfg.CapSolverAPIKey, client, log), nil
	default:
		return nil, fmt.Errorf("unknown captcha provider %q", cfg.CaptchaProvider)
	}
}
