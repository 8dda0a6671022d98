package claim

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/ohmynofan/b402-claimer/internal/adapters/captcha"
	adhttp "github.com/ohmynofan/b402-claimer/internal/adapters/http"
	"github.com/ohmynofan/b402-claimer/internal/domain/model"
	"github.com/ohmynofan/b402-claimer/internal/platform/logger"
)

type SessionConfig struct {
	APIBase  string
	ClientID string
	SiteKey  string
	PageURL  string
}

type challengeRequest struct {
	WalletType     string `json:"walletType"`
	WalletAddress  string `json:"walletAddress"`
	ClientID       string `json:"clientId"`
	LID            string `json:"lid"`
	Signature      string `json:"signature,omitempty"`
	TurnstileToken string `json:"turnstileToken"`
}

type challengeResponse struct {
	Message string `json:"message"`
}

type verifyResponse struct {
	JWT   string `json:"jwt"`
	Token string `json:"token"`
}

// SessionManager owns the process-wide bearer credential.
type SessionManager struct {
	cfg    SessionConfig
	api    API
	solver captcha.Solver
	wallet Wallet
	status *model.Status
	log    *logger.ClassLogger

	now    func() time.Time
	newLID func() string

	mu      sync.Mutex
	session *model.Session
	state   model.SessionState
}

func NewSessionManager(cfg SessionConfig, api API, solver captcha.Solver, wallet Wallet, status *model.Status) *SessionManager {
	m := &SessionManager{
		cfg:    cfg,
		api:    api,
		solver: solver,
		wallet: wallet,
		status: status,
		now:    time.Now,
		newLID: uuid.NewString,
		state:  model.SessionNone,
	}
	m.log = logger.NewLogger(m, status)
	return m
}

// Ensure returns the cached credential, logging in when there is none or the
// cached one has already expired.
func (m *SessionManager) Ensure(ctx context.Context) (string, error) {
	m.mu.Lock()
	s := m.session
	m.mu.Unlock()
	if s.Valid(m.now()) {
		return s.Token, nil
	}
	if s != nil {
		m.log.Log("[AUTH] Cached session expired, logging in again...")
		m.Invalidate()
	}
	return m.Login(ctx)
}

// Login runs captcha, challenge, signature and verify, then caches the
// resulting credential.
func (m *SessionManager) Login(ctx context.Context) (string, error) {
	scope := "[Login] Error :"
	address := m.wallet.Address().Hex()

	m.setState(model.SessionSolving)
	m.log.Log("[AUTH] Solving Turnstile...")
	turnstile, err := m.solver.SolveTurnstile(ctx, m.cfg.SiteKey, m.cfg.PageURL)
	if err != nil {
		m.setState(model.SessionNone)
		return "", fmt.Errorf("%s captcha: %w", scope, err)
	}

	m.setState(model.SessionChallenging)
	lid := m.newLID()
	req := challengeRequest{
		WalletType:     walletTypeEVM,
		WalletAddress:  address,
		ClientID:       m.cfg.ClientID,
		LID:            lid,
		TurnstileToken: turnstile,
	}

	m.log.Log("[AUTH] Requesting challenge...")
	var challenge challengeResponse
	if err := m.post(ctx, "/auth/web3/challenge", req, &challenge); err != nil {
		m.setState(model.SessionNone)
		return "", fmt.Errorf("%s challenge: %w", scope, err)
	}
	if strings.TrimSpace(challenge.Message) == "" {
		m.setState(model.SessionNone)
		return "", fmt.Errorf("%s challenge response has no message", scope)
	}

	signature, err := m.wallet.SignMessage(challenge.Message)
	if err != nil {
		m.setState(model.SessionNone)
		return "", fmt.Errorf("%s %w", scope, err)
	}

	req.Signature = signature
	m.log.Log("[AUTH] Verifying signature...")
	var verified verifyResponse
	if err := m.post(ctx, "/auth/web3/verify", req, &verified); err != nil {
		m.setState(model.SessionNone)
		return "", fmt.Errorf("%s verify: %w", scope, err)
	}

	token := verified.JWT
	if token == "" {
		token = verified.Token
	}
	if token == "" {
		m.setState(model.SessionNone)
		return "", fmt.Errorf("%s verify response has no credential", scope)
	}

	session := &model.Session{
		Token:      token,
		AcquiredAt: m.now(),
		ExpiresAt:  tokenExpiry(token),
	}
	m.mu.Lock()
	m.session = session
	m.mu.Unlock()
	m.setState(model.SessionVerified)
	m.log.Log("[AUTH] Logged in!")
	return token, nil
}

// Invalidate drops the cached credential.
func (m *SessionManager) Invalidate() {
	m.mu.Lock()
	m.session = nil
	m.mu.Unlock()
	m.setState(model.SessionNone)
}

func (m *SessionManager) State() model.SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *SessionManager) setState(state model.SessionState) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
	m.status.Update(func(v *model.StatusView) { v.SessionState = state })
}

func (m *SessionManager) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	raw, err := m.api.Fetch(ctx, m.cfg.APIBase+path, &adhttp.FetchOptions{
		Method: "POST",
		Body:   body,
	})
	if err != nil {
		return err
	}
	return adhttp.DecodeInto(raw, out)
}

// tokenExpiry reads the exp claim without verifying the signature. Opaque
// credentials yield the zero time.
func tokenExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	switch exp := claims["exp"].(type) {
	case float64:
		return time.Unix(int64(exp), 0)
	case int64:
		return time.Unix(exp, 0)
	}
	return time.Time{}
}
