package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/ohmynofan/b402-claimer/pkg/utils"
)

const (
	CaptchaProviderSCTG       = "sctg"
	CaptchaProviderTwoCaptcha = "2captcha"
	CaptchaProviderCapSolver  = "capsolver"

	defaultCaptchaPageURL = "https://www.b402.ai/experience-b402"
	defaultSCTGInURL      = "https://api.sctg.xyz/in.php"
	defaultSCTGResURL     = "https://api.sctg.xyz/res.php"
	defaultWatchWindow    = 15
	defaultMintCount      = 500
	defaultHTTPTimeout    = 0
	defaultTokenDecimals  = 18
)

var defaultWatchAddresses = []string{
	"0x39dcdd14a0c40e19cd8c892fd00e9e7963cd49d3",
	"0xafcD15f17D042eE3dB94CdF6530A97bf32A74E02",
}

type Config struct {
	PrivateKey string `validate:"required"`
	APIBase    string `validate:"required,url"`
	ClientID   string `validate:"required"`
	Recipient  string `validate:"required,eth_addr"`
	Relayer    string `validate:"required,eth_addr"`
	Token      string `validate:"required,eth_addr"`

	TokenDecimals int `validate:"gte=0,lte=77"`

	TurnstileSiteKey string `validate:"required"`
	CaptchaPageURL   string `validate:"required,url"`
	CaptchaProvider  string `validate:"oneof=sctg 2captcha capsolver"`
	SCTGKey          string
	SCTGInURL        string `validate:"required,url"`
	SCTGResURL       string `validate:"required,url"`
	TwoCaptchaAPIKey string
	CapSolverAPIKey  string

	RPC          string
	RPCFallbacks string
	Network      Network

	WatchAddresses []string `validate:"min=1,dive,eth_addr"`
	WatchWindow    int      `validate:"gte=0"`
	MintCount      int      `validate:"gte=1"`

	PaymentDomainName    string `validate:"required"`
	PaymentDomainVersion string `validate:"required"`

	Proxy       string `validate:"omitempty,url"`
	HTTPTimeout time.Duration
	MetricsAddr string
	JournalPath string
	LogPath     string
}

func Load() Config {
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found, using process environment")
	}

	watch := splitList(os.Getenv("WATCH_ADDRESSES"))
	if len(watch) == 0 {
		watch = append([]string(nil), defaultWatchAddresses...)
	}

	return Config{
		PrivateKey: strings.TrimSpace(os.Getenv("PRIVATE_KEY")),
		APIBase:    strings.TrimRight(strings.TrimSpace(os.Getenv("API_BASE")), "/"),
		ClientID:   strings.TrimSpace(os.Getenv("CLIENT_ID")),
		Recipient:  strings.TrimSpace(os.Getenv("RECIPIENT")),
		Relayer:    strings.TrimSpace(os.Getenv("RELAYER")),
		Token:      strings.TrimSpace(os.Getenv("TOKEN")),

		TokenDecimals: parseIntWithDefault(os.Getenv("TOKEN_DECIMALS"), defaultTokenDecimals),

		TurnstileSiteKey: strings.TrimSpace(os.Getenv("TURNSTILE_SITEKEY")),
		CaptchaPageURL:   envOrDefault("CAPTCHA_PAGE_URL", defaultCaptchaPageURL),
		CaptchaProvider:  strings.ToLower(envOrDefault("CAPTCHA_PROVIDER", CaptchaProviderSCTG)),
		SCTGKey:          strings.TrimSpace(os.Getenv("SCTG_KEY")),
		SCTGInURL:        envOrDefault("SCTG_IN_URL", defaultSCTGInURL),
		SCTGResURL:       envOrDefault("SCTG_RES_URL", defaultSCTGResURL),
		TwoCaptchaAPIKey: strings.TrimSpace(os.Getenv("TWO_CAPTCHA_API_KEY")),
		CapSolverAPIKey:  strings.TrimSpace(os.Getenv("CAPSOLVER_API_KEY")),

		RPC:          strings.TrimSpace(os.Getenv("RPC")),
		RPCFallbacks: os.Getenv("RPC_FALLBACKS"),
		Network:      BNBSmartChain,

		WatchAddresses: watch,
		WatchWindow:    parseIntWithDefault(os.Getenv("WATCH_WINDOW"), defaultWatchWindow),
		MintCount:      parseIntWithDefault(os.Getenv("MINT_COUNT"), defaultMintCount),

		PaymentDomainName:    envOrDefault("PAYMENT_DOMAIN_NAME", "B402"),
		PaymentDomainVersion: envOrDefault("PAYMENT_DOMAIN_VERSION", "1"),

		Proxy:       firstEnv("PROXY", "HTTPS_PROXY", "HTTP_PROXY", "ALL_PROXY"),
		HTTPTimeout: time.Duration(parseIntWithDefault(os.Getenv("HTTP_TIMEOUT_SECONDS"), defaultHTTPTimeout)) * time.Second,
		MetricsAddr: strings.TrimSpace(os.Getenv("METRICS_ADDR")),
		JournalPath: envOrDefault("CLAIM_JOURNAL_PATH", ":memory:"),
		LogPath:     envOrDefault("LOG_PATH", "logs/app.log"),
	}
}

func envOrDefault(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	return ""
}

func splitList(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func parseIntWithDefault(value string, defaultVal int) int {
	value = strings.TrimSpace(value)
	if value == "" {
		return defaultVal
	}
	if v, err := strconv.Atoi(value); err == nil && v >= 0 {
		return v
	}
	return defaultVal
}

func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if utils.DetermineType(c.PrivateKey) == "Unknown" {
		return errors.New("invalid configuration: PRIVATE_KEY must be a hex private key or a BIP-39 secret phrase")
	}

	switch c.CaptchaProvider {
	case CaptchaProviderSCTG:
		if c.SCTGKey == "" {
			return errors.New("SCTG_KEY env var is required to solve CAPTCHA with SCTG")
		}
	case CaptchaProviderTwoCaptcha:
		if c.TwoCaptchaAPIKey == "" {
			return errors.New("TWO_CAPTCHA_API_KEY env var is required to solve CAPTCHA with 2Captcha")
		}
	case CaptchaProviderCapSolver:
		if c.CapSolverAPIKey == "" {
			return errors.New("CAPSOLVER_API_KEY env var is required to solve CAPTCHA with CapSolver")
		}
	}
	return nil
}

// RPCCandidates returns the ordered, de-duplicated endpoint list: RPC first,
// then RPC_FALLBACKS, then the network's built-in endpoints.
func (c Config) RPCCandidates() []string {
	list := make([]string, 0, 1+len(c.Network.RPCCandidates))
	if rpc := strings.TrimSpace(c.RPC); rpc != "" {
		list = append(list, rpc)
	}
	list = append(list, splitList(c.RPCFallbacks)...)
	list = append(list, c.Network.RPCCandidates...)

	seen := make(map[string]struct{}, len(list))
	out := make([]string, 0, len(list))
	for _, item := range list {
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}
