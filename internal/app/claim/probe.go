package claim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	adhttp "github.com/ohmynofan/b402-claimer/internal/adapters/http"
	"github.com/ohmynofan/b402-claimer/internal/domain/model"
	"github.com/ohmynofan/b402-claimer/internal/platform/logger"
	"github.com/ohmynofan/b402-claimer/pkg/utils"
)

var ErrRequirementNotObtained = errors.New("cannot obtain payment requirement: faucet drip did not return 402")

const dripPath = "/faucet/drip"

type dripProbeRequest struct {
	RecipientAddress string `json:"recipientAddress"`
}

type paymentRequiredBody struct {
	PaymentRequirements *struct {
		Amount          json.Number `json:"amount"`
		Network         string      `json:"network"`
		RelayerContract string      `json:"relayerContract"`
	} `json:"paymentRequirements"`
}

// Prober asks the faucet for a claim with no payment attached and reads the
// requirements out of the 402 rejection.
type Prober struct {
	api       API
	apiBase   string
	recipient string
	decimals  int
	log       *logger.ClassLogger
}

func NewProber(api API, apiBase, recipient string, decimals int, status *model.Status) *Prober {
	p := &Prober{api: api, apiBase: apiBase, recipient: recipient, decimals: decimals}
	p.log = logger.NewLogger(p, status)
	return p
}

// FetchRequirement returns the requirement from a 402. A 401 comes back
// unchanged; any other outcome, success included, is ErrRequirementNotObtained
// or the transport error.
func (p *Prober) FetchRequirement(ctx context.Context, token string) (*model.PaymentRequirement, error) {
	p.log.Log("[PROBE] Fetching payment requirement...")
	_, err := p.api.Fetch(ctx, p.apiBase+dripPath, &adhttp.FetchOptions{
		Method: http.MethodPost,
		Token:  token,
		Body:   dripProbeRequest{RecipientAddress: p.recipient},
	})
	if err == nil {
		return nil, ErrRequirementNotObtained
	}

	var httpErr *adhttp.HTTPError
	if !errors.As(err, &httpErr) || httpErr.Kind() != adhttp.KindPaymentRequired {
		return nil, err
	}

	var body paymentRequiredBody
	if jerr := json.Unmarshal(httpErr.Body, &body); jerr != nil || body.PaymentRequirements == nil {
		return nil, fmt.Errorf("%w: 402 body carries no paymentRequirements", ErrRequirementNotObtained)
	}
	pr := body.PaymentRequirements
	if pr.Amount == "" || pr.RelayerContract == "" {
		return nil, fmt.Errorf("%w: incomplete paymentRequirements", ErrRequirementNotObtained)
	}

	req := &model.PaymentRequirement{
		Amount:          pr.Amount.String(),
		Network:         pr.Network,
		RelayerContract: pr.RelayerContract,
	}
	p.log.Log(fmt.Sprintf("[PROBE] Payment requirement FOUND: %s (%s raw) on %s",
		utils.FormatUnitsString(req.Amount, p.decimals), req.Amount, req.Network))
	return req, nil
}
