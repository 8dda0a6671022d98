package claim

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	adhttp "github.com/ohmynofan/b402-claimer/internal/adapters/http"
	"github.com/ohmynofan/b402-claimer/internal/config"
	"github.com/ohmynofan/b402-claimer/internal/domain/model"
	"github.com/ohmynofan/b402-claimer/internal/platform/logger"
	"github.com/ohmynofan/b402-claimer/internal/platform/metrics"
)

type dripPaymentPayload struct {
	Token   string                    `json:"token"`
	Payload model.SignedAuthorization `json:"payload"`
}

type dripPaymentRequirements struct {
	Network         string `json:"network"`
	RelayerContract string `json:"relayerContract"`
}

type dripRequest struct {
	RecipientAddress    string                  `json:"recipientAddress"`
	PaymentPayload      dripPaymentPayload      `json:"paymentPayload"`
	PaymentRequirements dripPaymentRequirements `json:"paymentRequirements"`
}

type dripResponse struct {
	NFTTransaction string `json:"nftTransaction"`
}

// Blaster submits a whole batch at once and waits for every item.
type Blaster struct {
	api       API
	apiBase   string
	recipient string
	token     string
	network   config.Network
	metrics   *metrics.Recorder
	status    *model.Status
	log       *logger.ClassLogger
}

func NewBlaster(api API, apiBase, recipient, token string, network config.Network, rec *metrics.Recorder, status *model.Status) *Blaster {
	b := &Blaster{
		api:       api,
		apiBase:   apiBase,
		recipient: recipient,
		token:     token,
		network:   network,
		metrics:   rec,
		status:    status,
	}
	b.log = logger.NewLogger(b, status)
	return b
}

// Blast returns one outcome per batch item, at the item's index. A failing
// item never cancels its siblings.
func (b *Blaster) Blast(ctx context.Context, batch []model.SignedAuthorization, req *model.PaymentRequirement, token string) []model.Outcome {
	outcomes := make([]model.Outcome, len(batch))
	if len(batch) == 0 {
		return outcomes
	}

	b.log.Log(fmt.Sprintf("[BLAST] Blasting %d permits...", len(batch)))
	start := time.Now()

	var wg sync.WaitGroup
	for i := range batch {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = b.submit(ctx, i, batch[i], req, token)
		}(i)
	}
	wg.Wait()

	b.metrics.ObserveBlast(time.Since(start))
	success, failed := model.CountOutcomes(outcomes)
	b.status.Update(func(v *model.StatusView) {
		v.Minted += success
		v.Failed += failed
	})
	b.log.Log(fmt.Sprintf("[BLAST] Done in %s: %d success, %d failed", time.Since(start).Round(time.Millisecond), success, failed))
	return outcomes
}

func (b *Blaster) submit(ctx context.Context, index int, item model.SignedAuthorization, req *model.PaymentRequirement, token string) model.Outcome {
	body := dripRequest{
		RecipientAddress: b.recipient,
		PaymentPayload:   dripPaymentPayload{Token: b.token, Payload: item},
		PaymentRequirements: dripPaymentRequirements{
			Network:         req.Network,
			RelayerContract: req.RelayerContract,
		},
	}

	outcome := model.Outcome{Index: index}
	raw, err := b.api.Fetch(ctx, b.apiBase+dripPath, &adhttp.FetchOptions{
		Method: http.MethodPost,
		Token:  token,
		Body:   body,
	})
	if err == nil {
		// Any 2xx counts as minted; the tx reference is optional.
		var res dripResponse
		if derr := adhttp.DecodeInto(raw, &res); derr == nil {
			outcome.TxRef = res.NFTTransaction
		}
	}

	if err != nil {
		outcome.Err = err
		outcome.Reason = failureReason(err)
		b.metrics.IncMint("failed")
		b.log.JustLog(outcome.String())
		return outcome
	}

	b.metrics.IncMint("success")
	if outcome.TxRef != "" {
		b.log.JustLog(fmt.Sprintf("%s (%s)", outcome.String(), b.network.TxURL(outcome.TxRef)))
	} else {
		b.log.JustLog(outcome.String())
	}
	return outcome
}

func failureReason(err error) string {
	var httpErr *adhttp.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Detail()
	}
	return err.Error()
}
