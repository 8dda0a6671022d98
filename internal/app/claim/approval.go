package claim

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ohmynofan/b402-claimer/internal/domain/model"
	"github.com/ohmynofan/b402-claimer/internal/platform/logger"
)

// Approver grants the relayer an unlimited allowance once per process.
type Approver struct {
	backend TokenApprover
	token   common.Address
	spender common.Address
	status  *model.Status
	log     *logger.ClassLogger

	mu       sync.Mutex
	approved bool
}

func NewApprover(backend TokenApprover, token, spender common.Address, status *model.Status) *Approver {
	a := &Approver{
		backend: backend,
		token:   token,
		spender: spender,
		status:  status,
	}
	a.log = logger.NewLogger(a, status)
	return a
}

// ApproveOnce is a no-op after the first confirmed approval. A failed
// approval leaves the flag unset so a later attempt tries again.
func (a *Approver) ApproveOnce(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.approved {
		return nil
	}

	a.status.Update(func(v *model.StatusView) { v.Approval = "PENDING" })
	a.log.Log(fmt.Sprintf("[APPROVE] Approving unlimited %s for relayer %s...", a.token.Hex(), a.spender.Hex()))

	receipt, err := a.backend.ApproveUnlimited(ctx, a.token, a.spender)
	if err != nil {
		a.status.Update(func(v *model.StatusView) { v.Approval = "FAILED" })
		return fmt.Errorf("approve: %w", err)
	}

	a.approved = true
	a.status.Update(func(v *model.StatusView) { v.Approval = "APPROVED" })
	if receipt != nil {
		a.log.Log(fmt.Sprintf("[APPROVE] Unlimited allowance confirmed in block %s", receipt.BlockNumber))
	} else {
		a.log.Log("[APPROVE] Unlimited allowance confirmed")
	}
	return nil
}

func (a *Approver) Approved() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.approved
}
