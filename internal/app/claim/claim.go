package claim

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	adhttp "github.com/ohmynofan/b402-claimer/internal/adapters/http"
)

const walletTypeEVM = "evm"

// Wallet is the signing identity used for login and authorizations.
type Wallet interface {
	Address() common.Address
	SignMessage(message string) (string, error)
	SignTypedData(data apitypes.TypedData) (string, error)
}

type ChainIDSource interface {
	ChainID(ctx context.Context) (*big.Int, error)
}

type TokenApprover interface {
	ApproveUnlimited(ctx context.Context, token, spender common.Address) (*types.Receipt, error)
}

// API is the issuance API transport.
type API interface {
	Fetch(ctx context.Context, endpoint string, opts *adhttp.FetchOptions) (interface{}, error)
}

var _ API = (*adhttp.APIClient)(nil)
