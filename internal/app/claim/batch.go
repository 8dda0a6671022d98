package claim

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/ohmynofan/b402-claimer/internal/domain/model"
	"github.com/ohmynofan/b402-claimer/internal/platform/logger"
	"github.com/ohmynofan/b402-claimer/internal/platform/metrics"
	"github.com/ohmynofan/b402-claimer/pkg/utils"
)

const (
	validAfterGrace  = 20
	validBeforeAhead = 1800

	maxNonceDraws = 8
)

var errNonceExhausted = errors.New("could not draw a unique nonce")

var transferWithAuthorizationTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"TransferWithAuthorization": {
		{Name: "token", Type: "address"},
		{Name: "from", Type: "address"},
		{Name: "to", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "validAfter", Type: "uint256"},
		{Name: "validBefore", Type: "uint256"},
		{Name: "nonce", Type: "bytes32"},
	},
}

type BuilderConfig struct {
	Token         string
	Recipient     string
	DomainName    string
	DomainVersion string
}

// Builder signs TransferWithAuthorization messages. Nonces stay reserved
// until their authorization's validBefore has passed.
type Builder struct {
	cfg     BuilderConfig
	wallet  Wallet
	chain   ChainIDSource
	metrics *metrics.Recorder
	log     *logger.ClassLogger

	now    func() time.Time
	random io.Reader

	mu      sync.Mutex
	chainID *big.Int
	issued  map[string]int64
}

func NewBuilder(cfg BuilderConfig, wallet Wallet, chain ChainIDSource, rec *metrics.Recorder, status *model.Status) *Builder {
	b := &Builder{
		cfg:     cfg,
		wallet:  wallet,
		chain:   chain,
		metrics: rec,
		now:     time.Now,
		random:  rand.Reader,
		issued:  make(map[string]int64),
	}
	b.log = logger.NewLogger(b, status)
	return b
}

// BuildBatch signs count independent authorizations, sequentially.
func (b *Builder) BuildBatch(ctx context.Context, req *model.PaymentRequirement, count int) ([]model.SignedAuthorization, error) {
	if req == nil {
		return nil, fmt.Errorf("build batch: nil payment requirement")
	}
	if count < 1 {
		return nil, fmt.Errorf("build batch: count must be at least 1, got %d", count)
	}

	chainID, err := b.resolveChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("build batch: %w", err)
	}

	b.mu.Lock()
	b.pruneIssued(b.now().Unix())
	b.mu.Unlock()

	b.log.Log(fmt.Sprintf("[BUILD] Building %d permits...", count))
	batch := make([]model.SignedAuthorization, 0, count)
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		signed, err := b.build(chainID, req)
		if err != nil {
			return nil, fmt.Errorf("build permit %d: %w", i+1, err)
		}
		batch = append(batch, signed)
		b.log.JustLog(fmt.Sprintf("Permit %d nonce %s", i+1, signed.Authorization.Nonce))
	}
	b.metrics.AddAuthorizations(len(batch))
	b.log.Log(fmt.Sprintf("[BUILD] %d permits signed", len(batch)))
	return batch, nil
}

func (b *Builder) build(chainID *big.Int, req *model.PaymentRequirement) (model.SignedAuthorization, error) {
	now := b.now().Unix()
	nonce, err := b.reserveNonce(now + validBeforeAhead)
	if err != nil {
		return model.SignedAuthorization{}, err
	}

	auth := model.Authorization{
		Token:       b.cfg.Token,
		From:        b.wallet.Address().Hex(),
		To:          b.cfg.Recipient,
		Value:       req.Amount,
		ValidAfter:  now - validAfterGrace,
		ValidBefore: now + validBeforeAhead,
		Nonce:       nonce,
	}

	signature, err := b.wallet.SignTypedData(TypedData(b.cfg.DomainName, b.cfg.DomainVersion, chainID, req.RelayerContract, auth))
	if err != nil {
		return model.SignedAuthorization{}, err
	}
	return model.SignedAuthorization{Authorization: auth, Signature: signature}, nil
}

// TypedData is the EIP-712 envelope for one authorization. The relayer
// contract is the verifying contract.
func TypedData(domainName, domainVersion string, chainID *big.Int, relayer string, auth model.Authorization) apitypes.TypedData {
	return apitypes.TypedData{
		Types:       transferWithAuthorizationTypes,
		PrimaryType: "TransferWithAuthorization",
		Domain: apitypes.TypedDataDomain{
			Name:              domainName,
			Version:           domainVersion,
			ChainId:           utils.ChainIDHex256(chainID),
			VerifyingContract: relayer,
		},
		Message: apitypes.TypedDataMessage{
			"token":       auth.Token,
			"from":        auth.From,
			"to":          auth.To,
			"value":       auth.Value,
			"validAfter":  strconv.FormatInt(auth.ValidAfter, 10),
			"validBefore": strconv.FormatInt(auth.ValidBefore, 10),
			"nonce":       auth.Nonce,
		},
	}
}

func (b *Builder) resolveChainID(ctx context.Context) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.chainID != nil {
		return b.chainID, nil
	}
	id, err := b.chain.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve chain id: %w", err)
	}
	b.chainID = id
	return id, nil
}

func (b *Builder) reserveNonce(expires int64) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := 0; i < maxNonceDraws; i++ {
		raw, err := utils.RandomBytes32(b.random)
		if err != nil {
			return "", err
		}
		nonce := hexutil.Encode(raw[:])
		if _, taken := b.issued[nonce]; taken {
			continue
		}
		b.issued[nonce] = expires
		return nonce, nil
	}
	return "", errNonceExhausted
}

func (b *Builder) pruneIssued(now int64) {
	for nonce, expires := range b.issued {
		if expires < now {
			delete(b.issued, nonce)
		}
	}
}
