package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ohmynofan/b402-claimer/pkg/utils"
)

const erc20ApproveABI = `[{"constant":false,"inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"type":"function"}]`

const defaultApproveGas = uint64(100000)

var receiptPollInterval = 2 * time.Second

// ApproveUnlimited grants spender the maximum uint256 allowance over token and
// blocks until the transaction is mined. A reverted receipt is an error.
func (e *EthersClient) ApproveUnlimited(ctx context.Context, token, spender common.Address) (*types.Receipt, error) {
	scope := "[ApproveUnlimited] Error :"
	if e.key == nil {
		return nil, fmt.Errorf("%s wallet is not connected", scope)
	}

	parsed, err := abi.JSON(strings.NewReader(erc20ApproveABI))
	if err != nil {
		return nil, fmt.Errorf("%s failed to parse ABI: %w", scope, err)
	}
	data, err := parsed.Pack("approve", spender, utils.MaxUint256())
	if err != nil {
		return nil, fmt.Errorf("%s failed to pack approve: %w", scope, err)
	}

	chainID, err := e.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s failed to get chain id: %w", scope, err)
	}

	nonce, err := e.client.PendingNonceAt(ctx, e.address)
	if err != nil {
		return nil, fmt.Errorf("%s failed to get nonce: %w", scope, err)
	}

	gasLimit, err := e.client.EstimateGas(ctx, ethereum.CallMsg{
		From: e.address,
		To:   &token,
		Data: data,
	})
	if err != nil {
		gasLimit = defaultApproveGas
	}

	head, err := e.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%s failed to get head: %w", scope, err)
	}

	var tx *types.Transaction
	if head.BaseFee != nil {
		tipCap, err := e.client.SuggestGasTipCap(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s failed to suggest tip: %w", scope, err)
		}
		feeCap := new(big.Int).Add(tipCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
		tx = types.NewTx(&types.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     nonce,
			GasTipCap: tipCap,
			GasFeeCap: feeCap,
			Gas:       gasLimit,
			To:        &token,
			Value:     big.NewInt(0),
			Data:      data,
		})
	} else {
		gasPrice, err := e.client.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s failed to suggest gas price: %w", scope, err)
		}
		tx = types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: gasPrice,
			Gas:      gasLimit,
			To:       &token,
			Value:    big.NewInt(0),
			Data:     data,
		})
	}

	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), e.key)
	if err != nil {
		return nil, fmt.Errorf("%s failed to sign tx: %w", scope, err)
	}
	if err := e.client.SendTransaction(ctx, signedTx); err != nil {
		return nil, fmt.Errorf("%s failed to send tx: %w", scope, err)
	}
	e.log.Log("[APPROVE] Tx sent: " + e.network.TxURL(signedTx.Hash().Hex()))

	receipt, err := e.WaitForReceipt(ctx, signedTx.Hash())
	if err != nil {
		return nil, fmt.Errorf("%s %w", scope, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%s approve tx %s reverted", scope, signedTx.Hash().Hex())
	}
	return receipt, nil
}

// WaitForReceipt polls until the transaction is mined or ctx is done.
func (e *EthersClient) WaitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := e.client.TransactionReceipt(ctx, hash)
		if receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
