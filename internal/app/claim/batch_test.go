package claim

import (
	"bytes"
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/ohmynofan/b402-claimer/internal/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBuilder(t *testing.T, chain *fakeChain) (*Builder, *keyWallet) {
	t.Helper()
	wallet := newKeyWallet(t)
	b := NewBuilder(BuilderConfig{
		Token:         testToken,
		Recipient:     testRecip,
		DomainName:    "B402",
		DomainVersion: "1",
	}, wallet, chain, nil, nil)
	return b, wallet
}

func testRequirement() *model.PaymentRequirement {
	return &model.PaymentRequirement{Amount: testAmount, Network: "bsc", RelayerContract: testRelayer}
}

func TestBuildBatchDistinctNoncesAndWindow(t *testing.T) {
	chain := &fakeChain{id: 56}
	b, wallet := newTestBuilder(t, chain)
	now := time.Unix(1_700_000_000, 0)
	b.now = func() time.Time { return now }

	for _, n := range []int{1, 2, 37} {
		batch, err := b.BuildBatch(context.Background(), testRequirement(), n)
		require.NoError(t, err)
		require.Len(t, batch, n)

		seen := make(map[string]bool, n)
		for _, item := range batch {
			a := item.Authorization
			assert.False(t, seen[a.Nonce], "duplicate nonce %s", a.Nonce)
			seen[a.Nonce] = true
			assert.Len(t, a.Nonce, 66)

			assert.Less(t, a.ValidAfter, now.Unix())
			assert.LessOrEqual(t, now.Unix(), a.ValidBefore)
			assert.EqualValues(t, 1820, a.ValidBefore-a.ValidAfter)

			assert.Equal(t, wallet.Address().Hex(), a.From)
			assert.Equal(t, testRecip, a.To)
			assert.Equal(t, testToken, a.Token)
			assert.Equal(t, testAmount, a.Value)
		}
	}
	assert.EqualValues(t, 1, chain.calls.Load())
}

func TestBuildBatchSignaturesRecover(t *testing.T) {
	b, wallet := newTestBuilder(t, &fakeChain{id: 56})

	batch, err := b.BuildBatch(context.Background(), testRequirement(), 3)
	require.NoError(t, err)

	for _, item := range batch {
		data := TypedData("B402", "1", big.NewInt(56), testRelayer, item.Authorization)
		hash, _, err := apitypes.TypedDataAndHash(data)
		require.NoError(t, err)
		assert.Equal(t, wallet.Address(), recoverSigner(t, hash, item.Signature))
	}
}

func TestBuildBatchWindowFollowsItemClock(t *testing.T) {
	b, _ := newTestBuilder(t, &fakeChain{id: 56})
	tick := time.Unix(1_700_000_000, 0)
	b.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}

	batch, err := b.BuildBatch(context.Background(), testRequirement(), 3)
	require.NoError(t, err)
	assert.Less(t, batch[0].Authorization.ValidAfter, batch[1].Authorization.ValidAfter)
	assert.Less(t, batch[1].Authorization.ValidAfter, batch[2].Authorization.ValidAfter)
}

func TestBuildBatchRedrawsCollidingNonce(t *testing.T) {
	b, _ := newTestBuilder(t, &fakeChain{id: 56})
	a := bytes.Repeat([]byte{0x11}, 32)
	c := bytes.Repeat([]byte{0x22}, 32)
	b.random = bytes.NewReader(append(append(append([]byte{}, a...), a...), c...))

	batch, err := b.BuildBatch(context.Background(), testRequirement(), 2)
	require.NoError(t, err)
	assert.Equal(t, "0x"+repeatHex("11"), batch[0].Authorization.Nonce)
	assert.Equal(t, "0x"+repeatHex("22"), batch[1].Authorization.Nonce)
}

func TestBuildBatchKeepsNoncesReservedAcrossBatches(t *testing.T) {
	b, _ := newTestBuilder(t, &fakeChain{id: 56})
	a := bytes.Repeat([]byte{0x33}, 32)
	c := bytes.Repeat([]byte{0x44}, 32)

	b.random = bytes.NewReader(a)
	first, err := b.BuildBatch(context.Background(), testRequirement(), 1)
	require.NoError(t, err)

	b.random = bytes.NewReader(append(append([]byte{}, a...), c...))
	second, err := b.BuildBatch(context.Background(), testRequirement(), 1)
	require.NoError(t, err)
	assert.NotEqual(t, first[0].Authorization.Nonce, second[0].Authorization.Nonce)
}

func TestBuildBatchReleasesExpiredNonces(t *testing.T) {
	b, _ := newTestBuilder(t, &fakeChain{id: 56})
	now := time.Unix(1_700_000_000, 0)
	b.now = func() time.Time { return now }
	a := bytes.Repeat([]byte{0x55}, 32)

	b.random = bytes.NewReader(a)
	_, err := b.BuildBatch(context.Background(), testRequirement(), 1)
	require.NoError(t, err)

	now = now.Add(time.Hour)
	b.random = bytes.NewReader(a)
	batch, err := b.BuildBatch(context.Background(), testRequirement(), 1)
	require.NoError(t, err)
	assert.Equal(t, "0x"+repeatHex("55"), batch[0].Authorization.Nonce)
}

func TestBuildBatchNonceExhausted(t *testing.T) {
	b, _ := newTestBuilder(t, &fakeChain{id: 56})
	b.random = bytes.NewReader(bytes.Repeat([]byte{0x66}, 32*(1+maxNonceDraws)))

	_, err := b.BuildBatch(context.Background(), testRequirement(), 2)
	assert.ErrorIs(t, err, errNonceExhausted)
}

func TestBuildBatchRejectsBadInput(t *testing.T) {
	b, _ := newTestBuilder(t, &fakeChain{id: 56})
	_, err := b.BuildBatch(context.Background(), testRequirement(), 0)
	assert.Error(t, err)
	_, err = b.BuildBatch(context.Background(), nil, 1)
	assert.Error(t, err)
}

func repeatHex(pair string) string {
	out := ""
	for i := 0; i < 32; i++ {
		out += pair
	}
	return out
}
