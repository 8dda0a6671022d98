package claim

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	adhttp "github.com/ohmynofan/b402-claimer/internal/adapters/http"
	"github.com/ohmynofan/b402-claimer/internal/domain/model"
	"github.com/stretchr/testify/require"
)

const (
	testKeyHex  = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	testToken   = "0x55d398326f99059fF775485246999027B3197955"
	testRelayer = "0xE1Af7DaEa624bA3B5073f24A6Ea5531434D82d88"
	testRecip   = "0x000000000000000000000000000000000000dEaD"
	testAmount  = "1000000000000000000"
)

type keyWallet struct {
	key *ecdsa.PrivateKey
}

func newKeyWallet(t *testing.T) *keyWallet {
	t.Helper()
	key, err := crypto.HexToECDSA(testKeyHex)
	require.NoError(t, err)
	return &keyWallet{key: key}
}

func (w *keyWallet) Address() common.Address {
	return crypto.PubkeyToAddress(w.key.PublicKey)
}

func (w *keyWallet) SignMessage(message string) (string, error) {
	return w.sign(accounts.TextHash([]byte(message)))
}

func (w *keyWallet) SignTypedData(data apitypes.TypedData) (string, error) {
	hash, _, err := apitypes.TypedDataAndHash(data)
	if err != nil {
		return "", err
	}
	return w.sign(hash)
}

func (w *keyWallet) sign(hash []byte) (string, error) {
	sig, err := crypto.Sign(hash, w.key)
	if err != nil {
		return "", err
	}
	sig[64] += 27
	return hexutil.Encode(sig), nil
}

func recoverSigner(t *testing.T, hash []byte, sigHex string) common.Address {
	t.Helper()
	sig, err := hexutil.Decode(sigHex)
	require.NoError(t, err)
	require.Len(t, sig, 65)
	sig[64] -= 27
	pub, err := crypto.SigToPub(hash, sig)
	require.NoError(t, err)
	return crypto.PubkeyToAddress(*pub)
}

type fakeSolver struct {
	calls atomic.Int32
	err   error
}

func (s *fakeSolver) SolveTurnstile(ctx context.Context, siteKey, pageURL string) (string, error) {
	s.calls.Add(1)
	if s.err != nil {
		return "", s.err
	}
	return "turnstile-ok", nil
}

type fakeChain struct {
	calls atomic.Int32
	id    int64
}

func (c *fakeChain) ChainID(ctx context.Context) (*big.Int, error) {
	c.calls.Add(1)
	return big.NewInt(c.id), nil
}

type fakeApproveBackend struct {
	calls atomic.Int32
	errs  []error
}

func (b *fakeApproveBackend) ApproveUnlimited(ctx context.Context, token, spender common.Address) (*types.Receipt, error) {
	n := int(b.calls.Add(1))
	if n <= len(b.errs) && b.errs[n-1] != nil {
		return nil, b.errs[n-1]
	}
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(100)}, nil
}

type fakeJournal struct {
	mu       sync.Mutex
	nextID   int64
	begun    []string
	results  []string
	outcomes map[int64][]model.Outcome
}

func (j *fakeJournal) BeginAttempt(ctx context.Context, trigger string, retry int) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.nextID++
	j.begun = append(j.begun, trigger)
	return j.nextID, nil
}

func (j *fakeJournal) RecordOutcomes(ctx context.Context, attemptID int64, outcomes []model.Outcome) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.outcomes == nil {
		j.outcomes = make(map[int64][]model.Outcome)
	}
	j.outcomes[attemptID] = outcomes
	return nil
}

func (j *fakeJournal) FinishAttempt(ctx context.Context, attemptID int64, result, detail string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.results = append(j.results, result)
	return nil
}

// fakeIssuer stands in for the issuance API.
type fakeIssuer struct {
	t *testing.T

	challenges atomic.Int32
	verifies   atomic.Int32
	probes     atomic.Int32
	mints      atomic.Int32

	// probeStatus picks the status of the nth probe (1-based).
	probeStatus func(n int32) int
	// mintFails decides per authorization whether the mint is rejected.
	mintFails func(auth model.Authorization) bool
	// credential is what verify hands out.
	credential string

	mu         sync.Mutex
	lids       []string
	challenged []challengeRequest
	verified   []challengeRequest
	mintAuth   []string
}

func newFakeIssuer(t *testing.T) *fakeIssuer {
	return &fakeIssuer{
		t:           t,
		credential:  "session-token",
		probeStatus: func(int32) int { return http.StatusPaymentRequired },
		mintFails:   func(model.Authorization) bool { return false },
	}
}

func (f *fakeIssuer) start() *httptest.Server {
	srv := httptest.NewServer(f)
	f.t.Cleanup(srv.Close)
	return srv
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func (f *fakeIssuer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/auth/web3/challenge":
		f.challenges.Add(1)
		var req challengeRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.challenged = append(f.challenged, req)
		f.lids = append(f.lids, req.LID)
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, `{"message":"Sign in to B402 nonce 42"}`)

	case "/auth/web3/verify":
		f.verifies.Add(1)
		var req challengeRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.verified = append(f.verified, req)
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, `{"token":"`+f.credential+`"}`)

	case "/faucet/drip":
		var body struct {
			RecipientAddress string              `json:"recipientAddress"`
			PaymentPayload   *dripPaymentPayload `json:"paymentPayload"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.PaymentPayload == nil {
			n := f.probes.Add(1)
			switch status := f.probeStatus(n); status {
			case http.StatusPaymentRequired:
				writeJSON(w, status, `{"paymentRequirements":{"amount":`+testAmount+`,"network":"bsc","relayerContract":"`+testRelayer+`"}}`)
			case http.StatusUnauthorized:
				writeJSON(w, status, `{"message":"jwt expired"}`)
			default:
				writeJSON(w, status, `{"ok":true}`)
			}
			return
		}

		f.mints.Add(1)
		f.mu.Lock()
		f.mintAuth = append(f.mintAuth, r.Header.Get("Authorization"))
		f.mu.Unlock()
		if f.mintFails(body.PaymentPayload.Payload.Authorization) {
			writeJSON(w, http.StatusBadRequest, `{"error":"nonce rejected"}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"nftTransaction":"0x`+strings.Repeat("ab", 32)+`"}`)

	default:
		http.NotFound(w, r)
	}
}

func newTestAPI(t *testing.T) *adhttp.APIClient {
	t.Helper()
	api, err := adhttp.NewAPIClient(adhttp.ClientOptions{}, nil)
	require.NoError(t, err)
	return api
}

var errBoom = errors.New("boom")
