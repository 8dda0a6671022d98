package app

import (
	"context"
	"errors"
	"testing"

	"github.com/ohmynofan/b402-claimer/internal/adapters/chain"
	"github.com/ohmynofan/b402-claimer/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOriginOf(t *testing.T) {
	assert.Equal(t, "https://www.b402.ai", originOf("https://www.b402.ai/experience-b402"))
	assert.Equal(t, "", originOf("not a url"))
	assert.Equal(t, "", originOf(""))
}

func TestRunOnceFailsWithoutReachableEndpoint(t *testing.T) {
	cfg := config.Config{
		PrivateKey:           "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318",
		APIBase:              "http://127.0.0.1:1",
		CaptchaPageURL:       "https://www.b402.ai/experience-b402",
		CaptchaProvider:      config.CaptchaProviderSCTG,
		RPC:                  "http://127.0.0.1:1",
		Network:              config.Network{Name: "Test", ChainID: 56},
		MintCount:            1,
		PaymentDomainName:    "B402",
		PaymentDomainVersion: "1",
		JournalPath:          ":memory:",
	}

	_, err := New(cfg, nil).RunOnce(context.Background())
	require.Error(t, err)
	var unreachable *chain.NoReachableEndpointError
	require.True(t, errors.As(err, &unreachable))
	assert.Len(t, unreachable.Failures, 1)
}
