package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProbe struct {
	chainID *big.Int
	err     error
	closed  bool
}

func (p *fakeProbe) ChainID(context.Context) (*big.Int, error) { return p.chainID, p.err }
func (p *fakeProbe) Close()                                     { p.closed = true }

func TestSelectEndpointStopsAtFirstSuccess(t *testing.T) {
	probes := map[string]*fakeProbe{
		"b": {err: errors.New("chain id timeout")},
		"c": {chainID: big.NewInt(56)},
		"d": {chainID: big.NewInt(1)},
	}
	var dialed []string
	dial := func(_ context.Context, endpoint string) (Probe, error) {
		dialed = append(dialed, endpoint)
		if endpoint == "a" {
			return nil, errors.New("dial refused")
		}
		return probes[endpoint], nil
	}

	sel, err := SelectEndpoint(context.Background(), []string{"a", "b", "c", "d"}, dial, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, dialed)
	assert.Equal(t, "c", sel.Endpoint)
	assert.Equal(t, int64(56), sel.ChainID.Int64())
	assert.Same(t, probes["c"], sel.Conn)
	require.Len(t, sel.Failures, 2)
	assert.Equal(t, "a", sel.Failures[0].Endpoint)
	assert.Equal(t, "b", sel.Failures[1].Endpoint)
	assert.True(t, probes["b"].closed)
	assert.False(t, probes["c"].closed)
}

func TestSelectEndpointRejectsEmptyChainID(t *testing.T) {
	empty := &fakeProbe{}
	good := &fakeProbe{chainID: big.NewInt(56)}
	dial := func(_ context.Context, endpoint string) (Probe, error) {
		if endpoint == "empty" {
			return empty, nil
		}
		return good, nil
	}

	sel, err := SelectEndpoint(context.Background(), []string{"empty", "good"}, dial, nil)
	require.NoError(t, err)
	assert.Equal(t, "good", sel.Endpoint)
	require.Len(t, sel.Failures, 1)
	assert.EqualError(t, sel.Failures[0].Err, "empty chain id")
	assert.True(t, empty.closed)
}

func TestSelectEndpointAggregatesFailures(t *testing.T) {
	dial := func(_ context.Context, endpoint string) (Probe, error) {
		return nil, errors.New("down-" + endpoint)
	}
	_, err := SelectEndpoint(context.Background(), []string{"x", "y"}, dial, nil)

	var noEndpoint *NoReachableEndpointError
	require.ErrorAs(t, err, &noEndpoint)
	assert.Len(t, noEndpoint.Failures, 2)
	assert.Contains(t, err.Error(), "x (down-x)")
	assert.Contains(t, err.Error(), "y (down-y)")
}

func TestSelectEndpointEmpty(t *testing.T) {
	_, err := SelectEndpoint(context.Background(), nil, nil, nil)
	assert.EqualError(t, err, "no RPC endpoints configured")
}
