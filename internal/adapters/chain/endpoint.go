package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ohmynofan/b402-claimer/internal/platform/logger"
)

// Probe is what the selector needs from a freshly dialed endpoint.
type Probe interface {
	ChainID(ctx context.Context) (*big.Int, error)
	Close()
}

type Dialer func(ctx context.Context, endpoint string) (Probe, error)

type EndpointFailure struct {
	Endpoint string
	Err      error
}

func (f EndpointFailure) String() string {
	return fmt.Sprintf("%s (%v)", f.Endpoint, f.Err)
}

type NoReachableEndpointError struct {
	Failures []EndpointFailure
}

func (e *NoReachableEndpointError) Error() string {
	if len(e.Failures) == 0 {
		return "no RPC endpoints configured"
	}
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.String())
	}
	return "unable to reach any RPC endpoints. Tried: " + strings.Join(parts, "; ")
}

// Selection is the active connection picked by SelectEndpoint.
type Selection struct {
	Endpoint string
	ChainID  *big.Int
	Conn     Probe
	Failures []EndpointFailure
}

// SelectEndpoint tries candidates strictly in order and keeps the first one
// that answers eth_chainId. Failed probes are closed and recorded.
func SelectEndpoint(ctx context.Context, candidates []string, dial Dialer, log *logger.ClassLogger) (*Selection, error) {
	var failures []EndpointFailure
	for _, endpoint := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		logf(log, "[RPC] Trying %s ...", endpoint)

		conn, err := dial(ctx, endpoint)
		if err != nil {
			logf(log, "[RPC] %s failed: %v", endpoint, err)
			failures = append(failures, EndpointFailure{Endpoint: endpoint, Err: err})
			continue
		}

		chainID, err := conn.ChainID(ctx)
		if err == nil && chainID == nil {
			err = fmt.Errorf("empty chain id")
		}
		if err != nil {
			conn.Close()
			logf(log, "[RPC] %s failed: %v", endpoint, err)
			failures = append(failures, EndpointFailure{Endpoint: endpoint, Err: err})
			continue
		}

		logf(log, "[RPC] Connected to %s (chainId %s)", endpoint, chainID)
		return &Selection{Endpoint: endpoint, ChainID: chainID, Conn: conn, Failures: failures}, nil
	}
	return nil, &NoReachableEndpointError{Failures: failures}
}

func logf(log *logger.ClassLogger, format string, args ...interface{}) {
	if log != nil {
		log.Log(fmt.Sprintf(format, args...))
	}
}
