package client

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/ValentinKolb/dDoc/rpc/serializer"
	"github.com/ValentinKolb/dDoc/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"time"
)

var (
	Logger = logger.GetLogger("rpc")
)

// rpcClientAdapter is a struct that stores all data needed for an implementation of an RPC client
type rpcClientAdapter struct {
	database   string
	config     common.ClientConfig
	transport  transport.IRPCClientTransport
	serializer serializer.IRPCSerializer
}

// timeout returns the configured request timeout (0 = none)
func (a *rpcClientAdapter) timeout() time.Duration {
	return time.Duration(a.config.TimeoutSecond) * time.Second
}

// invokeRPCRequest sends a request and returns the response.
// A positive timeout bounds the whole request including retries.
// Errors carried by the response are returned as error, typed store errors keep their type.
// It also checks that the type of the response is the expected type.
func (a *rpcClientAdapter) invokeRPCRequest(ctx context.Context, req *common.Message, timeout time.Duration) (*common.Message, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	// Serialize the request
	reqBytes, err := a.serializer.Serialize(*req)
	if err != nil {
		return nil, err
	}

	// Send the request
	respBytes, err := a.transport.Send(ctx, a.database, reqBytes)
	if err != nil {
		return nil, fmt.Errorf("rpc %s: %w", req.MsgType, err)
	}

	// Deserialize the response
	resp := &common.Message{}
	if err := a.serializer.Deserialize(respBytes, resp); err != nil {
		return nil, fmt.Errorf("rpc %s: invalid response: %w", req.MsgType, err)
	}

	// Check if the response is an error response
	if err := resp.Error(); err != nil {
		return nil, err
	}

	// Check if the type of the response is the expected type
	if resp.MsgType != req.MsgType {
		return nil, fmt.Errorf("rpc: unexpected message type: %s, expected %s", resp.MsgType, req.MsgType)
	}

	return resp, nil
}
