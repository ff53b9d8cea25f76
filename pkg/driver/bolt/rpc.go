package bolt

import (
	"github.com/fxamacker/cbor/v2"
)

// rpcRequest is one binary RPC frame sent to the server.
type rpcRequest struct {
	ID     string `cbor:"id"`
	Method string `cbor:"method"`
	Params []any  `cbor:"params,omitempty"`
}

// rpcResponse is one binary RPC frame received from the server. Result is
// kept raw so each call site decodes only the shape it expects.
type rpcResponse struct {
	ID     string          `cbor:"id"`
	Error  *rpcError       `cbor:"error,omitempty"`
	Result cbor.RawMessage `cbor:"result,omitempty"`
}

type rpcError struct {
	Code    int    `cbor:"code"`
	Message string `cbor:"message,omitempty"`
}

func (r *rpcError) Error() string {
	return r.Message
}

// RPC methods understood by the socket protocol.
const (
	methodHello    = "hello"
	methodBegin    = "begin"
	methodCommit   = "commit"
	methodRollback = "rollback"
	methodPing     = "ping"
)

// authErrorCode is the server code for rejected credentials. It must never
// be treated as unavailability during endpoint selection.
const authErrorCode = 401
