package rpc

import (
	"encoding/json"
	"errors"
	"net/http"

	nativecommon "agrichain/native/common"
)

const jsonRPCVersion = "2.0"

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeUnauthorized   = -32001
	codeRateLimited    = -32020

	codeForbidden   = -32040
	codeStateError  = -32041
	codeValidation  = -32042
	codeFunds       = -32043
	codeReentrancy  = -32044
	codeModulePause = -32045
)

// RPCRequest is a JSON-RPC 2.0 call. Methods take a single parameter object.
type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

// RPCResponse carries either a result or an error.
type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// RPCError is the JSON-RPC error object. It doubles as a Go error so handlers
// can return parameter problems directly.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`

	status int
}

func (e *RPCError) Error() string { return e.Message }

func invalidParams(detail string) *RPCError {
	return &RPCError{Code: codeInvalidParams, Message: "invalid_params", Data: detail, status: http.StatusBadRequest}
}

type errorData struct {
	Kind      string `json:"kind"`
	RequestID string `json:"requestId,omitempty"`
}

// toRPCError classifies err. Engine rejections keep their reason as the
// message and expose the failure class in data.kind.
func toRPCError(err error, requestID string) *RPCError {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	kind := nativecommon.KindOf(err)
	out := &RPCError{Message: err.Error(), Data: errorData{Kind: kind.String(), RequestID: requestID}}
	switch kind {
	case nativecommon.KindAuthorization:
		out.Code, out.status = codeForbidden, http.StatusForbidden
	case nativecommon.KindState:
		out.Code, out.status = codeStateError, http.StatusConflict
	case nativecommon.KindValidation:
		out.Code, out.status = codeValidation, http.StatusBadRequest
	case nativecommon.KindFunds:
		out.Code, out.status = codeFunds, http.StatusPaymentRequired
	case nativecommon.KindReentrancy:
		out.Code, out.status = codeReentrancy, http.StatusConflict
	case nativecommon.KindPaused:
		out.Code, out.status = codeModulePause, http.StatusServiceUnavailable
	default:
		out.Code, out.status = codeServerError, http.StatusInternalServerError
		out.Message = "internal error"
	}
	return out
}

func writeError(w http.ResponseWriter, status int, id interface{}, rpcErr *RPCError) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: rpcErr})
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}
