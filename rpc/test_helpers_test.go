package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"agrichain/core"
	"agrichain/core/genesis"
	"agrichain/native/access"
	"agrichain/native/params"
	"agrichain/storage"
)

const (
	testSecret = "rpc-test-secret"
	testIssuer = "rpc-tests"
)

var (
	ownerAddr       = common.HexToAddress("0x0f")
	farmerAddr      = common.HexToAddress("0xfa")
	distributorAddr = common.HexToAddress("0xd1")
	arbitratorAddr  = common.HexToAddress("0xab")
)

type testResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

func testConfig() Config {
	return Config{
		Auth:           AuthConfig{HMACSecret: testSecret, Issuer: testIssuer},
		AnonymousReads: true,
	}
}

func newTestNode(t testing.TB) *core.Node {
	t.Helper()
	clock := time.Unix(1_700_000_000, 0)
	node, err := core.NewNode(storage.NewMemDB(), params.DefaultConstants(), core.WithClock(func() time.Time { return clock }))
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	spec := &genesis.Spec{
		Owner: ownerAddr,
		Allocations: []genesis.Allocation{
			{Address: farmerAddr, Balance: new(big.Int).Set(params.Ether)},
			{Address: distributorAddr, Balance: new(big.Int).Mul(big.NewInt(10), params.Ether)},
		},
		Arbitrators: []common.Address{arbitratorAddr},
		Participants: []genesis.Participant{
			{Address: farmerAddr, Roles: access.RoleFarmer, Verified: true},
			{Address: distributorAddr, Roles: access.RoleDistributor, Verified: true},
		},
	}
	if _, err := node.InitGenesis(context.Background(), spec); err != nil {
		t.Fatalf("genesis: %v", err)
	}
	t.Cleanup(func() { _ = node.Close() })
	return node
}

func newTestServer(t testing.TB, cfg Config) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer(newTestNode(t), cfg, logger)
}

func tokenFor(t testing.TB, addr common.Address) string {
	t.Helper()
	token, err := IssueToken(testSecret, testIssuer, addr, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func call(t testing.TB, srv *Server, token, methodName string, params interface{}) (int, testResponse) {
	t.Helper()
	req := map[string]interface{}{"jsonrpc": "2.0", "id": 1, "method": methodName}
	if params != nil {
		req["params"] = []interface{}{params}
	}
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	httpReq := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	srv.Handler().ServeHTTP(recorder, httpReq)
	var resp testResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", recorder.Body.String(), err)
	}
	return recorder.Code, resp
}

func mustResult(t testing.TB, status int, resp testResponse, out interface{}) {
	t.Helper()
	if status != http.StatusOK || resp.Error != nil {
		t.Fatalf("unexpected failure: status=%d error=%+v", status, resp.Error)
	}
	if out == nil {
		return
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		t.Fatalf("decode result: %v", err)
	}
}

func produceViaRPC(t testing.TB, srv *Server) uint64 {
	t.Helper()
	status, resp := call(t, srv, tokenFor(t, farmerAddr), "supplychain_produceByFarmer", map[string]interface{}{
		"ipfsHash":         "QmHash",
		"price":            params.Milli(100).String(),
		"shippingDeadline": uint64(srv.node.Now()) + 86_400,
	})
	var out codeResult
	mustResult(t, status, resp, &out)
	return out.ProductCode
}
