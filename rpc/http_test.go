package rpc

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"agrichain/native/params"
)

func TestWriteRequiresToken(t *testing.T) {
	srv := newTestServer(t, testConfig())

	status, resp := call(t, srv, "", "supplychain_produceByFarmer", map[string]interface{}{"ipfsHash": "QmHash", "price": "1"})
	require.Equal(t, http.StatusUnauthorized, status)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeUnauthorized, resp.Error.Code)
}

func TestInvalidTokenRejectedForReads(t *testing.T) {
	srv := newTestServer(t, testConfig())
	forged, err := IssueToken("other-secret", testIssuer, farmerAddr, time.Hour)
	require.NoError(t, err)
	status, resp := call(t, srv, forged, "supplychain_getTotalProductCount", nil)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	status, resp = call(t, srv, "not-a-jwt", "supplychain_getTotalProductCount", nil)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, codeUnauthorized, resp.Error.Code)
}

func TestAnonymousReads(t *testing.T) {
	cfg := testConfig()
	srv := newTestServer(t, cfg)
	status, resp := call(t, srv, "", "supplychain_getTotalProductCount", nil)
	var out map[string]uint64
	mustResult(t, status, resp, &out)
	require.Equal(t, uint64(0), out["total"])

	cfg.AnonymousReads = false
	locked := newTestServer(t, cfg)
	status, resp = call(t, locked, "", "supplychain_getTotalProductCount", nil)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, codeUnauthorized, resp.Error.Code)
}

func TestUnknownMethod(t *testing.T) {
	srv := newTestServer(t, testConfig())
	status, resp := call(t, srv, "", "supplychain_doesNotExist", nil)
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, codeMethodNotFound, resp.Error.Code)
}

func TestInvalidParams(t *testing.T) {
	srv := newTestServer(t, testConfig())
	token := tokenFor(t, farmerAddr)

	status, resp := call(t, srv, token, "supplychain_produceByFarmer", map[string]interface{}{"ipfsHash": "QmHash", "price": "-5"})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeInvalidParams, resp.Error.Code)

	status, resp = call(t, srv, token, "supplychain_fetchItem", map[string]interface{}{"productCode": 1, "extra": true})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeInvalidParams, resp.Error.Code)

	status, resp = call(t, srv, token, "access_hasRole", map[string]interface{}{"address": farmerAddr.Hex(), "role": "wizard"})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeInvalidParams, resp.Error.Code)
}

func TestMalformedBody(t *testing.T) {
	srv := newTestServer(t, testConfig())
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp testResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, codeParseError, resp.Error.Code)
}

func TestEngineErrorsMapToCodes(t *testing.T) {
	srv := newTestServer(t, testConfig())
	code := produceViaRPC(t, srv)

	// A farmer cannot buy.
	status, resp := call(t, srv, tokenFor(t, farmerAddr), "supplychain_purchaseByDistributor", map[string]interface{}{
		"productCode": code,
		"value":       params.Milli(100).String(),
	})
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, codeForbidden, resp.Error.Code)

	// The item is not listed yet.
	status, resp = call(t, srv, tokenFor(t, distributorAddr), "supplychain_purchaseByDistributor", map[string]interface{}{
		"productCode": code,
		"value":       params.Milli(100).String(),
	})
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, codeStateError, resp.Error.Code)

	status, resp = call(t, srv, tokenFor(t, ownerAddr), "escrow_pause", nil)
	mustResult(t, status, resp, nil)
	status, resp = call(t, srv, tokenFor(t, farmerAddr), "supplychain_sellByFarmer", map[string]interface{}{
		"productCode": code,
		"price":       params.Milli(100).String(),
	})
	mustResult(t, status, resp, nil)
	status, resp = call(t, srv, tokenFor(t, distributorAddr), "supplychain_purchaseByDistributor", map[string]interface{}{
		"productCode": code,
		"value":       params.Milli(100).String(),
	})
	require.Equal(t, http.StatusServiceUnavailable, status)
	require.Equal(t, codeModulePause, resp.Error.Code)

	raw, err := json.Marshal(resp.Error.Data)
	require.NoError(t, err)
	var data errorData
	require.NoError(t, json.Unmarshal(raw, &data))
	require.Equal(t, "paused", data.Kind)
	require.NotEmpty(t, data.RequestID)
}

func TestPurchaseFlowOverRPC(t *testing.T) {
	srv := newTestServer(t, testConfig())
	code := produceViaRPC(t, srv)
	farmer := tokenFor(t, farmerAddr)
	distributor := tokenFor(t, distributorAddr)

	status, resp := call(t, srv, farmer, "supplychain_sellByFarmer", map[string]interface{}{
		"productCode": code,
		"price":       params.Milli(100).String(),
	})
	mustResult(t, status, resp, nil)

	status, resp = call(t, srv, distributor, "supplychain_purchaseByDistributor", map[string]interface{}{
		"productCode": code,
		"value":       params.Milli(150).String(),
	})
	var purchased escrowIDResult
	mustResult(t, status, resp, &purchased)
	require.Equal(t, uint64(1), purchased.EscrowID)

	status, resp = call(t, srv, "", "supplychain_fetchItem", map[string]interface{}{"productCode": code})
	var item itemJSON
	mustResult(t, status, resp, &item)
	require.Equal(t, "PurchasedByDistributor", item.StateName)
	require.Equal(t, distributorAddr.Hex(), item.OwnerID)

	status, resp = call(t, srv, "", "escrow_get", map[string]interface{}{"escrowId": purchased.EscrowID})
	var rec escrowJSON
	mustResult(t, status, resp, &rec)
	require.Equal(t, params.Milli(100).String(), rec.Amount)
	require.Equal(t, farmerAddr.Hex(), rec.Seller)
	require.Equal(t, "none", rec.DisputeStatus)

	status, resp = call(t, srv, "", "supplychain_fetchItemHistory", map[string]interface{}{"productCode": code})
	var history historyJSON
	mustResult(t, status, resp, &history)
	require.Equal(t, purchased.EscrowID, history.FarmerToDistributor)

	status, resp = call(t, srv, distributor, "escrow_releasePayment", map[string]interface{}{"escrowId": purchased.EscrowID})
	mustResult(t, status, resp, nil)

	status, resp = call(t, srv, "", "bank_getBalance", map[string]interface{}{"address": farmerAddr.Hex()})
	var balance map[string]string
	mustResult(t, status, resp, &balance)
	expected := new(big.Int).Add(params.Ether, params.Milli(100))
	require.Equal(t, expected.String(), balance["balance"])

	status, resp = call(t, srv, "", "reputation_getUserReputation", map[string]interface{}{"address": farmerAddr.Hex()})
	var rep reputationJSON
	mustResult(t, status, resp, &rep)
	require.Equal(t, uint64(1), rep.SuccessfulTransactions)
}

func TestRateLimitPerCaller(t *testing.T) {
	cfg := testConfig()
	cfg.RequestsPerSecond = 0.001
	cfg.Burst = 1
	srv := newTestServer(t, cfg)
	token := tokenFor(t, farmerAddr)

	status, resp := call(t, srv, token, "supplychain_getTotalProductCount", nil)
	mustResult(t, status, resp, nil)
	status, resp = call(t, srv, token, "supplychain_getTotalProductCount", nil)
	require.Equal(t, http.StatusTooManyRequests, status)
	require.Equal(t, codeRateLimited, resp.Error.Code)

	// Another caller has its own bucket.
	status, resp = call(t, srv, tokenFor(t, distributorAddr), "supplychain_getTotalProductCount", nil)
	mustResult(t, status, resp, nil)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, testConfig())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"ok"`)
	require.NotEmpty(t, rec.Header().Get(requestIDHeader))
}

func TestRejectsBatchedParams(t *testing.T) {
	srv := newTestServer(t, testConfig())
	body := []byte(`{"jsonrpc":"2.0","id":7,"method":"supplychain_fetchItem","params":[{"productCode":1},{"productCode":2}]}`)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp testResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, codeInvalidParams, resp.Error.Code)
}

func TestCreateEscrowDirectly(t *testing.T) {
	srv := newTestServer(t, testConfig())
	distributor := tokenFor(t, distributorAddr)

	status, resp := call(t, srv, distributor, "escrow_createEscrow", map[string]interface{}{
		"productCode": 42,
		"buyer":       distributorAddr.Hex(),
		"seller":      farmerAddr.Hex(),
		"value":       params.Milli(250).String(),
	})
	var created escrowIDResult
	mustResult(t, status, resp, &created)
	require.Equal(t, uint64(1), created.EscrowID)

	status, resp = call(t, srv, "", "escrow_get", map[string]interface{}{"escrowId": created.EscrowID})
	var rec escrowJSON
	mustResult(t, status, resp, &rec)
	require.Equal(t, params.Milli(250).String(), rec.Amount)
	require.Equal(t, uint64(42), rec.ProductCode)
	require.Equal(t, uint64(srv.node.Now())+srv.node.Constants().EscrowTimeout, rec.Deadline)

	status, resp = call(t, srv, distributor, "escrow_createEscrow", map[string]interface{}{
		"productCode": 42,
		"buyer":       distributorAddr.Hex(),
		"seller":      distributorAddr.Hex(),
		"value":       "1",
	})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeValidation, resp.Error.Code)
}

func TestTransactionOutcomesRequireAllowlist(t *testing.T) {
	srv := newTestServer(t, testConfig())
	outcome := map[string]interface{}{"user": farmerAddr.Hex(), "partner": distributorAddr.Hex()}

	status, resp := call(t, srv, tokenFor(t, arbitratorAddr), "reputation_recordTransactionSuccess", outcome)
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, codeForbidden, resp.Error.Code)

	status, resp = call(t, srv, tokenFor(t, ownerAddr), "reputation_setAuthorizedCaller", map[string]interface{}{
		"address": arbitratorAddr.Hex(),
		"allowed": true,
	})
	mustResult(t, status, resp, nil)

	reporter := tokenFor(t, arbitratorAddr)
	status, resp = call(t, srv, reporter, "reputation_recordTransactionSuccess", outcome)
	mustResult(t, status, resp, nil)
	status, resp = call(t, srv, reporter, "reputation_recordTransactionFailure", outcome)
	mustResult(t, status, resp, nil)

	status, resp = call(t, srv, "", "reputation_getUserReputation", map[string]interface{}{"address": farmerAddr.Hex()})
	var rep reputationJSON
	mustResult(t, status, resp, &rep)
	require.Equal(t, uint64(2), rep.TotalTransactions)
	require.Equal(t, uint64(1), rep.SuccessfulTransactions)
	require.Equal(t, uint64(1), rep.FailedTransactions)
	require.Equal(t, uint64(495), rep.Score)

	status, resp = call(t, srv, "", "reputation_getReviewCount", nil)
	var count map[string]uint64
	mustResult(t, status, resp, &count)
	require.Zero(t, count["count"])
}
