package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"fanbid/internal/config"
	"fanbid/internal/infrastructure/lock"
	"fanbid/internal/job"
	"fanbid/internal/repository/memory"
	"fanbid/internal/service"
	"fanbid/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

const adminToken = "s3cret"

type testServer struct {
	router  *gin.Engine
	wallets *service.WalletService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := config.Default()
	cfg.Server.Mode = gin.TestMode
	cfg.Admin.Token = adminToken

	store := memory.NewStore()
	locker := lock.NewLocalLocker()
	auctions := service.NewAuctionService(store, locker, locker, cfg)
	wallets := service.NewWalletService(store, locker, cfg.Auction.MaxBidRetries)
	sweeper := job.NewExpirationSweeper(auctions, &cfg.Sweeper)

	return &testServer{
		router:  SetupRouter(NewHandler(auctions, wallets, sweeper), cfg),
		wallets: wallets,
	}
}

type apiResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) apiResponse {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp apiResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func asUser(id int64) map[string]string {
	return map[string]string{HeaderUserID: fmt.Sprint(id)}
}

func asAdmin() map[string]string {
	return map[string]string{HeaderAdminToken: adminToken}
}

func (s *testServer) createAuction(t *testing.T, body gin.H) int64 {
	t.Helper()
	resp := s.do(t, http.MethodPost, "/api/v1/auctions", body, asUser(1))
	require.Equal(t, response.CodeSuccess, resp.Code, resp.Message)
	var auction struct {
		ID int64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &auction))
	return auction.ID
}

func TestAuthentication(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name    string
		method  string
		path    string
		headers map[string]string
	}{
		{"bid without user", http.MethodPost, "/api/v1/auctions/1/bids", nil},
		{"bid with bad user", http.MethodPost, "/api/v1/auctions/1/bids", map[string]string{HeaderUserID: "abc"}},
		{"wallet without user", http.MethodGet, "/api/v1/wallet", nil},
		{"admin without token", http.MethodPost, "/api/v1/admin/sweep", nil},
		{"admin with wrong token", http.MethodPost, "/api/v1/admin/sweep", map[string]string{HeaderAdminToken: "guess"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := s.do(t, tt.method, tt.path, gin.H{"amount": 100}, tt.headers)
			require.Equal(t, response.CodeUnauthorized, resp.Code)
		})
	}
}

func TestAdminDisabledWithoutToken(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Mode = gin.TestMode
	store := memory.NewStore()
	locker := lock.NewLocalLocker()
	auctions := service.NewAuctionService(store, locker, locker, cfg)
	wallets := service.NewWalletService(store, locker, 1)
	router := SetupRouter(NewHandler(auctions, wallets, job.NewExpirationSweeper(auctions, &cfg.Sweeper)), cfg)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/sweep", nil)
	req.Header.Set(HeaderAdminToken, "")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp apiResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, response.CodeUnauthorized, resp.Code)
}

func TestBiddingFlow(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodPost, "/api/v1/admin/wallets/2/purchase", gin.H{"amount": 5000, "reference": "pay-1"}, asAdmin())
	require.Equal(t, response.CodeSuccess, resp.Code, resp.Message)

	id := s.createAuction(t, gin.H{
		"title":            "限定徽章",
		"starting_bid":     1000,
		"min_increment":    100,
		"duration_seconds": 600,
		"buy_now_price":    4000,
	})

	resp = s.do(t, http.MethodPost, fmt.Sprintf("/api/v1/auctions/%d/bids", id), gin.H{"amount": 1050}, asUser(2))
	require.Equal(t, response.CodeBidTooLow, resp.Code)
	var tooLow struct {
		MinimumBid int64 `json:"minimum_bid"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &tooLow))
	require.Equal(t, int64(1100), tooLow.MinimumBid)

	resp = s.do(t, http.MethodPost, fmt.Sprintf("/api/v1/auctions/%d/bids", id), gin.H{"amount": 1200}, asUser(2))
	require.Equal(t, response.CodeSuccess, resp.Code, resp.Message)
	var result service.BidResult
	require.NoError(t, json.Unmarshal(resp.Data, &result))
	require.True(t, result.IsLeading)
	require.Equal(t, int64(1300), result.MinNextBid)

	resp = s.do(t, http.MethodPost, fmt.Sprintf("/api/v1/auctions/%d/bids", id), gin.H{"amount": 1300}, asUser(3))
	require.Equal(t, response.CodeInsufficientFunds, resp.Code)

	resp = s.do(t, http.MethodGet, fmt.Sprintf("/api/v1/auctions/%d", id), nil, nil)
	require.Equal(t, response.CodeSuccess, resp.Code)
	var detail struct {
		MinNextBid      int64 `json:"min_next_bid"`
		BuyNowAvailable bool  `json:"buy_now_available"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &detail))
	require.Equal(t, int64(1300), detail.MinNextBid)
	require.True(t, detail.BuyNowAvailable)

	resp = s.do(t, http.MethodGet, fmt.Sprintf("/api/v1/auctions/%d/bids", id), nil, nil)
	require.Equal(t, response.CodeSuccess, resp.Code)
	var bids []json.RawMessage
	require.NoError(t, json.Unmarshal(resp.Data, &bids))
	require.Len(t, bids, 1)

	resp = s.do(t, http.MethodGet, "/api/v1/wallet", nil, asUser(2))
	require.Equal(t, response.CodeSuccess, resp.Code)
	var wallet struct {
		BalancePoints int64 `json:"balance_points"`
		HeldPoints    int64 `json:"held_points"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &wallet))
	require.Equal(t, int64(3800), wallet.BalancePoints)
	require.Equal(t, int64(1200), wallet.HeldPoints)

	resp = s.do(t, http.MethodPost, fmt.Sprintf("/api/v1/admin/auctions/%d/close", id), nil, asAdmin())
	require.Equal(t, response.CodeSuccess, resp.Code, resp.Message)

	resp = s.do(t, http.MethodPost, fmt.Sprintf("/api/v1/auctions/%d/bids", id), gin.H{"amount": 1400}, asUser(2))
	require.Equal(t, response.CodeAuctionClosed, resp.Code)

	resp = s.do(t, http.MethodPost, fmt.Sprintf("/api/v1/auctions/%d/buy-now", id), nil, asUser(2))
	require.Equal(t, response.CodeBuyNowUnavailable, resp.Code)

	resp = s.do(t, http.MethodGet, "/api/v1/admin/wallets/2/reconcile", nil, asAdmin())
	require.Equal(t, response.CodeSuccess, resp.Code)
	var report service.ReconcileReport
	require.NoError(t, json.Unmarshal(resp.Data, &report))
	require.True(t, report.Consistent)
}

func TestRequestValidation(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodPost, "/api/v1/auctions/abc/bids", gin.H{"amount": 100}, asUser(2))
	require.Equal(t, response.CodeParamError, resp.Code)

	resp = s.do(t, http.MethodPost, "/api/v1/auctions/1/bids", gin.H{}, asUser(2))
	require.Equal(t, response.CodeParamError, resp.Code)

	resp = s.do(t, http.MethodPost, "/api/v1/auctions", gin.H{"title": "x", "starting_bid": 0}, asUser(1))
	require.Equal(t, response.CodeParamError, resp.Code)

	resp = s.do(t, http.MethodGet, "/api/v1/auctions/999", nil, nil)
	require.Equal(t, response.CodeNotFound, resp.Code)

	resp = s.do(t, http.MethodPost, "/api/v1/admin/wallets/2/adjust", gin.H{"delta": -10, "reason": "回收"}, asAdmin())
	require.Equal(t, response.CodeInsufficientFunds, resp.Code)
}

func TestAdminOperations(t *testing.T) {
	s := newTestServer(t)
	_, _, err := s.wallets.CreditPurchase(context.Background(), 2, 5000, "pay-1")
	require.NoError(t, err)

	id := s.createAuction(t, gin.H{
		"title":            "签名海报",
		"starting_bid":     100,
		"min_increment":    10,
		"duration_seconds": 60,
	})
	resp := s.do(t, http.MethodPost, fmt.Sprintf("/api/v1/auctions/%d/bids", id), gin.H{"amount": 200}, asUser(2))
	require.Equal(t, response.CodeSuccess, resp.Code, resp.Message)

	resp = s.do(t, http.MethodPost, fmt.Sprintf("/api/v1/admin/auctions/%d/cancel", id), nil, asAdmin())
	require.Equal(t, response.CodeSuccess, resp.Code, resp.Message)
	var result service.SettlementResult
	require.NoError(t, json.Unmarshal(resp.Data, &result))
	require.Equal(t, "cancelled", result.Status)

	resp = s.do(t, http.MethodPost, fmt.Sprintf("/api/v1/admin/auctions/%d/cancel", id), nil, asAdmin())
	require.Equal(t, response.CodeAuctionClosed, resp.Code)

	resp = s.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/admin/auctions/%d", id), nil, asAdmin())
	require.Equal(t, response.CodeSuccess, resp.Code, resp.Message)

	resp = s.do(t, http.MethodGet, fmt.Sprintf("/api/v1/auctions/%d", id), nil, nil)
	require.Equal(t, response.CodeNotFound, resp.Code)

	resp = s.do(t, http.MethodPost, "/api/v1/admin/sweep", nil, asAdmin())
	require.Equal(t, response.CodeSuccess, resp.Code)
	var report job.SweepReport
	require.NoError(t, json.Unmarshal(resp.Data, &report))
	require.Zero(t, report.Failed)

	resp = s.do(t, http.MethodPost, "/api/v1/admin/wallets/2/adjust", gin.H{"delta": 250, "reason": "补偿"}, asAdmin())
	require.Equal(t, response.CodeSuccess, resp.Code, resp.Message)

	resp = s.do(t, http.MethodGet, "/api/v1/wallet/transactions?page=1&page_size=10", nil, asUser(2))
	require.Equal(t, response.CodeSuccess, resp.Code)
	var page struct {
		Total int64 `json:"total"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &page))
	require.Equal(t, int64(4), page.Total)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "ok")
}
