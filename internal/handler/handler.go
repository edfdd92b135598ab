package handler

import (
	"context"
	"strconv"
	"time"

	"fanbid/internal/job"
	"fanbid/internal/service"
	"fanbid/pkg/response"

	"github.com/gin-gonic/gin"
)

// Sweeper 手动触发一轮过期扫描
type Sweeper interface {
	RunOnce(ctx context.Context) *job.SweepReport
}

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	auctionService *service.AuctionService
	walletService  *service.WalletService
	sweeper        Sweeper
}

func NewHandler(auctionService *service.AuctionService, walletService *service.WalletService, sweeper Sweeper) *Handler {
	return &Handler{
		auctionService: auctionService,
		walletService:  walletService,
		sweeper:        sweeper,
	}
}

// ============================================================
// 拍卖相关接口
// ============================================================

// CreateAuctionRequest 创建拍卖请求，卖家为当前用户
type CreateAuctionRequest struct {
	Title           string     `json:"title" binding:"required"`
	Description     string     `json:"description"`
	Category        string     `json:"category"`
	Rarity          string     `json:"rarity"`
	StartingBid     int64      `json:"starting_bid" binding:"required,gt=0"`
	ReservePrice    *int64     `json:"reserve_price"`
	BuyNowPrice     *int64     `json:"buy_now_price"`
	MinIncrement    int64      `json:"min_increment" binding:"required,gt=0"`
	DurationSeconds int64      `json:"duration_seconds" binding:"required,gt=0"`
	StartTime       *time.Time `json:"start_time"`
}

// CreateAuction 创建拍卖
// POST /api/v1/auctions
func (h *Handler) CreateAuction(c *gin.Context) {
	var req CreateAuctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	auction, err := h.auctionService.CreateAuction(c.Request.Context(), &service.CreateAuctionRequest{
		SellerID:     currentUserID(c),
		Title:        req.Title,
		Description:  req.Description,
		Category:     req.Category,
		Rarity:       req.Rarity,
		StartingBid:  req.StartingBid,
		ReservePrice: req.ReservePrice,
		BuyNowPrice:  req.BuyNowPrice,
		MinIncrement: req.MinIncrement,
		Duration:     time.Duration(req.DurationSeconds) * time.Second,
		StartTime:    req.StartTime,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, auction)
}

// ListAuctions 拍卖列表
// GET /api/v1/auctions?status=active&page=1&page_size=20
func (h *Handler) ListAuctions(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	list, total, err := h.auctionService.ListAuctions(c.Request.Context(), c.Query("status"), page, pageSize)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      list,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// GetAuction 拍卖详情
// GET /api/v1/auctions/:id
func (h *Handler) GetAuction(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	auction, err := h.auctionService.GetAuction(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, gin.H{
		"auction":           auction,
		"min_next_bid":      auction.MinNextBid(),
		"buy_now_available": auction.BuyNowAvailable(h.auctionService.Now()),
	})
}

// ListBids 出价记录
// GET /api/v1/auctions/:id/bids
func (h *Handler) ListBids(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	bids, err := h.auctionService.ListBids(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, bids)
}

// PlaceBidRequest 出价请求
type PlaceBidRequest struct {
	Amount     int64  `json:"amount" binding:"required"`
	AutoBidMax *int64 `json:"auto_bid_max"` // 自动出价上限，可选
}

// PlaceBid 出价
// POST /api/v1/auctions/:id/bids
func (h *Handler) PlaceBid(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req PlaceBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.auctionService.PlaceBid(c.Request.Context(), &service.PlaceBidRequest{
		AuctionID:  id,
		UserID:     currentUserID(c),
		Amount:     req.Amount,
		AutoBidMax: req.AutoBidMax,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, result)
}

// BuyNow 一口价购买
// POST /api/v1/auctions/:id/buy-now
func (h *Handler) BuyNow(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	result, err := h.auctionService.BuyNow(c.Request.Context(), id, currentUserID(c))
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, result)
}

// ============================================================
// 钱包相关接口
// ============================================================

// GetWallet 当前用户钱包
// GET /api/v1/wallet
func (h *Handler) GetWallet(c *gin.Context) {
	wallet, err := h.walletService.GetWallet(c.Request.Context(), currentUserID(c))
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, wallet)
}

// ListTransactions 当前用户流水
// GET /api/v1/wallet/transactions?page=1&page_size=20
func (h *Handler) ListTransactions(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	list, total, err := h.walletService.ListTransactions(c.Request.Context(), currentUserID(c), page, pageSize)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      list,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ============================================================
// 管理接口
// ============================================================

// ForceClose 立即结算
// POST /api/v1/admin/auctions/:id/close
func (h *Handler) ForceClose(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	result, err := h.auctionService.AdminForceClose(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, result)
}

// CancelAuction 取消拍卖
// POST /api/v1/admin/auctions/:id/cancel
func (h *Handler) CancelAuction(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	result, err := h.auctionService.AdminCancelAuction(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, result)
}

// DeleteAuction 删除拍卖
// DELETE /api/v1/admin/auctions/:id
func (h *Handler) DeleteAuction(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := h.auctionService.AdminDeleteAuction(c.Request.Context(), id); err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, gin.H{
		"message": "拍卖已删除",
	})
}

// AdjustBalanceRequest 管理员调整积分
type AdjustBalanceRequest struct {
	Delta  int64  `json:"delta" binding:"required"`
	Reason string `json:"reason" binding:"required"`
}

// AdjustBalance 调整积分
// POST /api/v1/admin/wallets/:user_id/adjust
func (h *Handler) AdjustBalance(c *gin.Context) {
	userID, ok := pathID(c, "user_id")
	if !ok {
		return
	}

	var req AdjustBalanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	wallet, err := h.walletService.AdjustBalance(c.Request.Context(), userID, req.Delta, req.Reason)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, wallet)
}

// CreditPurchaseRequest 购买积分入账，reference 为支付渠道单号
type CreditPurchaseRequest struct {
	Amount    int64  `json:"amount" binding:"required,gt=0"`
	Reference string `json:"reference" binding:"required"`
}

// CreditPurchase 购买积分入账
// POST /api/v1/admin/wallets/:user_id/purchase
func (h *Handler) CreditPurchase(c *gin.Context) {
	userID, ok := pathID(c, "user_id")
	if !ok {
		return
	}

	var req CreditPurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	wallet, applied, err := h.walletService.CreditPurchase(c.Request.Context(), userID, req.Amount, req.Reference)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, gin.H{
		"wallet":  wallet,
		"applied": applied,
	})
}

// Reconcile 钱包对账
// GET /api/v1/admin/wallets/:user_id/reconcile?repair=true
func (h *Handler) Reconcile(c *gin.Context) {
	userID, ok := pathID(c, "user_id")
	if !ok {
		return
	}
	repair, _ := strconv.ParseBool(c.DefaultQuery("repair", "false"))

	report, err := h.walletService.Reconcile(c.Request.Context(), userID, repair)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, report)
}

// RunSweep 手动执行一轮过期扫描
// POST /api/v1/admin/sweep
func (h *Handler) RunSweep(c *gin.Context) {
	response.Success(c, h.sweeper.RunOnce(c.Request.Context()))
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		response.ParamError(c, name+" 参数错误")
		return 0, false
	}
	return id, true
}
