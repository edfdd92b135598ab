package errs

import (
	"errors"
	"fmt"
)

// 引擎对外暴露的错误类型，调用方统一使用 errors.Is / errors.As 判断
var (
	ErrValidation          = errors.New("参数校验失败")
	ErrBidTooLow           = errors.New("出价过低")
	ErrInsufficientFunds   = errors.New("可用积分不足")
	ErrAuctionClosed       = errors.New("拍卖已结束")
	ErrInvalidAutoBid      = errors.New("自动出价上限不合法")
	ErrConcurrencyConflict = errors.New("并发冲突，请重试")
	ErrNotFound            = errors.New("记录不存在")
	ErrUnauthorized        = errors.New("未授权")
	ErrBuyNowUnavailable   = errors.New("一口价不可用")
)

// BidTooLowError 携带当前可接受的最低出价
type BidTooLowError struct {
	Amount  int64
	Minimum int64
}

func (e *BidTooLowError) Error() string {
	return fmt.Sprintf("%s: 出价=%d, 最低出价=%d", ErrBidTooLow.Error(), e.Amount, e.Minimum)
}

func (e *BidTooLowError) Is(target error) bool {
	return target == ErrBidTooLow
}

// Validation 构造一个参数校验错误
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// MinimumBid 从错误链中取出最低出价
func MinimumBid(err error) (int64, bool) {
	var tooLow *BidTooLowError
	if errors.As(err, &tooLow) {
		return tooLow.Minimum, true
	}
	return 0, false
}
