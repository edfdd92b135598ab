package service

import (
	"time"

	"fanbid/internal/model"
)

// AntiSnipeExtender 截止前 window 内有新的领先价时，把截止时间顺延到 acceptedAt + window
// maxExtension > 0 时，截止时间不超过 original_end_time + maxExtension
type AntiSnipeExtender struct {
	window       time.Duration
	maxExtension time.Duration
}

func NewAntiSnipeExtender(window, maxExtension time.Duration) *AntiSnipeExtender {
	return &AntiSnipeExtender{window: window, maxExtension: maxExtension}
}

// Apply 返回截止时间是否被延长，截止时间不会被提前
func (e *AntiSnipeExtender) Apply(auction *model.Auction, acceptedAt time.Time) bool {
	if e.window <= 0 {
		return false
	}
	if auction.EndTime.Sub(acceptedAt) > e.window {
		return false
	}

	newEnd := acceptedAt.Add(e.window)
	if e.maxExtension > 0 {
		if limit := auction.OriginalEndTime.Add(e.maxExtension); newEnd.After(limit) {
			newEnd = limit
		}
	}

	if !newEnd.After(auction.EndTime) {
		return false
	}
	auction.EndTime = newEnd
	return true
}
