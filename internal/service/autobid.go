package service

import "fanbid/internal/model"

// ProxyInput 代理出价计算的输入，金额均为积分
type ProxyInput struct {
	HasLeader     bool
	SameBidder    bool  // 新出价来自当前领先者本人
	LeaderAmount  int64 // 当前领先出价
	LeaderCeiling int64 // 领先者的自动出价上限，0 表示没有
	LeaderFunds   int64 // 领先者可用于加价的总额（已冻结 + 可用）

	IncomingAmount int64

	MinIncrement int64
	PriceCap     int64 // 一口价，0 表示没有
}

// ProxyOutcome 计算结果
type ProxyOutcome struct {
	IncomingLeads  bool
	LeadingAmount  int64 // 新的当前价
	IncomingAmount int64 // 新出价最终记录的金额
}

// AutoBidAgent 英式拍卖代理出价
//
// 领先者有效上限 C = min(设定上限, 可支付额度, 一口价)。
//
//	出价 <= C：领先者保持，加价到 min(C, 出价 + 最小加价)，新出价记为 outbid；
//	          出价等于 C 时先出价者胜。
//	出价 >  C：新出价按自身金额领先，它的上限只用于应对之后的出价。
//
// 对同一输入序列结果确定。
type AutoBidAgent struct{}

func NewAutoBidAgent() *AutoBidAgent {
	return &AutoBidAgent{}
}

func (a *AutoBidAgent) Resolve(in ProxyInput) ProxyOutcome {
	leads := ProxyOutcome{
		IncomingLeads:  true,
		LeadingAmount:  in.IncomingAmount,
		IncomingAmount: in.IncomingAmount,
	}
	if !in.HasLeader || in.SameBidder || in.LeaderCeiling == 0 {
		return leads
	}

	c := effectiveCeiling(in.LeaderCeiling, in.LeaderFunds, in.PriceCap)
	if c < in.LeaderAmount {
		c = in.LeaderAmount
	}
	if in.IncomingAmount > c {
		return leads
	}

	return ProxyOutcome{
		IncomingLeads:  false,
		LeadingAmount:  min(c, model.AddPoints(in.IncomingAmount, in.MinIncrement)),
		IncomingAmount: in.IncomingAmount,
	}
}

func effectiveCeiling(ceiling, funds, priceCap int64) int64 {
	c := min(ceiling, funds)
	if priceCap > 0 {
		c = min(c, priceCap)
	}
	return c
}
