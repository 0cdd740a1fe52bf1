package service

import (
	"context"
	"math"
	"strings"
	"time"

	"commerce-sync/internal/models"
	"commerce-sync/internal/util"
)

// Loyalty tokens accrue at one token per ten units of released spend. The
// balance is derived on every read from the order collection; nothing about
// rewards is persisted or put on chain.
const spendPerToken = 10

// RewardTransaction is one earning entry in the wallet history.
type RewardTransaction struct {
	Type        string    `json:"type"`
	Amount      int64     `json:"amount"`
	Date        time.Time `json:"date"`
	Description string    `json:"description"`
}

// RedeemOption is a reward the balance can be spent on.
type RedeemOption struct {
	Name string `json:"name"`
	Cost int64  `json:"cost"`
}

// WalletSummary is the derived loyalty state for a buyer.
type WalletSummary struct {
	TokenBalance       int64               `json:"tokenBalance"`
	TotalEarned        int64               `json:"totalEarned"`
	TotalRedeemed      int64               `json:"totalRedeemed"`
	RedeemOptions      []RedeemOption      `json:"redeemOptions"`
	TransactionHistory []RewardTransaction `json:"transactionHistory"`
}

// RewardsService derives loyalty wallet summaries from released orders.
type RewardsService struct {
	store Store
}

// NewRewardsService creates a new rewards service
func NewRewardsService(st Store) *RewardsService {
	return &RewardsService{store: st}
}

// WalletSummary computes the wallet for one buyer, or for all buyers when
// wallet is empty. Only RELEASED orders earn tokens: escrowed and refunded
// spend never counts, so a refund can never leave phantom tokens behind.
func (rs *RewardsService) WalletSummary(ctx context.Context, wallet string) (*WalletSummary, error) {
	ctx, span := util.StartSpan(ctx, "RewardsService.WalletSummary")
	defer span.End()

	orders, err := rs.store.LoadOrders(ctx)
	if err != nil {
		return nil, err
	}

	wallet = strings.ToLower(wallet)
	var totalSpent float64
	history := make([]RewardTransaction, 0)
	for i := range orders {
		order := &orders[i]
		if order.Status != models.OrderStatusReleased {
			continue
		}
		if wallet != "" && order.BuyerWallet != wallet {
			continue
		}
		orderTotal := orderSpend(order)
		totalSpent += orderTotal

		tokens := int64(math.Floor(orderTotal / spendPerToken))
		if tokens <= 0 {
			continue
		}
		date := order.CreatedAt
		if order.ReleasedAt != nil {
			date = *order.ReleasedAt
		}
		history = append(history, RewardTransaction{
			Type:        "Earned",
			Amount:      tokens,
			Date:        date,
			Description: order.OrderID,
		})
	}

	totalEarned := int64(math.Floor(totalSpent / spendPerToken))
	var totalRedeemed int64 // redemption is not implemented yet
	balance := totalEarned - totalRedeemed
	if balance < 0 {
		balance = 0
	}

	return &WalletSummary{
		TokenBalance:       balance,
		TotalEarned:        totalEarned,
		TotalRedeemed:      totalRedeemed,
		RedeemOptions:      redeemOptions(),
		TransactionHistory: history,
	}, nil
}

// orderSpend sums price times quantity across the order's lines.
func orderSpend(order *models.Order) float64 {
	var total float64
	for _, item := range order.Items {
		if item.Quantity <= 0 {
			continue
		}
		total += item.Price * float64(item.Quantity)
	}
	return total
}

func redeemOptions() []RedeemOption {
	return []RedeemOption{
		{Name: "5% off next order", Cost: 20},
		{Name: "Free shipping", Cost: 15},
		{Name: "$10 voucher", Cost: 40},
	}
}
