package fraud

import (
	"context"

	"github.com/orbitpay/payment-gateway/internal/model"
)

type Action string

const (
	ActionAllow Action = "allow"
	ActionBlock Action = "block"
)

// Result is the screening decision for a transaction snapshot. Only
// allow/block are modeled; a review outcome would be a new Action value.
type Result struct {
	Action Action `json:"action"`
	Score  int    `json:"score"`
	Reason string `json:"reason,omitempty"`
}

// Gate screens a pending transaction before any processor call is made.
type Gate interface {
	Check(ctx context.Context, txn *model.Transaction) (Result, error)
}

// RuleConfig tunes the rule evaluator. Scores accumulate per rule; a
// total at or above BlockScore blocks the transaction.
type RuleConfig struct {
	BlockScore          int
	LargeAmount         int64 // minor units
	VeryLargeAmount     int64
	HighRiskCurrencies  []string
	RequireCustomerOver int64 // amounts above this score extra without a customer
}

func DefaultRuleConfig() RuleConfig {
	return RuleConfig{
		BlockScore:          80,
		LargeAmount:         500_00,
		VeryLargeAmount:     5_000_00,
		HighRiskCurrencies:  []string{"XXX"},
		RequireCustomerOver: 100_00,
	}
}

// RuleEvaluator is a deterministic Gate: same snapshot, same decision.
type RuleEvaluator struct {
	config RuleConfig
}

func NewRuleEvaluator(config RuleConfig) *RuleEvaluator {
	if config.BlockScore <= 0 {
		config.BlockScore = DefaultRuleConfig().BlockScore
	}
	return &RuleEvaluator{config: config}
}

func (e *RuleEvaluator) Check(ctx context.Context, txn *model.Transaction) (Result, error) {
	score := 0
	reason := ""

	bump := func(points int, why string) {
		score += points
		if reason == "" {
			reason = why
		}
	}

	if e.config.VeryLargeAmount > 0 && txn.Amount >= e.config.VeryLargeAmount {
		bump(60, "amount exceeds very-large threshold")
	} else if e.config.LargeAmount > 0 && txn.Amount >= e.config.LargeAmount {
		bump(30, "amount exceeds large threshold")
	}

	for _, c := range e.config.HighRiskCurrencies {
		if txn.Currency == c {
			bump(40, "high-risk currency")
			break
		}
	}

	if txn.CustomerID == nil && e.config.RequireCustomerOver > 0 && txn.Amount >= e.config.RequireCustomerOver {
		bump(25, "no customer identity on a large payment")
	}

	if score >= e.config.BlockScore {
		return Result{Action: ActionBlock, Score: score, Reason: reason}, nil
	}

	return Result{Action: ActionAllow, Score: score}, nil
}
