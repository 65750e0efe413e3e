package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/execution-hub/ledger-sync/internal/domain/eventlog"
	"github.com/execution-hub/ledger-sync/internal/domain/notification"
	domainReward "github.com/execution-hub/ledger-sync/internal/domain/reward"
	domainTx "github.com/execution-hub/ledger-sync/internal/domain/transaction"
)

// Statistics is a point-in-time snapshot of the sync tables.
type Statistics struct {
	GeneratedAt        time.Time                      `json:"generatedAt"`
	Transactions       []domainTx.StatusAggregate     `json:"transactions"`
	Rewards            []domainReward.StatusAggregate `json:"rewards"`
	Events             []eventlog.StatusCount         `json:"events"`
	TransactionVolume  decimal.Decimal                `json:"transactionVolume"`
	ClaimableRewards   decimal.Decimal                `json:"claimableRewardAmount"`
	ExpiringRewards    int64                          `json:"expiringRewards"`
	ExpiringWithinDays int                            `json:"expiringWithinDays"`
	Alerts             []Alert                        `json:"alerts"`
}

// Params flattens the snapshot into rule parameters named <status><Table>,
// e.g. failedTransactions, claimableRewards, failedEvents. Every known status
// is present, zero when no rows exist.
func (s *Statistics) Params() map[string]float64 {
	params := map[string]float64{
		"expiringRewards": float64(s.ExpiringRewards),
	}
	for _, st := range []domainTx.Status{domainTx.StatusPending, domainTx.StatusSubmitted, domainTx.StatusConfirmed, domainTx.StatusFailed, domainTx.StatusCancelled} {
		params[paramName(string(st), "Transactions")] = 0
	}
	for _, st := range []domainReward.Status{domainReward.StatusPending, domainReward.StatusClaimable, domainReward.StatusClaimed, domainReward.StatusExpired} {
		params[paramName(string(st), "Rewards")] = 0
	}
	for _, st := range []eventlog.Status{eventlog.StatusPending, eventlog.StatusProcessed, eventlog.StatusFailed, eventlog.StatusIgnored} {
		params[paramName(string(st), "Events")] = 0
	}

	var txTotal, rewardTotal, eventTotal int64
	for _, a := range s.Transactions {
		params[paramName(string(a.Status), "Transactions")] = float64(a.Count)
		txTotal += a.Count
	}
	for _, a := range s.Rewards {
		params[paramName(string(a.Status), "Rewards")] = float64(a.Count)
		rewardTotal += a.Count
	}
	for _, c := range s.Events {
		params[paramName(string(c.Status), "Events")] = float64(c.Count)
		eventTotal += c.Count
	}
	params["totalTransactions"] = float64(txTotal)
	params["totalRewards"] = float64(rewardTotal)
	params["totalEvents"] = float64(eventTotal)
	return params
}

func paramName(status, table string) string {
	return strings.ToLower(status) + table
}

// GenerateStatistics aggregates the sync tables, evaluates the alert rules
// and notifies subscribers of every alert that fired.
func (o *Orchestrator) GenerateStatistics(ctx context.Context) (*Statistics, error) {
	now := o.now()
	txAgg, err := o.txRepo.AggregateByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate transactions: %w", err)
	}
	rewardAgg, err := o.rewardRepo.AggregateByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate rewards: %w", err)
	}
	eventCounts, err := o.eventRepo.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	expiring, err := o.rewardRepo.CountExpiringBetween(ctx, now, now.Add(o.cfg.ExpiryHorizon))
	if err != nil {
		return nil, fmt.Errorf("failed to count expiring rewards: %w", err)
	}

	stats := &Statistics{
		GeneratedAt:        now,
		Transactions:       txAgg,
		Rewards:            rewardAgg,
		Events:             eventCounts,
		TransactionVolume:  decimal.Zero,
		ClaimableRewards:   decimal.Zero,
		ExpiringRewards:    expiring,
		ExpiringWithinDays: int(o.cfg.ExpiryHorizon / (24 * time.Hour)),
		Alerts:             []Alert{},
	}
	for _, a := range txAgg {
		if a.Status == domainTx.StatusConfirmed {
			stats.TransactionVolume = stats.TransactionVolume.Add(a.Amount)
		}
	}
	for _, a := range rewardAgg {
		if a.Status == domainReward.StatusClaimable {
			stats.ClaimableRewards = stats.ClaimableRewards.Add(a.Amount)
		}
	}

	stats.Alerts = o.evaluateAlerts(stats.Params())
	for _, alert := range stats.Alerts {
		o.logger.Warn().Str("rule", alert.Rule).Str("severity", alert.Severity).Msg(alert.Message)
		o.notifier.NotifyGlobal(ctx, notification.EventAlert, alert)
	}
	o.lastStats.Store(stats)
	o.notifier.NotifyGlobal(ctx, notification.EventStatisticsReport, stats)
	return stats, nil
}

func (o *Orchestrator) evaluateAlerts(params map[string]float64) []Alert {
	names := make([]string, 0, len(o.rules))
	for name := range o.rules {
		names = append(names, name)
	}
	sort.Strings(names)

	byName := make(map[string]AlertRule, len(o.cfg.AlertRules))
	for _, r := range o.cfg.AlertRules {
		byName[r.Name] = r
	}

	alerts := []Alert{}
	for _, name := range names {
		expr := o.rules[name]
		fired, err := EvaluateCondition(expr, params)
		if err != nil {
			o.logger.Warn().Err(err).Str("rule", name).Msg("alert rule evaluation failed")
			continue
		}
		if !fired {
			continue
		}
		rule := byName[name]
		alerts = append(alerts, Alert{
			Rule:       rule.Name,
			Severity:   rule.Severity,
			Message:    rule.Message,
			Expression: rule.Expression,
			Values:     referenced(expr, params),
		})
	}
	return alerts
}
