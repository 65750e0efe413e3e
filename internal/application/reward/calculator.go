package reward

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/execution-hub/ledger-sync/internal/domain/apperror"
	domainReward "github.com/execution-hub/ledger-sync/internal/domain/reward"
)

// CalculatorConfig holds the reward split and weighting constants.
type CalculatorConfig struct {
	ParticipationShare decimal.Decimal
	PerformanceShare   decimal.Decimal
	BonusShare         decimal.Decimal

	AccuracyWeight    float64
	EfficiencyWeight  float64
	ConsistencyWeight float64

	// PerformanceBaseShare of the pool is the base a weighted performance score scales.
	PerformanceBaseShare decimal.Decimal
	// PerformanceFallbackBase is used when the session has no pool.
	PerformanceFallbackBase decimal.Decimal

	CompletionShare decimal.Decimal
}

// DefaultCalculatorConfig returns the production split.
func DefaultCalculatorConfig() CalculatorConfig {
	return CalculatorConfig{
		ParticipationShare:      decimal.RequireFromString("0.60"),
		PerformanceShare:        decimal.RequireFromString("0.30"),
		BonusShare:              decimal.RequireFromString("0.10"),
		AccuracyWeight:          0.5,
		EfficiencyWeight:        0.3,
		ConsistencyWeight:       0.2,
		PerformanceBaseShare:    decimal.RequireFromString("0.20"),
		PerformanceFallbackBase: decimal.NewFromInt(100),
		CompletionShare:         decimal.RequireFromString("0.10"),
	}
}

// Validate rejects negative shares and splits that exceed the pool.
func (c CalculatorConfig) Validate() error {
	shares := []decimal.Decimal{c.ParticipationShare, c.PerformanceShare, c.BonusShare, c.PerformanceBaseShare, c.CompletionShare}
	for _, s := range shares {
		if s.IsNegative() {
			return apperror.Configuration("reward shares must not be negative")
		}
	}
	if c.ParticipationShare.Add(c.PerformanceShare).Add(c.BonusShare).GreaterThan(decimal.NewFromInt(1)) {
		return apperror.Configuration("session reward split exceeds the pool")
	}
	if !finite(c.AccuracyWeight, c.EfficiencyWeight, c.ConsistencyWeight) ||
		c.AccuracyWeight < 0 || c.EfficiencyWeight < 0 || c.ConsistencyWeight < 0 {
		return apperror.Configuration("performance weights must not be negative")
	}
	return nil
}

// Contribution is one participant's input to a session split.
type Contribution struct {
	UserID    uuid.UUID
	Address   string
	Score     float64
	Quality   float64
	TimeSpent float64
}

// PerformanceMetrics are normalised to [0,1].
type PerformanceMetrics struct {
	UserID      uuid.UUID
	Address     string
	Accuracy    float64
	Efficiency  float64
	Consistency float64
}

// Recipient is a participant that receives an equal share.
type Recipient struct {
	UserID  uuid.UUID
	Address string
}

// Calculator turns pools and contributions into distributions. It has no side effects.
type Calculator struct {
	cfg CalculatorConfig
}

// NewCalculator creates a calculator.
func NewCalculator(cfg CalculatorConfig) *Calculator {
	return &Calculator{cfg: cfg}
}

func round(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

type sessionBreakdown struct {
	Calculation    string          `json:"calculation"`
	SessionID      uuid.UUID       `json:"sessionId"`
	Pool           decimal.Decimal `json:"pool"`
	Participation  decimal.Decimal `json:"participation"`
	Performance    decimal.Decimal `json:"performance"`
	Bonus          decimal.Decimal `json:"bonus"`
	Weight         float64         `json:"weight"`
	NormalizedTime float64         `json:"normalizedTime"`
	Participants   int             `json:"participants"`
}

// CalculateSessionRewards splits pool into participation, performance and
// bonus sub-pools.
//
// Participation is an equal split. Performance is proportional to
// score*quality. Bonus is bonusPool*normalizedTime/participants, which leaves
// part of the bonus sub-pool undistributed unless every normalised time is 1.
// Each term is rounded to 2 places before the terms are summed.
func (c *Calculator) CalculateSessionRewards(sessionID uuid.UUID, pool decimal.Decimal, contributions []Contribution) ([]domainReward.Distribution, error) {
	if pool.IsNegative() {
		return nil, apperror.Validation("reward pool must not be negative")
	}
	if err := checkUnique(len(contributions), func(i int) uuid.UUID { return contributions[i].UserID }); err != nil {
		return nil, err
	}
	n := len(contributions)
	if n == 0 {
		return []domainReward.Distribution{}, nil
	}
	count := decimal.NewFromInt(int64(n))

	participationPool := pool.Mul(c.cfg.ParticipationShare)
	performancePool := pool.Mul(c.cfg.PerformanceShare)
	bonusPool := pool.Mul(c.cfg.BonusShare)

	participation := round(participationPool.Div(count))

	weights := make([]decimal.Decimal, n)
	weightSum := decimal.Zero
	minTime, maxTime := contributions[0].TimeSpent, contributions[0].TimeSpent
	for i, contrib := range contributions {
		if !finite(contrib.Score, contrib.Quality, contrib.TimeSpent) {
			return nil, apperror.Validation("contribution metrics for %s must be finite", contrib.UserID)
		}
		if contrib.Score < 0 || contrib.Quality < 0 || contrib.TimeSpent < 0 {
			return nil, apperror.Validation("contribution metrics for %s must not be negative", contrib.UserID)
		}
		weights[i] = decimal.NewFromFloat(contrib.Score).Mul(decimal.NewFromFloat(contrib.Quality))
		weightSum = weightSum.Add(weights[i])
		minTime = min(minTime, contrib.TimeSpent)
		maxTime = max(maxTime, contrib.TimeSpent)
	}

	out := make([]domainReward.Distribution, 0, n)
	for i, contrib := range contributions {
		performance := decimal.Zero
		if weightSum.IsPositive() {
			performance = round(performancePool.Mul(weights[i]).Div(weightSum))
		}

		normalized := 1.0
		if maxTime != minTime {
			normalized = (contrib.TimeSpent - minTime) / (maxTime - minTime)
		}
		bonus := round(bonusPool.Mul(decimal.NewFromFloat(normalized)).Div(count))

		meta, err := json.Marshal(sessionBreakdown{
			Calculation:    "session",
			SessionID:      sessionID,
			Pool:           pool,
			Participation:  participation,
			Performance:    performance,
			Bonus:          bonus,
			Weight:         weights[i].InexactFloat64(),
			NormalizedTime: normalized,
			Participants:   n,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to encode breakdown: %w", err)
		}
		out = append(out, domainReward.Distribution{
			UserID:   contrib.UserID,
			Address:  contrib.Address,
			Type:     domainReward.TypeParticipation,
			Amount:   participation.Add(performance).Add(bonus),
			Metadata: meta,
		})
	}
	return out, nil
}

// CalculatePerformanceReward scales a weighted accuracy/efficiency/consistency
// score against PerformanceBaseShare of pool, or the fallback base when pool is
// nil or zero.
func (c *Calculator) CalculatePerformanceReward(sessionID uuid.UUID, pool *decimal.Decimal, metrics []PerformanceMetrics) ([]domainReward.Distribution, error) {
	if pool != nil && pool.IsNegative() {
		return nil, apperror.Validation("reward pool must not be negative")
	}
	if err := checkUnique(len(metrics), func(i int) uuid.UUID { return metrics[i].UserID }); err != nil {
		return nil, err
	}
	base := c.cfg.PerformanceFallbackBase
	if pool != nil && !pool.IsZero() {
		base = pool.Mul(c.cfg.PerformanceBaseShare)
	}

	out := make([]domainReward.Distribution, 0, len(metrics))
	for _, m := range metrics {
		for _, v := range []float64{m.Accuracy, m.Efficiency, m.Consistency} {
			if !finite(v) || v < 0 || v > 1 {
				return nil, apperror.Validation("performance metrics for %s must be within [0,1]", m.UserID)
			}
		}
		weighted := m.Accuracy*c.cfg.AccuracyWeight + m.Efficiency*c.cfg.EfficiencyWeight + m.Consistency*c.cfg.ConsistencyWeight
		amount := round(base.Mul(decimal.NewFromFloat(weighted)))
		meta, err := json.Marshal(map[string]any{
			"calculation": "performance",
			"sessionId":   sessionID,
			"base":        base,
			"weighted":    weighted,
			"accuracy":    m.Accuracy,
			"efficiency":  m.Efficiency,
			"consistency": m.Consistency,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to encode breakdown: %w", err)
		}
		out = append(out, domainReward.Distribution{
			UserID:   m.UserID,
			Address:  m.Address,
			Type:     domainReward.TypePerformance,
			Amount:   amount,
			Metadata: meta,
		})
	}
	return out, nil
}

// CalculateCompletionBonus splits CompletionShare of pool equally.
func (c *Calculator) CalculateCompletionBonus(sessionID uuid.UUID, pool decimal.Decimal, participants []Recipient) ([]domainReward.Distribution, error) {
	if pool.IsNegative() {
		return nil, apperror.Validation("reward pool must not be negative")
	}
	if err := checkUnique(len(participants), func(i int) uuid.UUID { return participants[i].UserID }); err != nil {
		return nil, err
	}
	if len(participants) == 0 {
		return []domainReward.Distribution{}, nil
	}
	bonusPool := pool.Mul(c.cfg.CompletionShare)
	share := round(bonusPool.Div(decimal.NewFromInt(int64(len(participants)))))

	out := make([]domainReward.Distribution, 0, len(participants))
	for _, p := range participants {
		meta, err := json.Marshal(map[string]any{
			"calculation":  "completion",
			"sessionId":    sessionID,
			"bonusPool":    bonusPool,
			"participants": len(participants),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to encode breakdown: %w", err)
		}
		out = append(out, domainReward.Distribution{
			UserID:   p.UserID,
			Address:  p.Address,
			Type:     domainReward.TypeCompletion,
			Amount:   share,
			Metadata: meta,
		})
	}
	return out, nil
}

func checkUnique(n int, id func(int) uuid.UUID) error {
	seen := make(map[uuid.UUID]struct{}, n)
	for i := 0; i < n; i++ {
		if _, dup := seen[id(i)]; dup {
			return apperror.Validation("participant %s listed twice", id(i))
		}
		seen[id(i)] = struct{}{}
	}
	return nil
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
