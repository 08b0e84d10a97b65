/**
 * @description
 * This file contains the risk scoring engine. Six independent analyzers each
 * inspect one signal of a candidate transfer (amount, frequency, time-of-day,
 * origin novelty, account age, daily velocity) and contribute additive points
 * plus human-readable reasons. The summed score maps to a banded risk level and
 * a block decision.
 *
 * Key properties:
 * - Analyzers are side-effect-free apart from read-only historical lookups.
 * - A failing analyzer contributes zero points and a cautionary reason; risk
 *   scoring degrades gracefully and never aborts the transfer on its own.
 * - Increasing any single signal never decreases the total score.
 *
 * @dependencies
 * - internal/domain: Candidate and assessment models.
 */

package risk

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/vaultpay/transfer-service/internal/domain"
)

// History is the read-only view of transfer history the analyzers consult.
// *store.PostgresRepository satisfies it.
type History interface {
	AmountsSince(ctx context.Context, ownerID uuid.UUID, since time.Time) ([]int64, error)
	CountOutgoingSince(ctx context.Context, ownerID uuid.UUID, since time.Time) (int, error)
	SumCompletedOutgoingSince(ctx context.Context, ownerID uuid.UUID, since time.Time) (int64, error)
	RecentOrigins(ctx context.Context, ownerID uuid.UUID, limit int) ([]string, error)
}

// Score cutoffs. The block decision fires at the high cutoff.
const (
	mediumCutoff   = 30
	highCutoff     = 60
	criticalCutoff = 80
)

// Analyzer weights and thresholds, in minor currency units where applicable.
const (
	historyWindow      = 30 * 24 * time.Hour
	recentOriginsLimit = 20

	amountAboveAveragePoints = 20 // candidate exceeds 5x trailing average
	amountAboveMaximumPoints = 15 // candidate exceeds 2x trailing maximum
	amountBand1              = 500_000
	amountBand1Points        = 10
	amountBand2              = 2_000_000
	amountBand2Points        = 20
	amountBand3              = 10_000_000
	amountBand3Points        = 30

	hourlyCountSoft       = 5
	hourlyCountSoftPoints = 10
	hourlyCountHard       = 10
	hourlyCountHardPoints = 20
	dailyCountSoft        = 20
	dailyCountSoftPoints  = 10
	dailyCountHard        = 50
	dailyCountHardPoints  = 20

	nightPoints   = 10
	weekendPoints = 5

	unseenOriginPoints     = 15
	suspiciousOriginPoints = 25

	youngAccountAmount     = 1_000_000
	veryYoungAccountDays   = 7
	veryYoungAccountPoints = 30
	youngAccountDays       = 30
	youngAccountPoints     = 15

	velocityBand1       = 2_000_000
	velocityBand1Points = 10
	velocityBand2       = 5_000_000
	velocityBand2Points = 20
	velocityBand3       = 20_000_000
	velocityBand3Points = 30
)

// Engine computes a fresh RiskAssessment per transfer attempt.
type Engine struct {
	history History
	now     func() time.Time
}

// NewEngine creates a risk engine over the given history source.
func NewEngine(history History) *Engine {
	return &Engine{history: history, now: time.Now}
}

type contribution struct {
	points  int
	reasons []string
}

type analyzer struct {
	name string
	run  func(ctx context.Context, c domain.TransferCandidate) (contribution, error)
}

// Score runs every analyzer against the candidate and folds their
// contributions into one assessment. Order does not matter.
func (e *Engine) Score(ctx context.Context, c domain.TransferCandidate) domain.RiskAssessment {
	analyzers := []analyzer{
		{"amount", e.analyzeAmount},
		{"frequency", e.analyzeFrequency},
		{"time", e.analyzeTime},
		{"origin", e.analyzeOrigin},
		{"account age", e.analyzeAccountAge},
		{"velocity", e.analyzeVelocity},
	}

	total := 0
	var reasons []string
	for _, a := range analyzers {
		result, err := a.run(ctx, c)
		if err != nil {
			reasons = append(reasons, fmt.Sprintf("%s analysis failed, proceeding with caution", a.name))
			continue
		}
		total += result.points
		reasons = append(reasons, result.reasons...)
	}

	return domain.RiskAssessment{
		Score:       total,
		Level:       levelFor(total),
		Reasons:     reasons,
		ShouldBlock: total >= highCutoff,
	}
}

func levelFor(score int) domain.RiskLevel {
	switch {
	case score >= criticalCutoff:
		return domain.RiskCritical
	case score >= highCutoff:
		return domain.RiskHigh
	case score >= mediumCutoff:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

// analyzeAmount compares the candidate against the owner's trailing-30-day
// amounts and flat absolute bands.
func (e *Engine) analyzeAmount(ctx context.Context, c domain.TransferCandidate) (contribution, error) {
	history, err := e.history.AmountsSince(ctx, c.OwnerID, c.At.Add(-historyWindow))
	if err != nil {
		return contribution{}, err
	}

	var result contribution
	if len(history) > 0 {
		var sum, max int64
		for _, amount := range history {
			sum += amount
			if amount > max {
				max = amount
			}
		}
		average := sum / int64(len(history))
		if average > 0 && c.Amount > 5*average {
			result.points += amountAboveAveragePoints
			result.reasons = append(result.reasons, "amount exceeds 5x the 30-day average")
		}
		if max > 0 && c.Amount > 2*max {
			result.points += amountAboveMaximumPoints
			result.reasons = append(result.reasons, "amount exceeds 2x the 30-day maximum")
		}
	}

	switch {
	case c.Amount >= amountBand3:
		result.points += amountBand3Points
		result.reasons = append(result.reasons, "very large absolute amount")
	case c.Amount >= amountBand2:
		result.points += amountBand2Points
		result.reasons = append(result.reasons, "large absolute amount")
	case c.Amount >= amountBand1:
		result.points += amountBand1Points
		result.reasons = append(result.reasons, "elevated absolute amount")
	}
	return result, nil
}

// analyzeFrequency counts the owner's outgoing entries in the trailing hour
// and trailing day.
func (e *Engine) analyzeFrequency(ctx context.Context, c domain.TransferCandidate) (contribution, error) {
	hourly, err := e.history.CountOutgoingSince(ctx, c.OwnerID, c.At.Add(-time.Hour))
	if err != nil {
		return contribution{}, err
	}
	daily, err := e.history.CountOutgoingSince(ctx, c.OwnerID, c.At.Add(-24*time.Hour))
	if err != nil {
		return contribution{}, err
	}

	var result contribution
	switch {
	case hourly >= hourlyCountHard:
		result.points += hourlyCountHardPoints
		result.reasons = append(result.reasons, "very high hourly transfer count")
	case hourly >= hourlyCountSoft:
		result.points += hourlyCountSoftPoints
		result.reasons = append(result.reasons, "high hourly transfer count")
	}
	switch {
	case daily >= dailyCountHard:
		result.points += dailyCountHardPoints
		result.reasons = append(result.reasons, "very high daily transfer count")
	case daily >= dailyCountSoft:
		result.points += dailyCountSoftPoints
		result.reasons = append(result.reasons, "high daily transfer count")
	}
	return result, nil
}

// analyzeTime penalizes late-night and weekend initiation.
func (e *Engine) analyzeTime(_ context.Context, c domain.TransferCandidate) (contribution, error) {
	at := c.At
	if at.IsZero() {
		at = e.now()
	}

	var result contribution
	hour := at.Hour()
	if hour >= 23 || hour < 5 {
		result.points += nightPoints
		result.reasons = append(result.reasons, "initiated during late-night hours")
	}
	if day := at.Weekday(); day == time.Saturday || day == time.Sunday {
		result.points += weekendPoints
		result.reasons = append(result.reasons, "initiated on a weekend")
	}
	return result, nil
}

// analyzeOrigin compares the request origin against recently seen origins and
// flags private/loopback ranges masquerading as a public-facing origin.
func (e *Engine) analyzeOrigin(ctx context.Context, c domain.TransferCandidate) (contribution, error) {
	if c.Origin == "" {
		return contribution{}, nil
	}

	var result contribution
	if ip := net.ParseIP(c.Origin); ip != nil && (ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified()) {
		result.points += suspiciousOriginPoints
		result.reasons = append(result.reasons, "request origin matches a known-suspicious pattern")
	}

	seen, err := e.history.RecentOrigins(ctx, c.OwnerID, recentOriginsLimit)
	if err != nil {
		return contribution{}, err
	}
	for _, origin := range seen {
		if origin == c.Origin {
			return result, nil
		}
	}
	result.points += unseenOriginPoints
	result.reasons = append(result.reasons, "request origin not seen before for this account")
	return result, nil
}

// analyzeAccountAge penalizes large amounts moved from young accounts, harder
// the younger the account.
func (e *Engine) analyzeAccountAge(_ context.Context, c domain.TransferCandidate) (contribution, error) {
	if c.AccountCreatedAt.IsZero() || c.Amount < youngAccountAmount {
		return contribution{}, nil
	}

	age := c.At.Sub(c.AccountCreatedAt)
	var result contribution
	switch {
	case age < veryYoungAccountDays*24*time.Hour:
		result.points += veryYoungAccountPoints
		result.reasons = append(result.reasons, "large amount from an account younger than a week")
	case age < youngAccountDays*24*time.Hour:
		result.points += youngAccountPoints
		result.reasons = append(result.reasons, "large amount from an account younger than a month")
	}
	return result, nil
}

// analyzeVelocity sums the trailing-24h completed outgoing amounts plus the
// candidate and applies three escalating daily-total bands.
func (e *Engine) analyzeVelocity(ctx context.Context, c domain.TransferCandidate) (contribution, error) {
	completed, err := e.history.SumCompletedOutgoingSince(ctx, c.OwnerID, c.At.Add(-24*time.Hour))
	if err != nil {
		return contribution{}, err
	}

	total := completed + c.Amount
	var result contribution
	switch {
	case total >= velocityBand3:
		result.points += velocityBand3Points
		result.reasons = append(result.reasons, "daily outgoing total extremely high")
	case total >= velocityBand2:
		result.points += velocityBand2Points
		result.reasons = append(result.reasons, "daily outgoing total very high")
	case total >= velocityBand1:
		result.points += velocityBand1Points
		result.reasons = append(result.reasons, "daily outgoing total high")
	}
	return result, nil
}
