package risk

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/vaultpay/transfer-service/internal/domain"
)

// stubHistory serves canned history to the analyzers. CountOutgoingSince
// distinguishes the hourly from the daily window by the requested cutoff.
type stubHistory struct {
	at time.Time

	amounts    []int64
	amountsErr error

	hourlyCount int
	dailyCount  int
	countErr    error

	completedSum int64
	completedErr error

	origins    []string
	originsErr error
}

func (s *stubHistory) AmountsSince(context.Context, uuid.UUID, time.Time) ([]int64, error) {
	return s.amounts, s.amountsErr
}

func (s *stubHistory) CountOutgoingSince(_ context.Context, _ uuid.UUID, since time.Time) (int, error) {
	if s.countErr != nil {
		return 0, s.countErr
	}
	if since.Equal(s.at.Add(-time.Hour)) {
		return s.hourlyCount, nil
	}
	return s.dailyCount, nil
}

func (s *stubHistory) SumCompletedOutgoingSince(context.Context, uuid.UUID, time.Time) (int64, error) {
	return s.completedSum, s.completedErr
}

func (s *stubHistory) RecentOrigins(context.Context, uuid.UUID, int) ([]string, error) {
	return s.origins, s.originsErr
}

// quietWednesday is a weekday afternoon, outside every time-based penalty.
var quietWednesday = time.Date(2025, 3, 12, 14, 30, 0, 0, time.UTC)

const knownOrigin = "203.0.113.7"

func quietCandidate(at time.Time, amount int64) domain.TransferCandidate {
	return domain.TransferCandidate{
		AccountID:        uuid.New(),
		OwnerID:          uuid.New(),
		Amount:           amount,
		Currency:         "USD",
		Origin:           knownOrigin,
		AccountCreatedAt: at.Add(-400 * 24 * time.Hour),
		At:               at,
	}
}

func quietHistory(at time.Time) *stubHistory {
	return &stubHistory{at: at, origins: []string{knownOrigin}}
}

func TestScore_QuietCandidateScoresZero(t *testing.T) {
	history := quietHistory(quietWednesday)
	engine := NewEngine(history)

	assessment := engine.Score(context.Background(), quietCandidate(quietWednesday, 10_000))

	if assessment.Score != 0 {
		t.Fatalf("expected score 0, got %d (reasons: %v)", assessment.Score, assessment.Reasons)
	}
	if assessment.Level != domain.RiskLow {
		t.Fatalf("expected low risk, got %s", assessment.Level)
	}
	if assessment.ShouldBlock {
		t.Fatal("quiet candidate must not block")
	}
	if len(assessment.Reasons) != 0 {
		t.Fatalf("expected no reasons, got %v", assessment.Reasons)
	}
}

func TestScore_SignalContributions(t *testing.T) {
	tests := []struct {
		name      string
		history   func(at time.Time) *stubHistory
		candidate func(at time.Time) domain.TransferCandidate
		wantScore int
		wantLevel domain.RiskLevel
		wantBlock bool
	}{
		{
			name:    "elevated absolute amount band",
			history: quietHistory,
			candidate: func(at time.Time) domain.TransferCandidate {
				return quietCandidate(at, 500_000)
			},
			wantScore: 10,
			wantLevel: domain.RiskLow,
		},
		{
			name: "amount exceeds 5x trailing average",
			history: func(at time.Time) *stubHistory {
				h := quietHistory(at)
				// average 20_400, maximum 100_000: the candidate crosses 5x
				// the average while staying under 2x the maximum and under
				// the lowest absolute band
				h.amounts = []int64{500, 500, 500, 500, 100_000}
				return h
			},
			candidate: func(at time.Time) domain.TransferCandidate {
				return quietCandidate(at, 150_000)
			},
			wantScore: 20,
			wantLevel: domain.RiskLow,
		},
		{
			name: "amount exceeds 2x trailing maximum",
			history: func(at time.Time) *stubHistory {
				h := quietHistory(at)
				h.amounts = []int64{100_000, 200_000}
				return h
			},
			candidate: func(at time.Time) domain.TransferCandidate {
				return quietCandidate(at, 450_000)
			},
			wantScore: 15,
			wantLevel: domain.RiskLow,
		},
		{
			name: "high hourly and daily counts",
			history: func(at time.Time) *stubHistory {
				h := quietHistory(at)
				h.hourlyCount = 5
				h.dailyCount = 20
				return h
			},
			candidate: func(at time.Time) domain.TransferCandidate {
				return quietCandidate(at, 10_000)
			},
			wantScore: 20,
			wantLevel: domain.RiskLow,
		},
		{
			name: "hard hourly and daily counts",
			history: func(at time.Time) *stubHistory {
				h := quietHistory(at)
				h.hourlyCount = 10
				h.dailyCount = 50
				return h
			},
			candidate: func(at time.Time) domain.TransferCandidate {
				return quietCandidate(at, 10_000)
			},
			wantScore: 40,
			wantLevel: domain.RiskMedium,
		},
		{
			name:    "late-night initiation",
			history: quietHistory,
			candidate: func(at time.Time) domain.TransferCandidate {
				night := time.Date(2025, 3, 12, 23, 15, 0, 0, time.UTC)
				return quietCandidate(night, 10_000)
			},
			wantScore: 10,
			wantLevel: domain.RiskLow,
		},
		{
			name:    "weekend initiation",
			history: quietHistory,
			candidate: func(at time.Time) domain.TransferCandidate {
				saturday := time.Date(2025, 3, 15, 14, 30, 0, 0, time.UTC)
				return quietCandidate(saturday, 10_000)
			},
			wantScore: 5,
			wantLevel: domain.RiskLow,
		},
		{
			name:    "origin never seen before",
			history: quietHistory,
			candidate: func(at time.Time) domain.TransferCandidate {
				c := quietCandidate(at, 10_000)
				c.Origin = "198.51.100.42"
				return c
			},
			wantScore: 15,
			wantLevel: domain.RiskLow,
		},
		{
			name:    "loopback origin is suspicious and unseen",
			history: quietHistory,
			candidate: func(at time.Time) domain.TransferCandidate {
				c := quietCandidate(at, 10_000)
				c.Origin = "127.0.0.1"
				return c
			},
			wantScore: 40,
			wantLevel: domain.RiskMedium,
		},
		{
			name:    "large amount from account younger than a week",
			history: quietHistory,
			candidate: func(at time.Time) domain.TransferCandidate {
				c := quietCandidate(at, 1_000_000)
				c.AccountCreatedAt = at.Add(-3 * 24 * time.Hour)
				return c
			},
			// elevated amount band plus very young account
			wantScore: 40,
			wantLevel: domain.RiskMedium,
		},
		{
			name:    "large amount from account younger than a month",
			history: quietHistory,
			candidate: func(at time.Time) domain.TransferCandidate {
				c := quietCandidate(at, 1_000_000)
				c.AccountCreatedAt = at.Add(-20 * 24 * time.Hour)
				return c
			},
			wantScore: 25,
			wantLevel: domain.RiskLow,
		},
		{
			name: "daily outgoing velocity band",
			history: func(at time.Time) *stubHistory {
				h := quietHistory(at)
				h.completedSum = 1_950_000
				return h
			},
			candidate: func(at time.Time) domain.TransferCandidate {
				return quietCandidate(at, 100_000)
			},
			wantScore: 10,
			wantLevel: domain.RiskLow,
		},
		{
			name: "stacked signals cross the block cutoff",
			history: func(at time.Time) *stubHistory {
				h := quietHistory(at)
				h.hourlyCount = 10
				h.dailyCount = 50
				return h
			},
			candidate: func(at time.Time) domain.TransferCandidate {
				c := quietCandidate(at, 10_000)
				c.Origin = "127.0.0.1"
				return c
			},
			// 40 frequency + 40 origin
			wantScore: 80,
			wantLevel: domain.RiskCritical,
			wantBlock: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			engine := NewEngine(tc.history(quietWednesday))
			assessment := engine.Score(context.Background(), tc.candidate(quietWednesday))

			if assessment.Score != tc.wantScore {
				t.Fatalf("expected score %d, got %d (reasons: %v)", tc.wantScore, assessment.Score, assessment.Reasons)
			}
			if assessment.Level != tc.wantLevel {
				t.Fatalf("expected level %s, got %s", tc.wantLevel, assessment.Level)
			}
			if assessment.ShouldBlock != tc.wantBlock {
				t.Fatalf("expected block=%t, got %t (score %d)", tc.wantBlock, assessment.ShouldBlock, assessment.Score)
			}
			if assessment.Score > 0 && len(assessment.Reasons) == 0 {
				t.Fatal("non-zero score must carry at least one reason")
			}
		})
	}
}

func TestScore_FailingAnalyzerDegradesGracefully(t *testing.T) {
	history := quietHistory(quietWednesday)
	history.amountsErr = errors.New("db timeout")
	engine := NewEngine(history)

	assessment := engine.Score(context.Background(), quietCandidate(quietWednesday, 50_000_000))

	// The amount analyzer failed, so even a huge amount contributes nothing
	// from that signal. Velocity still sees the amount.
	if assessment.ShouldBlock {
		t.Fatalf("degraded scoring should not block on its own, got score %d", assessment.Score)
	}
	found := false
	for _, reason := range assessment.Reasons {
		if reason == "amount analysis failed, proceeding with caution" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected cautionary reason for failed analyzer, got %v", assessment.Reasons)
	}
}

func TestScore_AllAnalyzersFailingStillReturns(t *testing.T) {
	history := &stubHistory{
		at:           quietWednesday,
		amountsErr:   errors.New("down"),
		countErr:     errors.New("down"),
		completedErr: errors.New("down"),
		originsErr:   errors.New("down"),
	}
	engine := NewEngine(history)

	assessment := engine.Score(context.Background(), quietCandidate(quietWednesday, 10_000))

	if assessment.ShouldBlock {
		t.Fatal("fully degraded scoring must not block")
	}
	failures := 0
	for _, reason := range assessment.Reasons {
		if strings.HasSuffix(reason, "analysis failed, proceeding with caution") {
			failures++
		}
	}
	// time and account age analyzers do not touch history
	if failures != 4 {
		t.Fatalf("expected 4 failure reasons, got %d: %v", failures, assessment.Reasons)
	}
}

func TestScore_MonotonicInAmount(t *testing.T) {
	history := quietHistory(quietWednesday)
	engine := NewEngine(history)

	previous := -1
	for _, amount := range []int64{10_000, 500_000, 2_000_000, 10_000_000, 50_000_000} {
		assessment := engine.Score(context.Background(), quietCandidate(quietWednesday, amount))
		if assessment.Score < previous {
			t.Fatalf("score decreased from %d to %d when amount grew to %d", previous, assessment.Score, amount)
		}
		previous = assessment.Score
	}
}
