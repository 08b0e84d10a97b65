/**
 * @description
 * This file defines the risk scoring domain models. A RiskAssessment is computed
 * fresh for every transfer attempt and is never reused; only high and critical
 * assessments are persisted, as FraudAlert rows.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// RiskLevel is the banded classification of a risk score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// TransferCandidate carries the attributes of a proposed transfer into the
// risk scoring engine.
type TransferCandidate struct {
	AccountID        uuid.UUID
	OwnerID          uuid.UUID
	Amount           int64 // minor units
	Currency         string
	Origin           string // network origin of the request (IP)
	AccountCreatedAt time.Time
	At               time.Time // initiation time, local
}

// RiskAssessment is the output of the risk scoring engine for one candidate.
type RiskAssessment struct {
	Score       int       `json:"score"`
	Level       RiskLevel `json:"level"`
	Reasons     []string  `json:"reasons"`
	ShouldBlock bool      `json:"should_block"`
}

// FraudAlert is the persisted record of a high or critical assessment.
type FraudAlert struct {
	ID        uuid.UUID `json:"id"`
	AccountID uuid.UUID `json:"account_id"`
	OwnerID   uuid.UUID `json:"owner_id"`
	Score     int       `json:"score"`
	Level     RiskLevel `json:"level"`
	Reasons   []string  `json:"reasons"`
	Amount    int64     `json:"amount"`
	Origin    string    `json:"origin"`
	Blocked   bool      `json:"blocked"`
	CreatedAt time.Time `json:"created_at"`
}
