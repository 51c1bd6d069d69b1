package model

import "time"

const (
	recencyWindowDays = 7
	recencyPointsDay  = 5
)

// Metadata 记录单个网桥的测试历史，用于优先级排序。
// 零值表示从未测试过。
type Metadata struct {
	SuccessCount int       `json:"success_count"`
	FailureCount int       `json:"failure_count"`
	LastTested   time.Time `json:"last_tested,omitempty"`
	LastSuccess  time.Time `json:"last_success,omitempty"`
}

// SuccessRate returns successes as a percentage of all tests, 0 when untested.
func (m Metadata) SuccessRate() float64 {
	total := m.SuccessCount + m.FailureCount
	if total == 0 {
		return 0
	}
	return float64(m.SuccessCount) / float64(total) * 100
}

func (m *Metadata) RecordSuccess(now time.Time) {
	m.SuccessCount++
	m.LastSuccess = now
	m.LastTested = now
}

func (m *Metadata) RecordFailure(now time.Time) {
	m.FailureCount++
	m.LastTested = now
}

// RecencyBonus awards (7 - days since last success) * 5 points while the last
// success is under a week old.
func (m Metadata) RecencyBonus(now time.Time) float64 {
	if m.LastSuccess.IsZero() {
		return 0
	}
	days := int(now.Sub(m.LastSuccess) / (24 * time.Hour))
	if days < 0 {
		days = 0
	}
	if days >= recencyWindowDays {
		return 0
	}
	return float64((recencyWindowDays - days) * recencyPointsDay)
}

// Score is SuccessRate plus RecencyBonus.
func (m Metadata) Score(now time.Time) float64 {
	return m.SuccessRate() + m.RecencyBonus(now)
}
