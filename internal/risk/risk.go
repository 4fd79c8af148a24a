// Package risk holds the pure filters that gate new entries: cooldown, daily quota and reward/risk.
package risk

import (
	"math"
	"time"

	"github.com/BANCRIPFUTBOT/bancripfutbot/internal/signal"
)

// Limits bundles the conservative-mode knobs applied to entry signals.
type Limits struct {
	CooldownMinutes  int
	MaxSignalsPerDay int
	MinRR            float64
}

// DefaultLimits mirrors the production defaults.
func DefaultLimits() Limits {
	return Limits{CooldownMinutes: 30, MaxSignalsPerDay: 5, MinRR: 1.2}
}

// Decline names the filter that refused an entry. Declines are silent by policy;
// they only feed logs and metrics.
type Decline string

const (
	DeclineNone       Decline = ""
	DeclineQuota      Decline = "daily_quota"
	DeclineCooldown   Decline = "cooldown"
	DeclineMalformed  Decline = "malformed_numeric"
	DeclineRewardRisk Decline = "reward_risk"
)

// CooldownElapsed is true when no signal was recorded yet or at least
// cooldownMinutes passed since the last one.
func CooldownElapsed(last *time.Time, now time.Time, cooldownMinutes int) bool {
	if last == nil || last.IsZero() {
		return true
	}
	return now.Sub(*last).Minutes() >= float64(cooldownMinutes)
}

// DayKey returns the UTC calendar date used to bucket the daily counter.
func DayKey(now time.Time) string {
	return now.UTC().Format("2006-01-02")
}

// RollDay resets count when now falls on a different UTC day than *day.
func RollDay(day *string, count *int, now time.Time) {
	key := DayKey(now)
	if *day != key {
		*day = key
		*count = 0
	}
}

// UnderDailyQuota rolls the counter forward and reports whether another entry fits.
func UnderDailyQuota(day *string, count *int, now time.Time, maxPerDay int) bool {
	RollDay(day, count, now)
	return *count < maxPerDay
}

// RewardRiskOK checks the reward/risk ratio of a candidate entry. Zero risk is
// an undefined ratio and always fails.
func RewardRiskOK(entry, tp, sl float64, side signal.Side, minRR float64) bool {
	var reward, risk float64
	if side == signal.Buy {
		reward = math.Abs(tp - entry)
		risk = math.Abs(entry - sl)
	} else {
		reward = math.Abs(entry - tp)
		risk = math.Abs(sl - entry)
	}
	if risk == 0 {
		return false
	}
	return reward/risk >= minRR
}

// Candidate is the entry under evaluation together with the mutable counters it touches.
type Candidate struct {
	Side         signal.Side
	Price        *float64
	TP           *float64
	SL           *float64
	LastSignalTS *time.Time
	SignalsDay   *string
	SignalsToday *int
}

// Allow evaluates all entry filters in order: quota, cooldown, numerics, reward/risk.
func (l Limits) Allow(c Candidate, now time.Time) (bool, Decline) {
	if !UnderDailyQuota(c.SignalsDay, c.SignalsToday, now, l.MaxSignalsPerDay) {
		return false, DeclineQuota
	}
	if !CooldownElapsed(c.LastSignalTS, now, l.CooldownMinutes) {
		return false, DeclineCooldown
	}
	if c.Price == nil || c.TP == nil || c.SL == nil {
		return false, DeclineMalformed
	}
	if !RewardRiskOK(*c.Price, *c.TP, *c.SL, c.Side, l.MinRR) {
		return false, DeclineRewardRisk
	}
	return true, DeclineNone
}
