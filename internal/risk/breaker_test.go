package risk

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/arbot-io/arbot/internal/config"
)

func testBreakerConfig() config.CircuitBreakerConfig {
	return config.CircuitBreakerConfig{
		ConsecutiveLossLimit: 10,
		WarningThresholdPct:  70,
		CooldownMinutes:      30,
	}
}

func loss() decimal.Decimal { return decimal.NewFromInt(-10) }
func win() decimal.Decimal  { return decimal.NewFromInt(5) }

func TestBreakerWarningAndTrip(t *testing.T) {
	b := NewLossBreaker(testBreakerConfig(), zerolog.Nop())
	assert.Equal(t, BreakerNormal, b.State())
	assert.True(t, b.PositionScale().Equal(decimal.NewFromInt(1)))

	// 6 losses: still normal (warning at 7 = 70% of 10)
	for i := 0; i < 6; i++ {
		b.RecordResult(loss())
	}
	assert.Equal(t, BreakerNormal, b.State())

	b.RecordResult(loss())
	assert.Equal(t, BreakerWarning, b.State())
	assert.True(t, b.PositionScale().Equal(decimal.NewFromFloat(0.5)))

	for i := 0; i < 3; i++ {
		b.RecordResult(loss())
	}
	assert.Equal(t, BreakerTriggered, b.State())
	assert.True(t, b.PositionScale().IsZero())
	assert.Equal(t, 10, b.Losses())
}

func TestBreakerWinResets(t *testing.T) {
	b := NewLossBreaker(testBreakerConfig(), zerolog.Nop())
	for i := 0; i < 7; i++ {
		b.RecordResult(loss())
	}
	assert.Equal(t, BreakerWarning, b.State())

	b.RecordResult(win())
	assert.Equal(t, BreakerNormal, b.State())
	assert.Equal(t, 0, b.Losses())
}

func TestBreakerResumesAfterCooldown(t *testing.T) {
	b := NewLossBreaker(testBreakerConfig(), zerolog.Nop())
	now := time.Unix(1_700_000_000, 0)
	b.now = func() time.Time { return now }

	for i := 0; i < 10; i++ {
		b.RecordResult(loss())
	}
	assert.Equal(t, BreakerTriggered, b.State())

	now = now.Add(29 * time.Minute)
	assert.Equal(t, BreakerTriggered, b.State())
	assert.True(t, b.PositionScale().IsZero())

	// cooldown expiry clears the streak and resumes at full size
	now = now.Add(2 * time.Minute)
	assert.Equal(t, BreakerNormal, b.State())
	assert.True(t, b.PositionScale().Equal(decimal.NewFromInt(1)))
	assert.Equal(t, 0, b.Losses())

	// a fresh loss after resumption starts a new streak, not a trip
	b.RecordResult(loss())
	assert.Equal(t, BreakerNormal, b.State())
	assert.Equal(t, 1, b.Losses())
}

func TestBreakerManualReset(t *testing.T) {
	b := NewLossBreaker(testBreakerConfig(), zerolog.Nop())
	for i := 0; i < 10; i++ {
		b.RecordResult(loss())
	}
	assert.Equal(t, BreakerTriggered, b.State())

	b.Reset("operator")
	assert.Equal(t, BreakerNormal, b.State())
	assert.Equal(t, 0, b.Losses())
	assert.True(t, b.PositionScale().Equal(decimal.NewFromInt(1)))
}
