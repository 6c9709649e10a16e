package metrics

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeRejection(t *testing.T) {
	tests := []struct {
		reason string
		want   string
	}{
		{"position limit exceeded: 6000 > 5000", RejectPositionLimit},
		{"total exposure cap reached", RejectExposureLimit},
		{"daily loss limit hit", RejectDailyLoss},
		{"drawdown 12.3% exceeds 10%", RejectDrawdown},
		{"spread 6.1% above anomaly threshold", RejectAnomaly},
		{"circuit breaker triggered", RejectCircuitBreaker},
		{"confidence 0.12 below minimum", RejectLowConfidence},
		{"book stale for 45s", RejectStaleData},
		{"signal expired before execution", RejectExpired},
		{"mercury in retrograde", RejectOther},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeRejection(tt.reason), tt.reason)
	}
}

func TestNormalizeExchangeError(t *testing.T) {
	assert.Equal(t, "", NormalizeExchangeError(nil))
	assert.Equal(t, ExchangeErrorTimeout, NormalizeExchangeError(errors.New("context deadline exceeded")))
	assert.Equal(t, ExchangeErrorRateLimit, NormalizeExchangeError(errors.New("HTTP 429 too many requests")))
	assert.Equal(t, ExchangeErrorAuth, NormalizeExchangeError(errors.New("401 unauthorized")))
	assert.Equal(t, ExchangeErrorServerError, NormalizeExchangeError(errors.New("bad gateway 502")))
	assert.Equal(t, ExchangeErrorOther, NormalizeExchangeError(errors.New("weirdness")))
}
