package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()

	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, 10*time.Second, p.Interval)
	assert.Equal(t, 30*time.Second, p.AttemptTimeout)
	assert.NoError(t, p.Validate())
}

func TestPolicy_Validate(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		wantErr bool
	}{
		{"valid", Policy{MaxAttempts: 5, Interval: time.Second, AttemptTimeout: time.Second}, false},
		{"single attempt not allowed", Policy{MaxAttempts: 1, Interval: time.Second, AttemptTimeout: time.Second}, true},
		{"zero interval", Policy{MaxAttempts: 3, Interval: 0, AttemptTimeout: time.Second}, true},
		{"zero attempt timeout", Policy{MaxAttempts: 3, Interval: time.Second, AttemptTimeout: 0}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPolicy_Exhausted(t *testing.T) {
	p := Policy{MaxAttempts: 3, Interval: time.Second, AttemptTimeout: time.Second}

	assert.False(t, p.Exhausted(0))
	assert.False(t, p.Exhausted(2))
	assert.True(t, p.Exhausted(3))
	assert.True(t, p.Exhausted(4))
}

func TestPolicy_MaxSlotHold(t *testing.T) {
	p := Policy{MaxAttempts: 3, Interval: 10 * time.Second, AttemptTimeout: 30 * time.Second}

	// 3 attempts of 30s plus 2 sleeps of 10s.
	assert.Equal(t, 110*time.Second, p.MaxSlotHold())
}

func TestPolicy_Schedule(t *testing.T) {
	s := Policy{MaxAttempts: 2, Interval: 5 * time.Second, AttemptTimeout: time.Second}.Schedule()

	assert.Contains(t, s, "Attempt 1")
	assert.Contains(t, s, "Attempt 2")
	assert.Contains(t, s, "wait 5s")
	assert.Contains(t, s, "recovery")
}

func TestDefaultRecoveryPolicy(t *testing.T) {
	p := DefaultRecoveryPolicy()

	assert.Equal(t, 5*time.Minute, p.Interval)
	assert.Equal(t, 50, p.BatchSize)
	assert.NoError(t, p.Validate())

	assert.Error(t, RecoveryPolicy{Interval: 0, AttemptTimeout: time.Second, BatchSize: 1}.Validate())
	assert.Error(t, RecoveryPolicy{Interval: time.Second, AttemptTimeout: time.Second, BatchSize: 0}.Validate())
}
