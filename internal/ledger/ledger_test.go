package ledger

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryDebitRespectsReservedFloor(t *testing.T) {
	l := New(Config{DailyAllocation: 1000, ReservedFloor: 20}, 50, time.Now(), nil, nil)

	// Ordinary task may not dip into the reserve.
	assert.False(t, l.TryDebit(40, false))
	assert.Equal(t, int64(50), l.Balance())

	assert.True(t, l.TryDebit(30, false))
	assert.Equal(t, int64(20), l.Balance())

	// System tasks check the unrestricted balance: 25 > 20 is still refused.
	assert.False(t, l.TryDebit(25, true))
	assert.True(t, l.TryDebit(20, true))
	assert.Equal(t, int64(0), l.Balance())
}

func TestAdmissionScenarioChatThenSleep(t *testing.T) {
	// Balance 50, reserve 20: AssistantChat (cost 30) is admitted leaving 20,
	// Sleep (cost 25) is deferred because even the unrestricted balance is
	// short. The reserve protects against ordinary depletion, not
	// insufficiency itself.
	l := New(Config{DailyAllocation: 1000, ReservedFloor: 20}, 50, time.Now(), nil, nil)

	require.True(t, l.TryDebit(30, false))
	assert.Equal(t, int64(20), l.Balance())
	assert.False(t, l.TryDebit(25, true))

	l.Credit(5)
	assert.True(t, l.TryDebit(25, true))
}

func TestCreditRefund(t *testing.T) {
	l := New(Config{DailyAllocation: 100}, 10, time.Now(), nil, nil)
	require.True(t, l.TryDebit(10, false))
	l.Credit(10)
	assert.Equal(t, int64(10), l.Balance())
}

func TestResetIfNewDay(t *testing.T) {
	start := time.Date(2026, 3, 1, 23, 50, 0, 0, time.UTC)
	l := New(Config{DailyAllocation: 1000}, 3, start, nil, nil)

	// Same day: no reset.
	assert.False(t, l.ResetIfNewDay(start.Add(5*time.Minute)))
	assert.Equal(t, int64(3), l.Balance())

	// Crossing midnight UTC resets once.
	next := start.Add(20 * time.Minute)
	assert.True(t, l.ResetIfNewDay(next))
	assert.Equal(t, int64(1000), l.Balance())
	assert.False(t, l.ResetIfNewDay(next.Add(time.Hour)))
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	l := New(Config{DailyAllocation: 1000}, 100, time.Now(), nil, nil)

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.TryDebit(10, false) {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, granted)
	assert.Equal(t, int64(0), l.Balance())
}

func TestPersistReceivesBalance(t *testing.T) {
	var got int64 = -1
	persist := func(balance int64, _ time.Time) error {
		got = balance
		return nil
	}
	l := New(Config{DailyAllocation: 100}, 40, time.Now(), persist, nil)
	require.True(t, l.TryDebit(15, false))
	assert.Equal(t, int64(25), got)
}
