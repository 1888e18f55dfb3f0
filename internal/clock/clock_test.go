package clock_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/JonasHeinickeBio/europepmc-cache/internal/clock"
)

func TestRealClock_MonotonicallyAdvances(t *testing.T) {
	c := clock.New()
	t1 := c.Now()
	time.Sleep(time.Millisecond)
	t2 := c.Now()

	assert.True(t, t2.After(t1))
}

func TestFakeClock_AdvanceAndSet(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := clock.NewFake(base)

	assert.True(t, f.Now().Equal(base))

	f.Advance(5 * time.Second)
	assert.True(t, f.Now().Equal(base.Add(5*time.Second)))

	later := base.Add(time.Hour)
	f.Set(later)
	assert.True(t, f.Now().Equal(later))
	assert.True(t, f.WallClock().Equal(later))
}
