package backoff

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDelayGrowsAndCaps(t *testing.T) {
	cfg := Config{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2,
	}
	assert.Equal(t, 100*time.Millisecond, Delay(cfg, 1, nil))
	assert.Equal(t, 200*time.Millisecond, Delay(cfg, 2, nil))
	assert.Equal(t, 400*time.Millisecond, Delay(cfg, 3, nil))
	assert.Equal(t, time.Second, Delay(cfg, 5, nil), "capped at max")
	assert.Equal(t, time.Second, Delay(cfg, 50, nil), "stays capped")
}

func TestDelayZeroConfig(t *testing.T) {
	assert.Zero(t, Delay(Config{}, 3, nil))
}

func TestDelayJitterStaysBounded(t *testing.T) {
	cfg := Config{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2,
		Jitter:       true,
	}
	rng := rand.New(rand.NewSource(1))
	for attempt := 2; attempt <= 10; attempt++ {
		d := Delay(cfg, attempt, rng)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 1500*time.Millisecond)
	}
}
