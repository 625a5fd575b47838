package governor

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRamp_StartsFromZero(t *testing.T) {
	state := RampState{}
	config := DefaultRampConfig()

	assert.Equal(t, 2300, state.Update(10000, config))
	assert.Equal(t, 4600, state.Update(10000, config))
	assert.Equal(t, 6900, state.Update(10000, config))
	assert.Equal(t, 9200, state.Update(10000, config))
	assert.Equal(t, 10000, state.Update(10000, config))
	assert.Equal(t, 10000, state.Update(10000, config))
}

func TestRamp_DropsImmediately(t *testing.T) {
	state := RampState{Last: 8000}

	assert.Equal(t, 1500, state.Update(1500, DefaultRampConfig()))
	assert.Equal(t, 1500, state.Last)

	assert.Equal(t, 0, state.Update(0, DefaultRampConfig()))
}

func TestRamp_SmallRiseAdoptedFully(t *testing.T) {
	state := RampState{Last: 3000}

	assert.Equal(t, 3500, state.Update(3500, DefaultRampConfig()))
}

func TestRamp_Property(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	config := DefaultRampConfig()
	state := RampState{}

	for i := 0; i < 1000; i++ {
		prev := state.Last
		available := rng.Intn(15000)
		got := state.Update(available, config)

		if available <= prev {
			assert.Equal(t, available, got, "step %d: drops must be taken in full", i)
		} else {
			assert.LessOrEqual(t, got-prev, config.UpStepW, "step %d: rise exceeds step", i)
			assert.LessOrEqual(t, got, available, "step %d: overshoot", i)
			assert.Greater(t, got, prev, "step %d: rise must move toward available", i)
		}
	}
}

func TestEffectiveCap(t *testing.T) {
	config := DefaultAnticipationConfig()

	tests := []struct {
		name          string
		current, next int
		minutesToNext int
		want          int
	}{
		{"lower cap within lead", 5000, 3000, 8, 3000},
		{"lower cap at lead boundary", 5000, 3000, 10, 3000},
		{"lower cap outside lead", 5000, 3000, 12, 5000},
		{"higher cap never anticipated", 3000, 5000, 1, 3000},
		{"equal caps", 4000, 4000, 5, 4000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EffectiveCap(tt.current, tt.next, tt.minutesToNext, config))
		})
	}
}

func TestAvailablePower(t *testing.T) {
	assert.Equal(t, 3500, AvailablePower(5000, -1500))
	assert.Equal(t, 6200, AvailablePower(5000, 1200))
	assert.Equal(t, 0, AvailablePower(3000, -4200))
}
