package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExponential(t *testing.T) {
	e := NewExponential(time.Second, 10*time.Second)

	assert.Equal(t, time.Second, e.Delay(1))
	assert.Equal(t, 2*time.Second, e.Delay(2))
	assert.Equal(t, 4*time.Second, e.Delay(3))
	assert.Equal(t, 8*time.Second, e.Delay(4))
	assert.Equal(t, 10*time.Second, e.Delay(5))
	assert.Equal(t, time.Second, e.Delay(0))
}

func TestExponentialJitterStaysInRange(t *testing.T) {
	e := &Exponential{Initial: time.Second, Max: time.Minute, Jitter: 0.5}
	for i := 0; i < 100; i++ {
		d := e.Delay(3)
		assert.GreaterOrEqual(t, d, 2*time.Second)
		assert.LessOrEqual(t, d, 4*time.Second)
	}
}

func TestConstant(t *testing.T) {
	c := NewConstant(0)
	assert.Equal(t, time.Duration(0), c.Delay(7))
}
