package health

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeOverlay struct {
	connected bool
	onion     string
	progress  float64
}

func (f fakeOverlay) Connected() bool      { return f.connected }
func (f fakeOverlay) OnionAddress() string { return f.onion }
func (f fakeOverlay) Progress() float64    { return f.progress }

func TestChecker_CheckAll_HealthyWhenOverlayConnected(t *testing.T) {
	c := NewChecker(func() bool { return true }, fakeOverlay{connected: true, onion: "abc.onion", progress: 1.0})

	status := c.CheckAll()
	assert.Equal(t, StatusHealthy, status.Overlay.Status)
	assert.True(t, status.Overlay.Connected)
	assert.Equal(t, "abc.onion", status.Overlay.Onion)
}

func TestChecker_CheckAll_UnhealthyWhenOverlayDisconnected(t *testing.T) {
	c := NewChecker(func() bool { return true }, fakeOverlay{connected: false})

	status := c.CheckAll()
	assert.Equal(t, StatusUnhealthy, status.Overlay.Status)
	assert.Equal(t, StatusUnhealthy, status.Status)
	assert.NotEmpty(t, status.Errors)
}

func TestChecker_IsReady_FalseBeforeGuardUnlocked(t *testing.T) {
	c := NewChecker(func() bool { return false }, fakeOverlay{connected: true})
	assert.False(t, c.IsReady())
}

func TestChecker_IsReady_TrueWithNoOverlayYet(t *testing.T) {
	c := NewChecker(func() bool { return true }, nil)
	assert.True(t, c.IsReady())
}

func TestChecker_IsReady_FalseWhenOverlayNotConnected(t *testing.T) {
	c := NewChecker(func() bool { return true }, fakeOverlay{connected: false})
	assert.False(t, c.IsReady())
}
