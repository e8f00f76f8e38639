package health

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHealthManager_Aggregation(t *testing.T) {
	hm := NewHealthManager(nil)
	assert.True(t, hm.IsHealthy(), "empty manager is healthy")

	hm.Register("store", func() error { return nil })
	assert.True(t, hm.IsHealthy())

	hm.Register("batcher", func() error { return errors.New("3 conversations pending after failed write") })
	assert.False(t, hm.IsHealthy())

	status := hm.GetStatus()
	assert.Equal(t, "Healthy", status["store"])
	assert.Equal(t, "Unhealthy: 3 conversations pending after failed write", status["batcher"])
}

func TestHealthManager_OptionalDegrades(t *testing.T) {
	hm := NewHealthManager(nil)
	hm.Register("store", func() error { return nil })
	hm.RegisterOptional("nwc", func() error { return errors.New("wallet not connected") })

	r := hm.Report()
	assert.Equal(t, "degraded", r.Status)
	assert.True(t, hm.IsHealthy(), "optional failures only degrade")
	assert.Equal(t, "Unhealthy: wallet not connected", r.Components["nwc"])
}
