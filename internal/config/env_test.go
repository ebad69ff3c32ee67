package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetEnv_FallbackWhenUnset(t *testing.T) {
	t.Setenv("ASYNCORDER_TEST_UNSET", "")
	assert.Equal(t, "fallback", getEnv("ASYNCORDER_TEST_UNSET_XYZ", "fallback"))
}

func TestGetEnv_UsesSetValue(t *testing.T) {
	t.Setenv("ASYNCORDER_TEST_KEY", "value")
	assert.Equal(t, "value", getEnv("ASYNCORDER_TEST_KEY", "fallback"))
}

func TestRequireEnv_MissingReturnsError(t *testing.T) {
	_, err := requireEnv("ASYNCORDER_DEFINITELY_UNSET")
	assert.Error(t, err)
}

func TestRequireEnv_PresentReturnsValue(t *testing.T) {
	t.Setenv("ASYNCORDER_TEST_REQUIRED", "dsn-value")
	v, err := requireEnv("ASYNCORDER_TEST_REQUIRED")
	assert.NoError(t, err)
	assert.Equal(t, "dsn-value", v)
}

func TestGetInt_ParsesOrFallsBack(t *testing.T) {
	t.Setenv("ASYNCORDER_TEST_INT", "42")
	assert.Equal(t, 42, getInt("ASYNCORDER_TEST_INT", 7))
	assert.Equal(t, 7, getInt("ASYNCORDER_TEST_INT_UNSET", 7))
}

func TestGetFloat_ParsesOrFallsBack(t *testing.T) {
	t.Setenv("ASYNCORDER_TEST_FLOAT", "0.75")
	assert.InDelta(t, 0.75, getFloat("ASYNCORDER_TEST_FLOAT", 0.1), 0.0001)
	assert.InDelta(t, 0.1, getFloat("ASYNCORDER_TEST_FLOAT_UNSET", 0.1), 0.0001)
}

func TestGetDuration_ParsesOrFallsBack(t *testing.T) {
	t.Setenv("ASYNCORDER_TEST_DURATION", "250ms")
	assert.Equal(t, 250*time.Millisecond, getDuration("ASYNCORDER_TEST_DURATION", time.Second))
	assert.Equal(t, time.Second, getDuration("ASYNCORDER_TEST_DURATION_UNSET", time.Second))
}
