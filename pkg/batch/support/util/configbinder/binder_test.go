package configbinder_test

import (
	"testing"
	"time"

	"github.com/tigerroll/rorefcat/pkg/batch/support/util/configbinder"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type localStorage struct {
	Type    string        `yaml:"type"`
	BaseDir string        `yaml:"base_dir"`
	Timeout time.Duration `yaml:"timeout"`
	Retries int           `yaml:"retries"`
	Buckets []string      `yaml:"buckets"`
}

func TestBindProperties(t *testing.T) {
	var cfg localStorage
	err := configbinder.BindProperties(map[string]interface{}{
		"type":     "local",
		"base_dir": "/data",
		"timeout":  "30s",
		"retries":  "3",
		"buckets":  "a,b",
	}, &cfg)
	require.NoError(t, err)
	assert.Equal(t, "local", cfg.Type)
	assert.Equal(t, "/data", cfg.BaseDir)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 3, cfg.Retries)
	assert.Equal(t, []string{"a", "b"}, cfg.Buckets)
}

func TestBindProperties_UnknownKey(t *testing.T) {
	var cfg localStorage
	err := configbinder.BindProperties(map[string]interface{}{"bogus": 1}, &cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "localStorage")
}

func TestBindStrings(t *testing.T) {
	var cfg localStorage
	require.NoError(t, configbinder.BindStrings(map[string]string{"retries": "7"}, &cfg))
	assert.Equal(t, 7, cfg.Retries)
	require.NoError(t, configbinder.BindStrings(nil, &cfg))
}
