package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	cfg := fromViper(v)

	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, 30*24*time.Hour, cfg.Lifecycle.ExpiryWindow)
	assert.Equal(t, 5, cfg.Uploads.ItemImages.MaxSlots)
	assert.Equal(t, int64(10*1024*1024), cfg.Uploads.ItemImages.MaxSizeBytes)
	assert.Equal(t, 3, cfg.Uploads.ClaimDocuments.MaxSlots)
	assert.Equal(t, int64(5*1024*1024), cfg.Uploads.ClaimDocuments.MaxSizeBytes)
	assert.Contains(t, cfg.Uploads.ClaimDocuments.AllowedMIMEs, "application/pdf")
	assert.NotContains(t, cfg.Uploads.ItemImages.AllowedMIMEs, "application/pdf")
	assert.False(t, cfg.Uploads.LenientFailedSlots)
	assert.Equal(t, 2*time.Minute, cfg.Uploads.TaskTimeout)
}

func TestOverridesAndFallbacks(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	v.Set("ITEM_EXPIRY_WINDOW", "48h")
	v.Set("UPLOAD_TASK_TIMEOUT", "not-a-duration")
	v.Set("ITEM_IMAGE_MAX_SLOTS", -1)
	cfg := fromViper(v)

	assert.Equal(t, 48*time.Hour, cfg.Lifecycle.ExpiryWindow)
	assert.Equal(t, 2*time.Minute, cfg.Uploads.TaskTimeout)
	assert.Equal(t, 5, cfg.Uploads.ItemImages.MaxSlots)
}

func TestSplitAndTrim(t *testing.T) {
	assert.Nil(t, splitAndTrim(""))
	assert.Equal(t, []string{"a", "b"}, splitAndTrim(" a, ,b "))
}
