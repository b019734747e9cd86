package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsKeepStrictFilePolicy(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	cfg := fromViper(v)
	require.False(t, cfg.Files.AllowAnyAuthenticated)
	assert.Equal(t, StorageDriverLocal, cfg.Storage.Driver)
	assert.Equal(t, int64(10*1024*1024), cfg.Files.MaxFileSizeBytes)
	assert.Equal(t, time.Minute, cfg.Converter.Timeout)
	assert.True(t, cfg.IsDevelopment())
}

func TestOverridesFromViper(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	v.Set("FILES_ALLOW_ANY_AUTHENTICATED", true)
	v.Set("STORAGE_DRIVER", "MINIO")
	v.Set("CONVERTER_TIMEOUT", "not-a-duration")
	v.Set("ALLOWED_ORIGINS", "https://www.sibaso.site, ,http://localhost:5173")
	v.Set("ENV", EnvProduction)

	cfg := fromViper(v)
	assert.True(t, cfg.Files.AllowAnyAuthenticated)
	assert.Equal(t, StorageDriverMinio, cfg.Storage.Driver)
	assert.Equal(t, time.Minute, cfg.Converter.Timeout)
	assert.Equal(t, []string{"https://www.sibaso.site", "http://localhost:5173"}, cfg.CORS.AllowedOrigins)
	assert.False(t, cfg.IsDevelopment())
}
