package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sizes struct {
	Buffer ByteSize
	Flush  ByteSize
	Plain  ByteSize
}

func TestByteSizeDecodeHook(t *testing.T) {
	v := viper.New()
	v.Set("buffer", "1M")
	v.Set("flush", "512K")
	v.Set("plain", 4096)

	var s sizes
	require.NoError(t, v.Unmarshal(&s, CustomHooks...))
	assert.Equal(t, ByteSize(1024*1024), s.Buffer)
	assert.Equal(t, ByteSize(512*1024), s.Flush)
	assert.Equal(t, ByteSize(4096), s.Plain)
}

func TestByteSizeDecodeHook_Invalid(t *testing.T) {
	v := viper.New()
	v.Set("buffer", "lots")

	var s sizes
	assert.Error(t, v.Unmarshal(&s, CustomHooks...))
}

func TestByteSize_String(t *testing.T) {
	assert.Equal(t, "1M", ByteSize(1024*1024).String())
}
