package config

import (
	"fmt"
	"reflect"

	"code.cloudfoundry.org/bytefmt"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

var CustomHooks = []viper.DecoderConfigOption{
	viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		ByteSizeDecodeHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)),
}

// ByteSize is a number of bytes that may be written in config files either as a plain integer or as a human
// readable size such as "512K", "1M" or "1MiB". All suffixes are powers of 1024.
type ByteSize uint64

func (b ByteSize) String() string {
	return bytefmt.ByteSize(uint64(b))
}

// ParseByteSize parses a human readable size into a ByteSize.
func ParseByteSize(s string) (ByteSize, error) {
	n, err := bytefmt.ToBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
	}
	return ByteSize(n), nil
}

func ByteSizeDecodeHook() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if t != reflect.TypeOf(ByteSize(0)) || f.Kind() != reflect.String {
			return data, nil
		}
		return ParseByteSize(data.(string))
	}
}
