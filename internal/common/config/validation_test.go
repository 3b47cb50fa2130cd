package config

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type validated struct {
	Nested struct {
		Name  string `validate:"required"`
		Count int    `validate:"gt=0"`
	}
}

func TestLogValidationErrors(t *testing.T) {
	hook := test.NewGlobal()
	defer hook.Reset()

	err := validator.New().Struct(validated{})
	require.Error(t, err)
	LogValidationErrors(errors.WithStack(err))

	require.Len(t, hook.AllEntries(), 2)
	assert.Equal(t, log.ErrorLevel, hook.AllEntries()[0].Level)
	assert.Equal(t, "ConfigError: Field Nested.Name is required but was not found", hook.AllEntries()[0].Message)
	assert.Equal(t, "ConfigError: Field Nested.Count has invalid value 0: gt", hook.AllEntries()[1].Message)
}

func TestLogValidationErrors_OtherError(t *testing.T) {
	hook := test.NewGlobal()
	defer hook.Reset()

	LogValidationErrors(errors.New("load.totalRows is too small"))

	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, "ConfigError: load.totalRows is too small", hook.LastEntry().Message)
}

func TestLogValidationErrors_Nil(t *testing.T) {
	hook := test.NewGlobal()
	defer hook.Reset()

	LogValidationErrors(nil)

	assert.Empty(t, hook.AllEntries())
}
