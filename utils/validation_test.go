package utils

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleRequest struct {
	Prompt string `validate:"required,max=16"`
	Locale string `validate:"max=4"`
}

func TestValidateStruct(t *testing.T) {
	t.Run("valid struct passes", func(t *testing.T) {
		assert.NoError(t, ValidateStruct(sampleRequest{Prompt: "hello", Locale: "en"}))
	})

	t.Run("missing required field", func(t *testing.T) {
		err := ValidateStruct(sampleRequest{})
		require.Error(t, err)

		var validationErr *ValidationError
		require.True(t, errors.As(err, &validationErr))
		assert.Contains(t, validationErr.Fields, "Prompt")
		assert.Equal(t, "Prompt is required", validationErr.Fields["Prompt"])
	})

	t.Run("max length violation", func(t *testing.T) {
		err := ValidateStruct(sampleRequest{Prompt: "this prompt is definitely too long"})
		require.Error(t, err)

		var validationErr *ValidationError
		require.True(t, errors.As(err, &validationErr))
		assert.Equal(t, "Prompt must be at most 16", validationErr.Fields["Prompt"])
	})

	t.Run("field details map", func(t *testing.T) {
		err := ValidateStruct(sampleRequest{Locale: "en-US-x"})
		require.Error(t, err)

		var validationErr *ValidationError
		require.True(t, errors.As(err, &validationErr))

		details := validationErr.FieldDetails()
		assert.Contains(t, details, "Prompt")
		assert.Contains(t, details, "Locale")
	})
}
