package validator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type registerPayload struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required,min=6"`
	FullName string `validate:"required,max=200"`
}

func TestValidate_Valid(t *testing.T) {
	err := Validate(registerPayload{
		Email:    "alice@example.com",
		Password: "SecurePass123",
		FullName: "Alice Smith",
	})
	assert.NoError(t, err)
}

func TestValidate_MissingRequired(t *testing.T) {
	err := Validate(registerPayload{})
	require.Error(t, err)

	var vErr *ValidationError
	require.True(t, errors.As(err, &vErr))

	fields := vErr.Fields()
	assert.Equal(t, "is required", fields["Email"])
	assert.Equal(t, "is required", fields["Password"])
	assert.Equal(t, "is required", fields["FullName"])
}

func TestValidate_InvalidEmail(t *testing.T) {
	err := Validate(registerPayload{
		Email:    "not-an-email",
		Password: "SecurePass123",
		FullName: "Alice Smith",
	})
	require.Error(t, err)

	var vErr *ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "must be a valid email address", vErr.Fields()["Email"])
}

func TestValidate_MinLength(t *testing.T) {
	err := Validate(registerPayload{
		Email:    "alice@example.com",
		Password: "short",
		FullName: "Alice Smith",
	})
	require.Error(t, err)

	var vErr *ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "must be at least 6 characters", vErr.Fields()["Password"])
	assert.Contains(t, vErr.Error(), "field 'Password'")
}
