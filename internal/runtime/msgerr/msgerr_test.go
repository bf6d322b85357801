package msgerr

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/contractflow/internal/runtime/errors"
)

var userNotFound = Define("USER_NOT_FOUND", "User {userId} not found", Metadata{
	Type: TypeBusiness, Severity: SeverityWarning, StatusCode: 404,
})

func TestInterpolate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		template string
		params   map[string]any
		want     string
	}{
		{"no params", "User {userId} not found", nil, "User {userId} not found"},
		{"single", "User {userId} not found", map[string]any{"userId": "123"}, "User 123 not found"},
		{"missing stays literal", "{a} and {b}", map[string]any{"a": 1}, "1 and {b}"},
		{"repeated", "{a}{a}", map[string]any{"a": "x"}, "xx"},
		{"non string", "took {ms}ms", map[string]any{"ms": 42}, "took 42ms"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, Interpolate(tc.template, tc.params))
		})
	}
}

func TestRegistryCreate(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	require.NoError(t, reg.Register(userNotFound))

	err := reg.Create("USER_NOT_FOUND", WithParam("userId", "123"), WithDetail("userId", "123"))
	assert.Equal(t, "USER_NOT_FOUND", err.Code)
	assert.Equal(t, "User 123 not found", err.Message)
	assert.Equal(t, 404, err.StatusCode())
	assert.True(t, err.IsType(TypeBusiness))
	assert.True(t, err.HasSeverity(SeverityWarning))
	assert.False(t, err.IsRetryable())
	assert.Equal(t, "123", err.Details["userId"])

	unknown := reg.Create("NOPE")
	assert.Equal(t, "NOPE", unknown.Code)
	assert.True(t, unknown.IsType(TypeUnknown))
}

func TestRegistryDuplicatePolicy(t *testing.T) {
	t.Parallel()

	t.Run("reject", func(t *testing.T) {
		reg := NewRegistry()
		require.NoError(t, reg.Register(userNotFound))
		err := reg.Register(userNotFound)
		assert.ErrorIs(t, err, errspkg.ErrDuplicateErrorCode)
	})

	t.Run("overwrite", func(t *testing.T) {
		reg := NewRegistry(WithDuplicatePolicy(OverwriteDuplicates))
		require.NoError(t, reg.Register(userNotFound))
		replaced := Define("USER_NOT_FOUND", "gone", Metadata{Type: TypeBusiness, StatusCode: 410})
		require.NoError(t, reg.Register(replaced))
		def, ok := reg.Lookup("USER_NOT_FOUND")
		require.True(t, ok)
		assert.Equal(t, 410, def.Metadata.StatusCode)
	})

	t.Run("builtin override", func(t *testing.T) {
		reg := NewRegistry()
		custom := Define(CodeValidation, "Bad input", Metadata{Type: TypeValidation, StatusCode: 422})
		require.NoError(t, reg.Register(custom))
		assert.Equal(t, 422, reg.Create(CodeValidation).StatusCode())
		assert.ErrorIs(t, reg.Register(custom), errspkg.ErrDuplicateErrorCode)
	})

	t.Run("batch is atomic", func(t *testing.T) {
		reg := NewRegistry()
		other := Define("OTHER", "other", Metadata{Type: TypeBusiness})
		err := reg.RegisterMany(other, userNotFound, userNotFound)
		assert.ErrorIs(t, err, errspkg.ErrDuplicateErrorCode)
		_, ok := reg.Lookup("OTHER")
		assert.False(t, ok)
	})

	t.Run("empty code", func(t *testing.T) {
		reg := NewRegistry()
		assert.ErrorIs(t, reg.Register(Definition{}), errspkg.ErrEmptyErrorCode)
	})
}

func TestParseDuplicatePolicy(t *testing.T) {
	t.Parallel()

	p, err := ParseDuplicatePolicy("")
	require.NoError(t, err)
	assert.Equal(t, RejectDuplicates, p)

	p, err = ParseDuplicatePolicy("Overwrite")
	require.NoError(t, err)
	assert.Equal(t, OverwriteDuplicates, p)

	_, err = ParseDuplicatePolicy("merge")
	assert.ErrorIs(t, err, errspkg.ErrDuplicatePolicy)
}

func TestToResponseErrorSanitizesSystemErrors(t *testing.T) {
	t.Parallel()

	internal := New(CodeInternal, WithDetail("stack", "db.go:42"), WithCause(errors.New("dial tcp: refused")))
	internal.Message = "dial tcp 10.0.0.3: refused"

	re := internal.ToResponseError()
	assert.Equal(t, CodeInternal, re.Code)
	assert.Equal(t, "Internal server error", re.Message)
	assert.Nil(t, re.Details)

	business := NewRegistry()
	require.NoError(t, business.Register(userNotFound))
	re = business.Create("USER_NOT_FOUND", WithParam("userId", "7"), WithDetail("userId", "7")).ToResponseError()
	assert.Equal(t, "User 7 not found", re.Message)
	assert.Equal(t, map[string]any{"userId": "7"}, re.Details)
}

func TestFromResponseEnriches(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	require.NoError(t, reg.Register(userNotFound))

	remote := ResponseError{Code: "USER_NOT_FOUND", Message: "User 123 not found"}
	err := reg.FromResponse(remote)
	assert.Equal(t, 404, err.StatusCode())
	assert.Equal(t, "User 123 not found", err.Message)

	bare := FromResponseError(remote)
	assert.Equal(t, 0, bare.StatusCode())
	assert.True(t, errors.Is(err, bare), "errors match by code")
}

func TestToMessagingError(t *testing.T) {
	t.Parallel()

	assert.Nil(t, ToMessagingError(nil, ""))

	original := New(CodeRateLimited)
	wrapped := fmt.Errorf("handler: %w", original)
	assert.Same(t, original, ToMessagingError(wrapped, ""))

	assert.Equal(t, CodeRequestTimeout, ToMessagingError(context.DeadlineExceeded, "").Code)
	assert.Equal(t, CodeRequestCancelled, ToMessagingError(context.Canceled, "").Code)
	assert.Equal(t, CodeNotConnected, ToMessagingError(errspkg.ErrNotConnected, "").Code)

	plain := errors.New("boom")
	got := ToMessagingError(plain, "")
	assert.Equal(t, CodeUnknown, got.Code)
	assert.Equal(t, "boom", got.Message)
	assert.ErrorIs(t, got, plain)
	assert.Equal(t, "An unexpected error occurred", got.ToResponseError().Message)

	assert.Equal(t, CodeInternal, ToMessagingError(plain, CodeInternal).Code)

	reg := NewRegistry()
	require.NoError(t, reg.Register(userNotFound))
	assert.Equal(t, "USER_NOT_FOUND", reg.ToMessagingError(plain, "USER_NOT_FOUND").Code)
}

func TestPackagePredicates(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("wrapped: %w", New(CodeTransport, WithParam("reason", "eof")))
	assert.True(t, IsRetryable(err))
	assert.True(t, IsType(err, TypeTransport))
	assert.Equal(t, CodeTransport, CodeOf(err))

	assert.False(t, IsRetryable(errors.New("x")))
	assert.Empty(t, CodeOf(errors.New("x")))
}

func TestEnumText(t *testing.T) {
	t.Parallel()

	for _, typ := range []ErrorType{TypeUnknown, TypeBusiness, TypeValidation, TypeSystem, TypeTransport, TypeSecurity} {
		parsed, err := ParseErrorType(typ.String())
		require.NoError(t, err)
		assert.Equal(t, typ, parsed)
	}
	for _, sev := range []Severity{SeverityInfo, SeverityWarning, SeverityError, SeverityCritical} {
		parsed, err := ParseSeverity(sev.String())
		require.NoError(t, err)
		assert.Equal(t, sev, parsed)
	}
	_, err := ParseErrorType("weird")
	assert.Error(t, err)
}

func TestRetry(t *testing.T) {
	t.Parallel()

	t.Run("succeeds after retryable failures", func(t *testing.T) {
		t.Parallel()
		calls := 0
		var retries []int
		got, err := Retry(context.Background(), func(context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", New(CodeTransport)
			}
			return "ok", nil
		}, RetryOptions{
			MaxRetries:   5,
			InitialDelay: time.Millisecond,
			OnRetry:      func(attempt int, _ error, _ time.Duration) { retries = append(retries, attempt) },
		})
		require.NoError(t, err)
		assert.Equal(t, "ok", got)
		assert.Equal(t, 3, calls)
		assert.Equal(t, []int{1, 2}, retries)
	})

	t.Run("stops on non retryable", func(t *testing.T) {
		t.Parallel()
		calls := 0
		_, err := Retry(context.Background(), func(context.Context) (int, error) {
			calls++
			return 0, New(CodeValidation)
		}, RetryOptions{InitialDelay: time.Millisecond})
		assert.Equal(t, 1, calls)
		assert.Equal(t, CodeValidation, CodeOf(err))
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		t.Parallel()
		calls := 0
		_, err := Retry(context.Background(), func(context.Context) (int, error) {
			calls++
			return 0, New(CodeTransport)
		}, RetryOptions{MaxRetries: 2, InitialDelay: time.Millisecond})
		assert.Error(t, err)
		assert.Equal(t, 3, calls)
	})
}
