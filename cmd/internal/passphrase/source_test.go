package passphrase

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSourceReadsEnvironment(t *testing.T) {
	t.Setenv("LENDCTL_TEST_SECRET", "s3cr3t")
	src := NewSource("LENDCTL_TEST_SECRET", "jwt secret")
	value, err := src.Get()
	require.NoError(t, err)
	require.Equal(t, "s3cr3t", value)

	t.Setenv("LENDCTL_TEST_SECRET", "changed")
	value, err = src.Get()
	require.NoError(t, err)
	require.Equal(t, "s3cr3t", value, "value is cached")
}

func TestSourceRejectsBlankEnvironment(t *testing.T) {
	t.Setenv("LENDCTL_TEST_SECRET", "  ")
	_, err := NewSource("LENDCTL_TEST_SECRET", "").Get()
	require.ErrorContains(t, err, "set but empty")
}

func TestSourcePromptsWhenUnset(t *testing.T) {
	calls := 0
	src := NewSource("LENDCTL_TEST_UNSET_SECRET", "jwt secret").WithPrompt(func(label string) (string, error) {
		calls++
		require.Equal(t, "jwt secret", label)
		return "typed-secret", nil
	})
	for i := 0; i < 2; i++ {
		value, err := src.Get()
		require.NoError(t, err)
		require.Equal(t, "typed-secret", value)
	}
	require.Equal(t, 1, calls)
}

func TestSourcePromptFailureNamesVariable(t *testing.T) {
	src := NewSource("LENDCTL_TEST_UNSET_SECRET", "jwt secret").WithPrompt(func(string) (string, error) {
		return "", errNoTerminal
	})
	_, err := src.Get()
	require.ErrorIs(t, err, errNoTerminal)
	require.ErrorContains(t, err, "LENDCTL_TEST_UNSET_SECRET")

	blank := NewSource("", "").WithPrompt(func(string) (string, error) { return " ", nil })
	_, err = blank.Get()
	require.ErrorContains(t, err, "secret cannot be empty")
}

