package locales

import (
	"testing"

	"github.com/locflow/locflow/internal/fault"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry(t *testing.T) {
	r, err := NewRegistry("en", []string{"ru", "zh", "es"})
	require.NoError(t, err)
	require.Equal(t, "en", r.Source())
	require.Equal(t, []string{"ru", "zh", "es"}, r.Targets())
	require.True(t, r.Contains("zh"))
	require.False(t, r.Contains("fr"))
}

func TestNewRegistry_DropsSourceAndDuplicates(t *testing.T) {
	r, err := NewRegistry("en", []string{"ru", "en", "ru", "de"})
	require.NoError(t, err)
	require.Equal(t, []string{"ru", "de"}, r.Targets())
}

func TestNewRegistry_InvalidCode(t *testing.T) {
	_, err := NewRegistry("en", []string{"not-a-locale!"})
	require.True(t, fault.IsKind(err, fault.Validation))
}

func TestNewRegistry_Empty(t *testing.T) {
	_, err := NewRegistry("en", []string{"en"})
	require.True(t, fault.IsKind(err, fault.Validation))
}

func TestFilter(t *testing.T) {
	r, err := NewRegistry("en", []string{"ru", "zh", "es"})
	require.NoError(t, err)

	require.Equal(t, []string{"ru", "zh", "es"}, r.Filter(nil))
	require.Equal(t, []string{"ru", "zh", "es"}, r.Filter([]string{All}))
	require.Equal(t, []string{"zh"}, r.Filter([]string{"zh", "fr"}))
	require.Empty(t, r.Filter([]string{"fr", "it"}))
}

func TestDisplayName(t *testing.T) {
	require.Equal(t, "Russian", DisplayName("ru"))
	require.Equal(t, "??", DisplayName("??"))
}
