package splitter

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTemplatePathProvider(t *testing.T) {
	start := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	provider, err := NewTemplatePathProvider(
		"/rec/{{.Source}}_{{.Session.Year}}-{{.Session.Month}}-{{.Session.Day}}_{{.File.Count}}",
		"mychannel", start)
	require.NoError(t, err)

	base, ts := provider()
	require.Equal(t, "/rec/mychannel_2026-03-14_0", base)
	require.NotZero(t, ts)

	// the file counter advances per call
	base, _ = provider()
	require.Equal(t, "/rec/mychannel_2026-03-14_1", base)
}

func TestTemplateFileTimestamp(t *testing.T) {
	provider, err := NewTemplatePathProvider("{{.File.Unix}}", "s", time.Now())
	require.NoError(t, err)

	base, ts := provider()
	require.Equal(t, fmt.Sprintf("%d", ts), base)
}

func TestTemplateBadSyntax(t *testing.T) {
	_, err := NewTemplatePathProvider("{{.Source", "s", time.Now())
	require.Error(t, err)
}

func TestTemplateUnknownField(t *testing.T) {
	// bad field references fail at construction, not mid-recording
	_, err := NewTemplatePathProvider("{{.NoSuchField}}", "s", time.Now())
	require.Error(t, err)
}
