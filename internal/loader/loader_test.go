package loader

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OrlandoBitencourt/whydah/internal/domain"
)

const service1Config = `{
	"feature1": {"value": "on", "enabled": "true", "type": "string"},
	"feature2": {"value": "42", "enabled": false, "type": "int"}
}`

func writeFile(t *testing.T, fs billy.Filesystem, name, content string) {
	t.Helper()
	require.NoError(t, util.WriteFile(fs, name, []byte(content), 0o644))
}

func newRepoFS(t *testing.T) billy.Filesystem {
	t.Helper()

	fs := memfs.New()
	writeFile(t, fs, "service1/config.json", service1Config)
	writeFile(t, fs, "superservice/config.json", `{"mode": {"value": "fast", "enabled": true, "type": "string"}}`)
	writeFile(t, fs, "brokenjsonconfig/config.json", `{"feature1": {"value": "on",`)
	writeFile(t, fs, "badschema/config.json", `{"feature1": {"value": "on"}}`)
	writeFile(t, fs, ".git/config.json", `{}`)
	writeFile(t, fs, "README.md", "# configs")
	require.NoError(t, fs.MkdirAll("noconfigjson", 0o755))

	return fs
}

func TestLoad_FiltersInvalidServices(t *testing.T) {
	snapshot, report, err := New(newRepoFS(t)).Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"service1", "superservice"}, snapshot.Services())
	assert.Equal(t, []string{"service1", "superservice"}, report.Loaded)

	reasons := map[string]string{}
	for _, s := range report.Skipped {
		reasons[s.Service] = s.Reason
	}
	assert.Equal(t, map[string]string{
		"badschema":        ReasonInvalidSchema,
		"brokenjsonconfig": ReasonMalformed,
		"noconfigjson":     ReasonMissing,
	}, reasons)
	assert.Len(t, report.Failed(), 2)
}

func TestLoad_PreservesValues(t *testing.T) {
	snapshot, _, err := New(newRepoFS(t)).Load(context.Background())
	require.NoError(t, err)

	feature1 := snapshot["service1"]["feature1"]
	assert.Equal(t, "on", feature1[domain.PropertyValue])
	assert.Equal(t, "true", feature1[domain.PropertyEnabled])
	assert.Equal(t, false, snapshot["service1"]["feature2"][domain.PropertyEnabled])
}

func TestLoad_KeepsNumberLiterals(t *testing.T) {
	fs := memfs.New()
	writeFile(t, fs, "svc/config.json", `{"ratio": {"value": 1.50, "enabled": true, "type": "float"}}`)

	snapshot, _, err := New(fs).Load(context.Background())
	require.NoError(t, err)

	out, err := json.Marshal(snapshot["svc"]["ratio"][domain.PropertyValue])
	require.NoError(t, err)
	assert.Equal(t, "1.50", string(out))
}

func TestLoad_EmptyServiceConfig(t *testing.T) {
	fs := memfs.New()
	writeFile(t, fs, "empty/config.json", `{}`)

	snapshot, _, err := New(fs).Load(context.Background())
	require.NoError(t, err)

	cfg, ok := snapshot["empty"]
	assert.True(t, ok)
	assert.Empty(t, cfg)
}

func TestLoad_SizeLimit(t *testing.T) {
	big := strings.Repeat("x", 200)
	fs := memfs.New()
	writeFile(t, fs, "big/config.json", `{"a": {"value": "`+big+`", "enabled": true, "type": "string"}}`)
	writeFile(t, fs, "small/config.json", `{"a": {"value": "x", "enabled": true, "type": "string"}}`)

	snapshot, report, err := New(fs, WithMaxSize(100)).Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"small"}, snapshot.Services())
	require.Len(t, report.Failed(), 1)
	assert.Equal(t, ReasonTooLarge, report.Failed()[0].Reason)
}

func TestLoad_SizeLimitUsesSerializedForm(t *testing.T) {
	// Whitespace is not counted: the file is re-encoded before the check.
	padded := `{"a":` + strings.Repeat(" ", 500) + `{"value": "x", "enabled": true, "type": "string"}}`
	fs := memfs.New()
	writeFile(t, fs, "svc/config.json", padded)

	snapshot, _, err := New(fs, WithMaxSize(100)).Load(context.Background())
	require.NoError(t, err)
	assert.Contains(t, snapshot, "svc")
}

func htmlConfig(value string) string {
	return `{"a": {"value": "` + value + `", "enabled": true, "type": "html"}}`
}

func TestLoad_SizeLimitIgnoresHTMLEscaping(t *testing.T) {
	// Markup characters count once each, not as \u003c escapes.
	fs := memfs.New()
	writeFile(t, fs, "markup/config.json", htmlConfig(strings.Repeat("<", 20000)))

	snapshot, report, err := New(fs).Load(context.Background())
	require.NoError(t, err)
	assert.Contains(t, snapshot, "markup")
	assert.Empty(t, report.Failed())
}

func TestLoad_SizeLimitBoundary(t *testing.T) {
	fs := memfs.New()
	writeFile(t, fs, "exact/config.json", htmlConfig(strings.Repeat("<", domain.MaxConfigSize-53)))
	writeFile(t, fs, "over/config.json", htmlConfig(strings.Repeat("<", domain.MaxConfigSize-52)))

	snapshot, report, err := New(fs).Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"exact"}, snapshot.Services())
	require.Len(t, report.Failed(), 1)
	assert.Equal(t, "over", report.Failed()[0].Service)
	assert.Equal(t, ReasonTooLarge, report.Failed()[0].Reason)
}

func TestEncodedSize(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want int
	}{
		{name: "empty object", raw: `{}`, want: 2},
		{name: "separators", raw: `{"a": [1, 2], "b": null}`, want: 24},
		{name: "escapes", raw: `{"k": {"value": "\u00e9\ud83d\ude00\n\"\\\u007f\u0001<&", "enabled": null, "type": [1.5, false]}}`, want: 97},
		{name: "number literal kept", raw: `[1.50]`, want: 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec := json.NewDecoder(strings.NewReader(tt.raw))
			dec.UseNumber()
			var doc any
			require.NoError(t, dec.Decode(&doc))

			size, err := encodedSize(doc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, size)
		})
	}
}

func TestEncodedSize_UnexpectedType(t *testing.T) {
	_, err := encodedSize(map[string]any{"a": 1.5})
	assert.Error(t, err)
}

func TestLoad_TrailingData(t *testing.T) {
	fs := memfs.New()
	writeFile(t, fs, "svc/config.json", `{} {}`)

	snapshot, report, err := New(fs).Load(context.Background())
	require.NoError(t, err)

	assert.Empty(t, snapshot)
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, ReasonMalformed, report.Skipped[0].Reason)
}

func TestLoad_NonObjectRoot(t *testing.T) {
	fs := memfs.New()
	writeFile(t, fs, "svc/config.json", `["a", "b"]`)

	snapshot, report, err := New(fs).Load(context.Background())
	require.NoError(t, err)

	assert.Empty(t, snapshot)
	assert.Equal(t, ReasonInvalidSchema, report.Skipped[0].Reason)
	assert.True(t, domain.IsSchemaError(report.Skipped[0].Err))
}

func TestLoad_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := New(newRepoFS(t)).Load(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoad_OSFilesystem(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "service1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "service1", "config.json"), []byte(service1Config), 0o644))

	snapshot, _, err := New(osfs.New(dir)).Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, snapshot["service1"], 2)
}

func TestLoad_MissingRoot(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "gone")

	_, _, err := New(osfs.New(missing)).Load(context.Background())
	assert.Error(t, err)
}
