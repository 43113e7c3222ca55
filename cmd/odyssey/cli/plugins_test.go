package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pluginFS(t *testing.T) afero.Fs {
	t.Helper()
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/p/polls/manifest.json",
		[]byte(`{"name":"polls","type":"content","spec":{"type_name":"poll","schema":{"question":"required"}}}`), 0o644))
	require.NoError(t, afero.WriteFile(fsys, "/p/staff/manifest.yaml", []byte(`
type: acl
spec:
  rules:
    - topic_pattern: 'staff'
      target_role_id: moderator
      actions: crud
`), 0o644))
	return fsys
}

func TestValidateCommandJSONSuccess(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := NewPluginsCLI(pluginFS(t)).ValidateCommand(context.Background(), PluginsValidateOptions{
		Dir:        "/p",
		JSONOutput: true,
		Stdout:     &stdout,
		Stderr:     &stderr,
	})
	require.Equal(t, 0, code, stderr.String())

	var summary PluginsValidateSummary
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &summary))
	assert.True(t, summary.OK)
	assert.Equal(t, []string{"polls", "staff"}, summary.Loaded)
	assert.Contains(t, summary.ContentTypes, "poll")
	assert.Equal(t, 1, summary.Rules)
	assert.Empty(t, summary.Errors)
}

func TestValidateCommandReportsBrokenPlugin(t *testing.T) {
	fsys := pluginFS(t)
	require.NoError(t, afero.WriteFile(fsys, "/p/zz-theme/manifest.json", []byte(`{"type":"theme"}`), 0o644))

	var stdout bytes.Buffer
	code := NewPluginsCLI(fsys).ValidateCommand(context.Background(), PluginsValidateOptions{
		Dir:    "/p",
		Stdout: &stdout,
		Stderr: &bytes.Buffer{},
	})
	assert.Equal(t, 10, code)
	assert.Contains(t, stdout.String(), "fail")
	assert.Contains(t, stdout.String(), "theme")
}

func TestValidateCommandRequiresDir(t *testing.T) {
	var stderr bytes.Buffer
	code := NewPluginsCLI(afero.NewMemMapFs()).ValidateCommand(context.Background(), PluginsValidateOptions{
		Stdout: &bytes.Buffer{},
		Stderr: &stderr,
	})
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "directory is required")
}

func TestPluginsCommandExitCode(t *testing.T) {
	fsys := pluginFS(t)
	require.NoError(t, afero.WriteFile(fsys, "/p/bad/manifest.json", []byte(`{not json`), 0o644))

	cmd := NewPluginsCommand(NewPluginsCLI(fsys))
	cmd.SetArgs([]string{"validate", "/p", "--json"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SilenceUsage = true

	err := cmd.ExecuteContext(context.Background())
	var exit *ExitError
	require.True(t, errors.As(err, &exit))
	assert.Equal(t, 10, exit.Code)
}
