package workspace_test

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koxudaxi/t-linter/pkg/workspace"
)

func testFs(t *testing.T, files map[string]string) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	for path, content := range files {
		require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0o644))
	}
	return fs
}

func TestPythonFiles(t *testing.T) {
	fs := testFs(t, map[string]string{
		"/proj/app.py":                 "x = 1\n",
		"/proj/views/home.py":          "y = 2\n",
		"/proj/readme.md":              "nope\n",
		"/proj/.venv/lib/site.py":      "skipped\n",
		"/proj/__pycache__/app.cpython-313.py": "skipped\n",
	})
	ws := workspace.NewWithFs(fs, "/proj")
	files, err := ws.PythonFiles()
	require.NoError(t, err)
	assert.Equal(t, []string{"/proj/app.py", "/proj/views/home.py"}, files)
}

func TestModuleName(t *testing.T) {
	ws := workspace.NewWithFs(afero.NewMemMapFs(), "/proj")
	assert.Equal(t, "app", ws.ModuleName("/proj/app.py"))
	assert.Equal(t, "views.home", ws.ModuleName("/proj/views/home.py"))
	assert.Equal(t, "views", ws.ModuleName("/proj/views/__init__.py"))
}

func TestModuleVersion(t *testing.T) {
	fs := testFs(t, map[string]string{"/proj/views/home.py": "a = 1\n"})
	ws := workspace.NewWithFs(fs, "/proj")

	v1 := ws.ModuleVersion("views.home")
	require.NotEmpty(t, v1)

	require.NoError(t, afero.WriteFile(fs, "/proj/views/home.py", []byte("a = 2\n"), 0o644))
	v2 := ws.ModuleVersion("views.home")
	assert.NotEqual(t, v1, v2, "content edits change the version")

	assert.Empty(t, ws.ModuleVersion("missing.module"))
}
