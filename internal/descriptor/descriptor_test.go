package descriptor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngbi/ijbatch/internal/execx"
)

func testParams(root string) Params {
	return Params{
		User:          "jcorrea",
		DatasetID:     51,
		ImageName:     "stack one.tif",
		RunID:         "4f1c7a3e",
		MacroPath:     "/opt/ij/macros/stack_out.ijm",
		OutputDir:     filepath.Join(root, "ijb-out"),
		WallTime:      "0:30:00",
		PrivateMemory: "4GB",
		JobListPath:   filepath.Join(root, "ijb-out.job"),
		Nodes:         3,
	}
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gen.sh")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return path
}

func TestParams_ArgsOrder(t *testing.T) {
	p := testParams("/s")
	assert.Equal(t, []string{
		"jcorrea", "51", "stack one.tif", "4f1c7a3e", "/opt/ij/macros/stack_out.ijm",
		"/s/ijb-out/", "/s/ijb-out", "0:30:00", "4GB", "/s/ijb-out.job", "3",
	}, p.Args())
}

func TestScriptGenerator_WritesDescriptor(t *testing.T) {
	root := t.TempDir()
	script := writeScript(t, `#!/bin/sh
echo "#PBS -N $3"
echo "#PBS -l nodes=${11}"
echo "#PBS -l walltime=$8"
echo "tfmq ${10}"
`)
	out := filepath.Join(root, "ijb-out.pbs")
	gen := NewScriptGenerator(script, execx.NewExecutor(5*time.Second))

	require.NoError(t, gen.Generate(context.Background(), testParams(root), out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "#PBS -N stack one.tif")
	assert.Contains(t, string(data), "#PBS -l nodes=3")
	assert.Contains(t, string(data), "#PBS -l walltime=0:30:00")
	assert.Contains(t, string(data), "tfmq "+filepath.Join(root, "ijb-out.job"))
}

func TestScriptGenerator_NonZeroExit(t *testing.T) {
	root := t.TempDir()
	script := writeScript(t, "#!/bin/sh\necho partial\necho boom >&2\nexit 2\n")
	gen := NewScriptGenerator(script, execx.NewExecutor(5*time.Second))

	err := gen.Generate(context.Background(), testParams(root), filepath.Join(root, "x.pbs"))
	assert.ErrorIs(t, err, ErrGeneratorFailed)
	assert.Contains(t, err.Error(), "boom")
}

func TestScriptGenerator_EmptyOutput(t *testing.T) {
	root := t.TempDir()
	script := writeScript(t, "#!/bin/sh\nexit 0\n")
	gen := NewScriptGenerator(script, execx.NewExecutor(5*time.Second))

	err := gen.Generate(context.Background(), testParams(root), filepath.Join(root, "x.pbs"))
	assert.ErrorIs(t, err, ErrEmptyDescriptor)
}

func TestScriptGenerator_Timeout(t *testing.T) {
	root := t.TempDir()
	script := writeScript(t, "#!/bin/sh\nsleep 30\n")
	gen := NewScriptGenerator(script, execx.NewExecutor(200*time.Millisecond))

	err := gen.Generate(context.Background(), testParams(root), filepath.Join(root, "x.pbs"))
	assert.ErrorIs(t, err, execx.ErrTimeout)
}

func TestScriptGenerator_RefusesExistingDescriptor(t *testing.T) {
	root := t.TempDir()
	out := filepath.Join(root, "x.pbs")
	require.NoError(t, os.WriteFile(out, []byte("old"), 0o644))
	gen := NewScriptGenerator(writeScript(t, "#!/bin/sh\necho new\n"), execx.NewExecutor(time.Second))

	assert.Error(t, gen.Generate(context.Background(), testParams(root), out))
}
