package launch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	uerrors "github.com/yhonda-ohishi-pub-dev/selfswitch/src/internal/errors"
)

func fakeInspector(exe string, exeErr error, argv []string) *Inspector {
	return &Inspector{
		suffix:  ".jar",
		exe:     func(context.Context) (string, error) { return exe, exeErr },
		cmdline: func(context.Context) ([]string, error) { return argv, nil },
		cwd:     func(context.Context) (string, error) { return "/opt/halo", nil },
	}
}

func TestInspector_CurrentContext(t *testing.T) {
	i := fakeInspector("/usr/bin/java", nil, []string{"java", "-jar", "halo.jar", "--port=1"})

	c, err := i.CurrentContext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/usr/bin/java", c.Executable)
	assert.Equal(t, "halo.jar", c.Artifact)
	assert.Equal(t, "/opt/halo", c.WorkDir)
	assert.Equal(t, "/usr/bin/java -jar halo.jar --port=1", c.String())
}

func TestInspector_ExecutableUnavailable(t *testing.T) {
	i := fakeInspector("", errors.New("permission denied"), []string{"java"})

	_, err := i.CurrentContext(context.Background())
	assert.ErrorIs(t, err, uerrors.ErrContextUnavailable)
}

func TestInspector_ClassPathLaunch(t *testing.T) {
	i := fakeInspector("/usr/bin/java", nil, []string{"java", "-cp", "halo.jar", "run.halo.app.Application"})

	_, err := i.CurrentContext(context.Background())
	assert.ErrorIs(t, err, uerrors.ErrContextUnavailable)
}

func TestInspector_LiveProcess(t *testing.T) {
	c, err := NewInspector(".jar").CurrentContext(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, c.Executable)
	assert.NotEmpty(t, c.WorkDir)
	assert.True(t, c.Native)
}
