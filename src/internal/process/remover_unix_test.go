//go:build !windows

package process

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemovalCommand_Quotes(t *testing.T) {
	assert.Equal(t,
		[]string{"sh", "-c", `sleep 10 && rm -f '/srv/it'\''s app'`},
		removalCommand("/srv/it's app", 10))
}

func TestDeferredRemover_DeletesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old app")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o755))

	require.NoError(t, NewDeferredRemover(nil).Remove(path, 0))

	assert.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return os.IsNotExist(err)
	}, 5*time.Second, 20*time.Millisecond)
}
