package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AvaProtocol/chainflow/core/config"
	"github.com/AvaProtocol/chainflow/storage"
	"github.com/AvaProtocol/chainflow/worker"
)

func writeTestConfig(t *testing.T) string {
	dir := t.TempDir()
	path := filepath.Join(dir, "worker.yaml")
	raw := `
db_path: ` + filepath.Join(dir, "db") + `
networks:
  ethereum-testnet:
    rpc_url: http://localhost:8545
    chain_id: 11155111
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))
	return path
}

func queueStats(t *testing.T, path string) (execution, delayed int) {
	c, err := config.NewConfig(path)
	require.NoError(t, err)
	db, err := storage.NewWithPath(c.DbPath)
	require.NoError(t, err)
	defer db.Close()

	gw, err := worker.OpenQueue(context.Background(), c, db, c.Logger)
	require.NoError(t, err)
	defer gw.Close()

	stats, err := gw.Stats(context.Background())
	require.NoError(t, err)
	return stats.Execution, stats.Delayed
}

func TestEnqueueCommand(t *testing.T) {
	path := writeTestConfig(t)

	rootCmd.SetArgs([]string{"enqueue", "-c", path, "--workflow", "wf-1", "--user", "user-1"})
	require.NoError(t, rootCmd.Execute())

	rootCmd.SetArgs([]string{"enqueue", "-c", path, "--workflow", "wf-1", "--user", "user-1", "--at", "2099-01-01T00:00:00Z"})
	require.NoError(t, rootCmd.Execute())

	execution, delayed := queueStats(t, path)
	assert.Equal(t, 1, execution)
	assert.Equal(t, 1, delayed)
}

func TestEnqueueCommandRejectsBadTime(t *testing.T) {
	path := writeTestConfig(t)

	rootCmd.SetArgs([]string{"enqueue", "-c", path, "--workflow", "wf-1", "--user", "user-1", "--at", "tomorrow"})
	assert.Error(t, rootCmd.Execute())
}

func TestImportWorkflowCommand(t *testing.T) {
	path := writeTestConfig(t)
	wfPath := filepath.Join(t.TempDir(), "wf.json")
	require.NoError(t, os.WriteFile(wfPath, []byte(`{
		"id": "wf-1",
		"userId": "user-1",
		"nodes": [
			{"id": "a", "type": "data_fetch"},
			{"id": "b", "type": "custom_logic"}
		],
		"edges": [{"id": "e1", "source": "a", "target": "b"}]
	}`), 0o600))

	rootCmd.SetArgs([]string{"import-workflow", "-c", path, "-f", wfPath})
	require.NoError(t, rootCmd.Execute())

	cyclic := filepath.Join(t.TempDir(), "cyclic.json")
	require.NoError(t, os.WriteFile(cyclic, []byte(`{
		"id": "wf-2",
		"nodes": [{"id": "a", "type": "data_fetch"}],
		"edges": [{"id": "e1", "source": "a", "target": "a"}]
	}`), 0o600))
	rootCmd.SetArgs([]string{"import-workflow", "-c", path, "-f", cyclic})
	assert.Error(t, rootCmd.Execute())
}
