package backup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AvaProtocol/chainflow/core/testutil"
	"github.com/AvaProtocol/chainflow/storage"
)

func TestBackupAndRestore(t *testing.T) {
	logger := testutil.GetLogger()
	db := testutil.TestMustDB()
	defer storage.Destroy(db)

	require.NoError(t, db.Set([]byte("w:wf-1"), []byte(`{"id":"wf-1"}`)))

	service := NewService(logger, db, t.TempDir(), 0)
	backupFile, err := service.PerformBackup(context.Background())
	require.NoError(t, err)

	restored := testutil.TestMustDB()
	defer storage.Destroy(restored)

	require.NoError(t, NewService(logger, restored, "", 0).Restore(context.Background(), backupFile))
	value, err := restored.GetKey([]byte("w:wf-1"))
	require.NoError(t, err)
	assert.Equal(t, `{"id":"wf-1"}`, string(value))
}

func TestBackupKeepsNewestSnapshots(t *testing.T) {
	db := testutil.TestMustDB()
	defer storage.Destroy(db)

	service := NewService(testutil.GetLogger(), db, t.TempDir(), 2)
	clock := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	service.now = func() time.Time { return clock }

	var made []string
	for i := 0; i < 3; i++ {
		f, err := service.PerformBackup(context.Background())
		require.NoError(t, err)
		made = append(made, f)
		clock = clock.Add(time.Minute)
	}

	files, err := service.List()
	require.NoError(t, err)
	assert.Equal(t, made[1:], files)
}

func TestRestoreMissingFile(t *testing.T) {
	db := testutil.TestMustDB()
	defer storage.Destroy(db)

	err := NewService(testutil.GetLogger(), db, t.TempDir(), 0).Restore(context.Background(), "/does/not/exist")
	assert.Error(t, err)
}
