package actionlog

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/aether/pkg/core/workflow"
	"github.com/LENAX/aether/pkg/storage"
)

func TestCreateGetUpdate(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.CreateWorkflow(ctx, workflow.New("wf-1", "greet", []byte("input"))))

	err = s.CreateWorkflow(ctx, workflow.New("wf-1", "greet", nil))
	assert.ErrorIs(t, err, storage.ErrDuplicateID)

	updated, err := s.UpdateWorkflow(ctx, "wf-1", func(w *workflow.Workflow) error {
		return w.Start()
	})
	require.NoError(t, err)
	assert.Equal(t, workflow.StateRunning, updated.State)
}

func TestRecoveryReplaysLog(t *testing.T) {
	// 崩溃恢复：每个已应答的变更重启后都必须还原（I6）
	root := t.TempDir()
	ctx := context.Background()

	s, err := Open(root)
	require.NoError(t, err)

	require.NoError(t, s.CreateWorkflow(ctx, workflow.New("wf-1", "greet", []byte("hello"))))
	_, err = s.UpdateWorkflow(ctx, "wf-1", func(w *workflow.Workflow) error {
		return w.Start()
	})
	require.NoError(t, err)
	_, err = s.UpdateWorkflow(ctx, "wf-1", func(w *workflow.Workflow) error {
		if _, err := w.BeginStep("start", []byte("hello"), 1, nil); err != nil {
			return err
		}
		if _, err := w.FinishStep("start", workflow.StepCompleted, []byte("done"), ""); err != nil {
			return err
		}
		return w.Complete([]byte("done"))
	})
	require.NoError(t, err)

	// 不走Close：模拟进程崩溃（日志已fsync）
	s2, err := Open(root)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.GetWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, workflow.StateCompleted, got.State)
	assert.Equal(t, []byte("done"), got.Result)
	require.Len(t, got.Steps, 1)
	assert.Equal(t, workflow.StepCompleted, got.Steps[0].Status)
	s.Close()
}

func TestRecoveryMultipleWorkflows(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	s, err := Open(root)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		id := string(rune('a' + i))
		require.NoError(t, s.CreateWorkflow(ctx, workflow.New(id, "batch", nil)))
		_, err = s.UpdateWorkflow(ctx, id, func(w *workflow.Workflow) error {
			return w.Start()
		})
		require.NoError(t, err)
		if i < 5 {
			_, err = s.UpdateWorkflow(ctx, id, func(w *workflow.Workflow) error {
				return w.Complete(nil)
			})
			require.NoError(t, err)
		}
	}
	s.Close()

	s2, err := Open(root)
	require.NoError(t, err)
	defer s2.Close()

	all, err := s2.ListWorkflows(ctx, storage.Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 10)

	active, err := s2.ListWorkflows(ctx, storage.Filter{ActiveOnly: true})
	require.NoError(t, err)
	assert.Len(t, active, 5)
}

func TestCheckpointTruncatesLog(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	s, err := Open(root)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.CreateWorkflow(ctx, workflow.New("wf-1", "greet", nil)))
	// 超过checkpoint阈值的更新次数
	for i := 0; i < checkpointEvery+5; i++ {
		_, err = s.UpdateWorkflow(ctx, "wf-1", func(w *workflow.Workflow) error {
			w.UpdatedAt = w.UpdatedAt.Add(1)
			return nil
		})
		require.NoError(t, err)
	}

	// 快照已生成，日志被截断
	snapPath := filepath.Join(root, "wf-1", snapshotFile)
	_, err = os.Stat(snapPath)
	require.NoError(t, err)

	logInfo, err := os.Stat(filepath.Join(root, "wf-1", logFile))
	require.NoError(t, err)
	assert.Less(t, logInfo.Size(), int64(checkpointEvery*100))

	// 恢复仍然正确
	s2, err := Open(root)
	require.NoError(t, err)
	defer s2.Close()
	got, err := s2.GetWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "wf-1", got.ID)
}

func TestRecordVersionPrefix(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	s, err := Open(root)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.CreateWorkflow(ctx, workflow.New("wf-1", "greet", nil)))

	data, err := os.ReadFile(filepath.Join(root, "wf-1", logFile))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "v1|"))
}

func TestTrailingGarbageIsDropped(t *testing.T) {
	// 崩溃留下的半截尾部记录（未被应答）应被丢弃而非报错
	root := t.TempDir()
	ctx := context.Background()

	s, err := Open(root)
	require.NoError(t, err)
	require.NoError(t, s.CreateWorkflow(ctx, workflow.New("wf-1", "greet", nil)))
	s.Close()

	logPath := filepath.Join(root, "wf-1", logFile)
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`v1|{"seq":99,"truncat`)
	require.NoError(t, err)
	f.Close()

	s2, err := Open(root)
	require.NoError(t, err)
	defer s2.Close()
	got, err := s2.GetWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, workflow.StatePending, got.State)
}

func TestDeleteWorkflowRemovesDir(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	s, err := Open(root)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.CreateWorkflow(ctx, workflow.New("wf-1", "greet", nil)))
	require.NoError(t, s.DeleteWorkflow(ctx, "wf-1"))

	_, err = s.GetWorkflow(ctx, "wf-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = os.Stat(filepath.Join(root, "wf-1"))
	assert.True(t, os.IsNotExist(err))
}
