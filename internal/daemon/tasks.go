package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/bayu/arion/internal/observability"
	"github.com/bayu/arion/pkg/agent"
	"github.com/bayu/arion/pkg/coretools"
	"github.com/bayu/arion/pkg/store"
	"github.com/bayu/arion/pkg/tool"
)

// Launch creates a task, builds its capability registry and session, and
// runs it on its own queue lane. Distinct tasks run concurrently; one task's
// turns are strictly sequential.
func (d *Daemon) Launch(ctx context.Context, description string) (*store.Task, error) {
	taskID := uuid.NewString()

	task, err := d.taskStore.CreateTask(ctx, taskID, description)
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	sess, err := d.buildSession(taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to build session: %w", err)
	}

	d.trackSession(taskID, sess)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.runTask(taskID, description, sess)
	}()

	return task, nil
}

// Cancel requests a running task to stop at its next turn boundary.
func (d *Daemon) Cancel(taskID string) error {
	d.sessionMu.RLock()
	sess, ok := d.sessions[taskID]
	d.sessionMu.RUnlock()
	if !ok {
		return fmt.Errorf("task %s is not running", taskID)
	}
	sess.Cancel()
	return nil
}

// Inject queues a user message for a running task's next turn.
func (d *Daemon) Inject(taskID, message string) error {
	d.sessionMu.RLock()
	sess, ok := d.sessions[taskID]
	d.sessionMu.RUnlock()
	if !ok {
		return fmt.Errorf("task %s is not running", taskID)
	}
	sess.InjectMessage(message)
	return nil
}

// WorkspacePath returns the task's workspace directory.
func (d *Daemon) WorkspacePath(taskID string) string {
	return filepath.Join(d.config.WorkspaceRoot, taskID)
}

func (d *Daemon) buildSession(taskID string) (*agent.Session, error) {
	workspace := d.WorkspacePath(taskID)
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}

	reg := tool.NewRegistry(time.Duration(d.config.Agent.ToolTimeoutSecs) * time.Second)

	if err := coretools.Register(reg, coretools.Config{
		WorkspacePath:  workspace,
		TaskID:         taskID,
		PublishBaseURL: fmt.Sprintf("http://%s:%d", publishHost(d.config.Gateway.Host), d.config.Gateway.Port),
	}); err != nil {
		return nil, err
	}
	if err := d.browserPool.RegisterTools(reg, taskID); err != nil {
		return nil, err
	}
	if d.memoryMgr != nil {
		if err := d.memoryMgr.RegisterTools(reg); err != nil {
			return nil, err
		}
	}

	return agent.New(agent.Config{
		TaskID:        taskID,
		AgentName:     "arion",
		WorkspacePath: workspace,
		Router:        d.router,
		Registry:      reg,
		Emit:          d.gatewayServer.Emitter(taskID),
		Recorder:      d.taskStore,
		Logger:        d.logger.GetZerolog(),
		MaxTurns:      d.config.Agent.MaxTurns,
		MaxTokens:     d.config.Agent.MaxOutputTokens,
		Temperature:   d.config.Agent.Temperature,
	})
}

func (d *Daemon) runTask(taskID, description string, sess *agent.Session) {
	zl := d.logger.GetZerolog().With().Str("taskId", taskID).Logger()

	_, err := d.queue.Enqueue("task-"+taskID, func(ctx context.Context) (interface{}, error) {
		defer d.browserPool.Release(taskID)
		defer d.untrackSession(taskID)

		if err := d.taskStore.SetStatus(ctx, taskID, store.StatusRunning); err != nil {
			zl.Warn().Err(err).Msg("Failed to mark task running")
		}
		d.gatewayServer.Publish(taskID, agent.Event{
			Type:      agent.EventTaskStarted,
			AgentName: "arion",
			Content:   map[string]interface{}{"task": description},
		})

		summary, runErr := sess.Run(ctx, description)

		status := store.StatusCompleted
		switch {
		case runErr != nil:
			status = store.StatusFailed
			summary = runErr.Error()
		case sess.Cancelled():
			status = store.StatusCancelled
		}

		if err := d.taskStore.FinishTask(ctx, taskID, status, summary,
			sess.TurnCount(), sess.TotalTokens(), sess.BackendStats()); err != nil {
			zl.Warn().Err(err).Msg("Failed to persist task result")
		}
		observability.RecordTaskRun(status)

		d.gatewayServer.Publish(taskID, agent.Event{
			Type:      agent.EventTaskComplete,
			AgentName: "arion",
			Content: map[string]interface{}{
				"status":  status,
				"summary": summary,
				"turns":   sess.TurnCount(),
			},
		})

		zl.Info().
			Str("status", status).
			Int("turns", sess.TurnCount()).
			Int("tokens", sess.TotalTokens()).
			Msg("Task finished")

		return summary, runErr
	})
	if err != nil {
		zl.Error().Err(err).Msg("Task run failed")
	}
}

func (d *Daemon) trackSession(taskID string, sess *agent.Session) {
	d.sessionMu.Lock()
	d.sessions[taskID] = sess
	n := len(d.sessions)
	d.sessionMu.Unlock()
	observability.SetActiveTasks(n)
}

func (d *Daemon) untrackSession(taskID string) {
	d.sessionMu.Lock()
	delete(d.sessions, taskID)
	n := len(d.sessions)
	d.sessionMu.Unlock()
	observability.SetActiveTasks(n)
}

// publishHost rewrites wildcard binds to an address clients can reach.
func publishHost(host string) string {
	if host == "" || host == "0.0.0.0" || host == "::" {
		return "localhost"
	}
	return host
}
