package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/suPer8Hu/aether/internal/chat"
)

// Runner executes one queued turn against the in-process session registry.
type Runner struct {
	repo     *chat.Repo
	sessions *chat.Registry
}

func NewRunner(repo *chat.Repo, sessions *chat.Registry) *Runner {
	return &Runner{repo: repo, sessions: sessions}
}

const stateWriteTimeout = 5 * time.Second

// stateContext outlives ctx so a job never stays running after its turn ends.
func stateContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), stateWriteTimeout)
}

// Handle runs the job's turn. Jobs that are no longer queued are skipped so
// a redelivery never sends the same turn twice.
func (r *Runner) Handle(ctx context.Context, jobID string) error {
	jobStart := time.Now()

	claimed, err := r.repo.MarkJobRunning(ctx, jobID)
	if err != nil {
		return err
	}
	if !claimed {
		log.Printf("job %s is not queued, skipping", jobID)
		return nil
	}

	j, err := r.repo.GetJobByID(ctx, jobID)
	if err != nil {
		r.markFailed(ctx, jobID)
		return err
	}

	sess, err := r.sessions.GetOrCreate(ctx, j.SessionID)
	if err != nil {
		r.markFailed(ctx, jobID)
		return fmt.Errorf("job %s: %w", jobID, err)
	}

	t0 := time.Now()
	reply, err := sess.SendTurn(ctx, j.Prompt)
	genCost := time.Since(t0)
	if err != nil {
		// backend details stay in the log; callers polling the job see a generic failure
		r.markFailed(ctx, jobID)
		return fmt.Errorf("job %s: %w", jobID, err)
	}

	writeCtx, cancel := stateContext(ctx)
	defer cancel()
	if err := r.repo.MarkJobSucceeded(writeCtx, jobID, reply); err != nil {
		return err
	}

	if total := time.Since(jobStart); total > 2*time.Second {
		log.Printf("job_timing job=%s session=%s gen=%s total=%s", jobID, j.SessionID, genCost, total)
	}
	return nil
}

func (r *Runner) markFailed(ctx context.Context, jobID string) {
	writeCtx, cancel := stateContext(ctx)
	defer cancel()
	if err := r.repo.MarkJobFailed(writeCtx, jobID, "internal error"); err != nil {
		log.Printf("job %s: mark failed: %v", jobID, err)
	}
}
