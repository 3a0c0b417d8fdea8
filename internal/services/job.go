package services

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/p4mcp/p4-mcp-server/internal/connection"
	"github.com/p4mcp/p4-mcp-server/internal/models"
	"github.com/p4mcp/p4-mcp-server/internal/p4"
)

// JobService reads jobs and links them to changelists.
type JobService struct {
	base
}

// NewJobService creates a JobService.
func NewJobService(backend Backend, logger zerolog.Logger) *JobService {
	return &JobService{base: newBase(backend, logger, "jobs")}
}

// ListJobs returns the fixes recorded against a pending changelist.
func (s *JobService) ListJobs(ctx context.Context, changelistID string, maxResults int) (Result, error) {
	if changelistID == "" {
		return Result{}, Preconditionf("Changelist '%s' not found", changelistID)
	}
	if changelistID == models.DefaultChangelist {
		return Result{}, Preconditionf("Cannot get jobs for default changelist")
	}
	return s.with(ctx, func(h *connection.Handle) (Result, error) {
		if err := verifyChangelist(ctx, h, s.logger, changelistID, "update"); err != nil {
			return Result{}, err
		}
		records, err := h.Run(ctx, p4.Cmd("fixes", limitFlag(maxResults), "-c", changelistID))
		if err != nil {
			s.logger.Error().Err(err).Str("changelist", changelistID).Msg("failed to get jobs for changelist")
			return Result{Status: StatusError, Message: "Failed to get jobs for changelist"}, nil
		}
		return success(taggedPayload(records)), nil
	})
}

// GetJob returns the spec of one job.
func (s *JobService) GetJob(ctx context.Context, jobID string) (Result, error) {
	if jobID == "" {
		return Result{}, Preconditionf("No job ID provided")
	}
	return s.with(ctx, func(h *connection.Handle) (Result, error) {
		records, err := h.Run(ctx, p4.Cmd("job", "-o", jobID))
		if err != nil {
			return s.fail(err, "failed to get job details"), nil
		}
		tagged := p4.TaggedOf(records)
		if len(tagged) == 0 {
			return Result{}, Preconditionf("Job '%s' not found", jobID)
		}
		return success(map[string]any(tagged[0])), nil
	})
}

// Link adds a job to the Jobs list of a pending changelist.
func (s *JobService) Link(ctx context.Context, changelistID, jobID string) (Result, error) {
	if changelistID == "" {
		return Result{}, Preconditionf("No changelist ID provided to link job to")
	}
	return s.with(ctx, func(h *connection.Handle) (Result, error) {
		if err := verifyChangelist(ctx, h, s.logger, changelistID, "update"); err != nil {
			return Result{}, err
		}
		if jobID == "" {
			return Result{}, Preconditionf("No job ID provided to link to changelist")
		}
		change, err := fetchChange(ctx, h, changelistID)
		if err != nil {
			return s.fail(err, "failed to link job"), nil
		}
		if change.HasJob(jobID) {
			return Result{}, Preconditionf("Job '%s' is already linked to changelist '%s'", jobID, changelistID)
		}
		change.Jobs = append(change.Jobs, jobID)
		return s.save(ctx, h, change, "failed to link job")
	})
}

// Unlink removes a job from the Jobs list of a pending changelist.
func (s *JobService) Unlink(ctx context.Context, changelistID, jobID string) (Result, error) {
	if changelistID == "" {
		return Result{}, Preconditionf("No changelist ID provided to unlink job from")
	}
	return s.with(ctx, func(h *connection.Handle) (Result, error) {
		if err := verifyChangelist(ctx, h, s.logger, changelistID, "update"); err != nil {
			return Result{}, err
		}
		if jobID == "" {
			return Result{}, Preconditionf("No job ID provided to unlink from changelist")
		}
		change, err := fetchChange(ctx, h, changelistID)
		if err != nil {
			return s.fail(err, "failed to unlink job"), nil
		}
		if !change.HasJob(jobID) {
			return Result{}, Preconditionf("Job '%s' is not linked to changelist '%s'", jobID, changelistID)
		}
		kept := make([]string, 0, len(change.Jobs))
		for _, linked := range change.Jobs {
			if linked != jobID {
				kept = append(kept, linked)
			}
		}
		change.Jobs = kept
		return s.save(ctx, h, change, "failed to unlink job")
	})
}

func (s *JobService) save(ctx context.Context, h *connection.Handle, change p4.ChangeSpec, msg string) (Result, error) {
	records, err := h.Run(ctx, p4.Command{Name: "change", Args: []string{"-i"}, Input: change.Form()})
	if err != nil {
		return s.fail(fmt.Errorf("saving change %s: %w", change.Change, err), msg), nil
	}
	return success(recordsPayload(records)), nil
}
