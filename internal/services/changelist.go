package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/p4mcp/p4-mcp-server/internal/connection"
	"github.com/p4mcp/p4-mcp-server/internal/models"
	"github.com/p4mcp/p4-mcp-server/internal/p4"
)

// ChangelistService reads and edits changelists.
type ChangelistService struct {
	base
}

// NewChangelistService creates a ChangelistService.
func NewChangelistService(backend Backend, logger zerolog.Logger) *ChangelistService {
	return &ChangelistService{base: newBase(backend, logger, "changelists")}
}

// Get describes a changelist. The default changelist has no description, so
// its opened files are returned instead.
func (s *ChangelistService) Get(ctx context.Context, id string) (Result, error) {
	return s.with(ctx, func(h *connection.Handle) (Result, error) {
		if id == models.DefaultChangelist {
			opened, err := h.Run(ctx, p4.Cmd("opened", "-c", models.DefaultChangelist))
			if err != nil && !p4.IsNotOpened(err) {
				return Result{Status: StatusError, Message: fmt.Sprintf("Failed to get changelist '%s': %v", id, err)}, nil
			}
			return success(map[string]any{"opened_files": taggedPayload(opened)}), nil
		}

		records, err := h.Run(ctx, p4.Cmd("describe", id))
		if err != nil {
			s.logger.Error().Err(err).Str("changelist", id).Msg("failed to get changelist")
			return Result{Status: StatusError, Message: fmt.Sprintf("Failed to get changelist '%s': %v", id, err)}, nil
		}
		tagged := p4.TaggedOf(records)
		if len(tagged) == 0 {
			return Result{}, Preconditionf("Changelist '%s' not found", id)
		}
		return success(map[string]any(tagged[0])), nil
	})
}

// ChangelistFilter narrows List.
type ChangelistFilter struct {
	Workspace  string
	Status     models.ChangelistStatus
	User       string
	DepotPath  string
	MaxResults int
}

// List returns recent changelists matching filter.
func (s *ChangelistService) List(ctx context.Context, filter ChangelistFilter) (Result, error) {
	args := []string{limitFlag(filter.MaxResults)}
	if filter.Status != "" {
		args = append(args, "-s", string(filter.Status))
	}
	if filter.Workspace != "" {
		args = append(args, "-c", filter.Workspace)
	}
	if filter.User != "" {
		args = append(args, "-u", filter.User)
	}
	if filter.DepotPath != "" {
		args = append(args, filter.DepotPath)
	}
	return s.simple(ctx, p4.Cmd("changes", args...), taggedPayload, "failed to list changelists")
}

// Create saves a new empty pending changelist.
func (s *ChangelistService) Create(ctx context.Context, description string) (Result, error) {
	return s.with(ctx, func(h *connection.Handle) (Result, error) {
		change, err := fetchChange(ctx, h, "")
		if err != nil {
			return s.fail(err, "failed to create changelist"), nil
		}
		change.Description = description
		change.Files = nil
		records, err := h.Run(ctx, p4.Command{Name: "change", Args: []string{"-i"}, Input: change.Form()})
		if err != nil {
			return s.fail(err, "failed to create changelist"), nil
		}
		return success(recordsPayload(records)), nil
	})
}

// Update replaces the description of a pending changelist.
func (s *ChangelistService) Update(ctx context.Context, id, description string) (Result, error) {
	return s.with(ctx, func(h *connection.Handle) (Result, error) {
		if err := s.verify(ctx, h, id, "update"); err != nil {
			return Result{}, err
		}
		failed := func(err error) Result {
			s.logger.Error().Err(err).Str("changelist", id).Msg("failed to update changelist")
			return Result{Status: StatusError, Message: fmt.Sprintf("Failed to update changelist '%s': %v", id, err)}
		}
		change, err := fetchChange(ctx, h, id)
		if err != nil {
			return failed(err), nil
		}
		change.Description = description
		records, err := h.Run(ctx, p4.Command{Name: "change", Args: []string{"-i"}, Input: change.Form()})
		if err != nil {
			return failed(err), nil
		}
		return success(recordsPayload(records)), nil
	})
}

// Submit submits a pending changelist.
func (s *ChangelistService) Submit(ctx context.Context, id string) (Result, error) {
	return s.with(ctx, func(h *connection.Handle) (Result, error) {
		if err := s.verify(ctx, h, id, "submit"); err != nil {
			return Result{}, err
		}
		records, err := h.Run(ctx, p4.Cmd("submit", "-c", id))
		if err != nil {
			return s.fail(err, "failed to submit changelist"), nil
		}
		if tagged := p4.TaggedOf(records); len(tagged) > 0 {
			return success(map[string]any(tagged[0])), nil
		}
		return success(recordsPayload(records)), nil
	})
}

// Delete removes a pending changelist with no open files.
func (s *ChangelistService) Delete(ctx context.Context, id string) (Result, error) {
	return s.with(ctx, func(h *connection.Handle) (Result, error) {
		if err := s.verify(ctx, h, id, "delete"); err != nil {
			return Result{}, err
		}
		opened, err := h.Run(ctx, p4.Cmd("opened", "-c", id))
		if err != nil && !p4.IsNotOpened(err) {
			return s.fail(err, "failed to list opened files"), nil
		}
		if len(p4.TaggedOf(opened)) > 0 {
			return Result{}, Preconditionf("Cannot delete changelist '%s': it contains open files", id)
		}
		records, err := h.Run(ctx, p4.Cmd("change", "-d", id))
		if err != nil {
			return s.fail(err, "failed to delete changelist"), nil
		}
		return success(recordsPayload(records)), nil
	})
}

// MoveFiles reopens files into a pending changelist, one file at a time.
func (s *ChangelistService) MoveFiles(ctx context.Context, id string, paths []string) (Result, error) {
	return s.with(ctx, func(h *connection.Handle) (Result, error) {
		if err := s.verify(ctx, h, id, "move files"); err != nil {
			return Result{}, err
		}
		if len(paths) == 0 {
			return Result{}, Preconditionf("No files provided to move to changelist")
		}
		moved := make([][]any, 0, len(paths))
		for _, path := range paths {
			records, err := h.Run(ctx, p4.Cmd("reopen", "-c", id, path))
			if err != nil {
				return s.fail(err, "failed to move files to changelist"), nil
			}
			moved = append(moved, recordsPayload(records))
		}
		return success(moved), nil
	})
}

func (s *ChangelistService) verify(ctx context.Context, h *connection.Handle, id, op string) error {
	return verifyChangelist(ctx, h, s.logger, id, op)
}

// verifyChangelist checks the changelist exists, is owned by the current
// user and is still pending. Backend errors while checking are reported as
// an invalid changelist for op.
func verifyChangelist(ctx context.Context, h *connection.Handle, logger zerolog.Logger, id, op string) error {
	records, err := h.Run(ctx, p4.Cmd("describe", "-s", id))
	if err != nil {
		return invalidChangelist(logger, err, id, op)
	}
	user, err := currentUser(ctx, h)
	if err != nil {
		return invalidChangelist(logger, err, id, op)
	}

	tagged := p4.TaggedOf(records)
	if len(tagged) == 0 {
		return Preconditionf("Changelist '%s' not found", id)
	}
	var change p4.Describe
	if err := p4.Decode(tagged[0], &change); err != nil {
		return err
	}
	if change.User != user {
		return &PermissionError{Message: fmt.Sprintf("Cannot update changelist '%s': not owned by current user", id)}
	}
	if change.Status == "submitted" {
		return Preconditionf("Cannot update submitted changelist '%s'", id)
	}
	return nil
}

func invalidChangelist(logger zerolog.Logger, err error, id, op string) error {
	var p4Err *p4.Error
	if !errors.As(err, &p4Err) {
		return err
	}
	logger.Error().Err(err).Str("changelist", id).Msg("failed to verify changelist")
	return Preconditionf("Changelist '%s' does not exist or is not valid for %s", id, op)
}

func fetchChange(ctx context.Context, h *connection.Handle, id string) (p4.ChangeSpec, error) {
	var change p4.ChangeSpec
	args := []string{"-o"}
	if id != "" {
		args = append(args, id)
	}
	records, err := h.Run(ctx, p4.Cmd("change", args...))
	if err != nil {
		return change, err
	}
	tagged := p4.TaggedOf(records)
	if len(tagged) == 0 {
		return change, errors.New("change form not returned")
	}
	if err := p4.Decode(tagged[0], &change); err != nil {
		return change, err
	}
	return change, nil
}
