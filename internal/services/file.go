package services

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/p4mcp/p4-mcp-server/internal/connection"
	"github.com/p4mcp/p4-mcp-server/internal/models"
	"github.com/p4mcp/p4-mcp-server/internal/p4"
)

// SyncUpToDateMessage is the success message for a sync with nothing to do.
const SyncUpToDateMessage = "Workspace is already up-to-date"

// FileService reads depot files and opens workspace files for change.
type FileService struct {
	base
}

// NewFileService creates a FileService.
func NewFileService(backend Backend, logger zerolog.Logger) *FileService {
	return &FileService{base: newBase(backend, logger, "files")}
}

// Content prints a file.
func (s *FileService) Content(ctx context.Context, path string) (Result, error) {
	return s.simple(ctx, p4.Cmd("print", path), recordsPayload, "failed to get file content")
}

// History returns up to maxResults revisions of a file.
func (s *FileService) History(ctx context.Context, path string, maxResults int) (Result, error) {
	return s.simple(ctx, p4.Cmd("filelog", limitFlag(maxResults), path), taggedPayload, "failed to get file history")
}

// Info returns fstat records for a file.
func (s *FileService) Info(ctx context.Context, path string) (Result, error) {
	return s.stat(ctx, path, p4.Cmd("fstat", path), "failed to get file info")
}

// Metadata returns fstat records including attributes and file size.
func (s *FileService) Metadata(ctx context.Context, path string) (Result, error) {
	return s.stat(ctx, path, p4.Cmd("fstat", "-Oal", path), "failed to get file metadata")
}

// Diff compares two depot files, or a depot file with a local one when
// depotOnly is false.
func (s *FileService) Diff(ctx context.Context, file1, file2 string, depotOnly bool) (Result, error) {
	name := "diff2"
	if !depotOnly {
		name = "diff"
	}
	cmd := p4.Command{Name: name, Args: []string{file1, file2}, Untagged: true}
	return s.simple(ctx, cmd, recordsPayload, "failed to diff files")
}

// Annotations returns per-line revision annotations for a file.
func (s *FileService) Annotations(ctx context.Context, path string) (Result, error) {
	return s.simple(ctx, p4.Cmd("annotate", path), taggedPayload, "failed to get file annotations")
}

// Sync brings the workspace, or the given paths, to head.
func (s *FileService) Sync(ctx context.Context, paths []string, force bool) (Result, error) {
	return s.with(ctx, func(h *connection.Handle) (Result, error) {
		args := []string{}
		if force {
			args = append(args, "-f")
		}
		args = append(args, paths...)
		records, err := h.Run(ctx, p4.Cmd("sync", args...))
		if err != nil {
			if p4.IsUpToDate(err) {
				return success(SyncUpToDateMessage), nil
			}
			return s.fail(err, "failed to sync files"), nil
		}
		return success(recordsPayload(records)), nil
	})
}

// Add opens new files for add in changelist.
func (s *FileService) Add(ctx context.Context, paths []string, changelist string) (Result, error) {
	return s.open(ctx, "add", paths, changelist)
}

// Edit opens files for edit in changelist.
func (s *FileService) Edit(ctx context.Context, paths []string, changelist string) (Result, error) {
	return s.open(ctx, "edit", paths, changelist)
}

// Delete opens files for delete in changelist.
func (s *FileService) Delete(ctx context.Context, paths []string, changelist string) (Result, error) {
	return s.open(ctx, "delete", paths, changelist)
}

// Revert discards the pending changes to files in changelist.
func (s *FileService) Revert(ctx context.Context, paths []string, changelist string) (Result, error) {
	return s.open(ctx, "revert", paths, changelist)
}

// Move renames each source path to the target path at the same index.
func (s *FileService) Move(ctx context.Context, sources, targets []string, changelist string) (Result, error) {
	if len(sources) != len(targets) {
		return Result{}, Preconditionf("Source and target paths must have the same length")
	}
	return s.with(ctx, func(h *connection.Handle) (Result, error) {
		moved := make([][]any, 0, len(sources))
		for i := range sources {
			records, err := h.Run(ctx, p4.Cmd("move", "-c", changelist, sources[i], targets[i]))
			if err != nil {
				return s.fail(err, "failed to move files"), nil
			}
			moved = append(moved, recordsPayload(records))
		}
		return success(moved), nil
	})
}

// Reconcile opens files changed outside the server for the right action.
func (s *FileService) Reconcile(ctx context.Context, paths []string, changelist string) (Result, error) {
	args := append([]string{"-c", changelist}, paths...)
	return s.simple(ctx, p4.Cmd("reconcile", args...), recordsPayload, "failed to reconcile files")
}

// Resolve resolves pending integrations with the given mode.
func (s *FileService) Resolve(ctx context.Context, paths []string, changelist string, mode models.ResolveMode) (Result, error) {
	if !mode.Valid() {
		return Result{}, Preconditionf("Invalid resolve mode: %s", mode)
	}
	args := []string{mode.Flag()}
	if changelist != "" && changelist != models.DefaultChangelist {
		args = append(args, "-c", changelist)
	}
	args = append(args, paths...)
	return s.simple(ctx, p4.Cmd("resolve", args...), recordsPayload, "failed to resolve files")
}

func (s *FileService) open(ctx context.Context, action string, paths []string, changelist string) (Result, error) {
	args := append([]string{"-c", changelist}, paths...)
	return s.simple(ctx, p4.Cmd(action, args...), recordsPayload, "failed to "+action+" files")
}

func (s *FileService) stat(ctx context.Context, path string, cmd p4.Command, msg string) (Result, error) {
	return s.with(ctx, func(h *connection.Handle) (Result, error) {
		records, err := h.Run(ctx, cmd)
		if err != nil {
			return s.fail(err, msg), nil
		}
		if len(p4.TaggedOf(records)) == 0 {
			return Result{}, Preconditionf("File '%s' not found", path)
		}
		return success(taggedPayload(records)), nil
	})
}
