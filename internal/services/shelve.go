package services

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/p4mcp/p4-mcp-server/internal/models"
	"github.com/p4mcp/p4-mcp-server/internal/p4"
)

// ShelveService reads and edits shelved changelists.
type ShelveService struct {
	base
}

// NewShelveService creates a ShelveService.
func NewShelveService(backend Backend, logger zerolog.Logger) *ShelveService {
	return &ShelveService{base: newBase(backend, logger, "shelves")}
}

// List returns changelists with shelved files, optionally for one user.
func (s *ShelveService) List(ctx context.Context, user string, maxResults int) (Result, error) {
	args := []string{"-s", "shelved", limitFlag(maxResults)}
	if user != "" {
		args = append(args, "-u", user)
	}
	return s.simple(ctx, p4.Cmd("changes", args...), taggedPayload, "failed to list shelves")
}

// Diff returns the unified diff of the shelved files.
func (s *ShelveService) Diff(ctx context.Context, id string) (Result, error) {
	cmd := p4.Command{Name: "describe", Args: []string{"-a", "-S", "-dw", id}, Untagged: true}
	return s.simple(ctx, cmd, recordsPayload, "failed to get shelve diff")
}

// Files describes the shelved files of a changelist.
func (s *ShelveService) Files(ctx context.Context, id string) (Result, error) {
	return s.simple(ctx, p4.Cmd("describe", "-S", id), taggedPayload, "failed to get shelved files")
}

// Shelve stores the opened files of a changelist on the server.
func (s *ShelveService) Shelve(ctx context.Context, id string, paths []string, force bool) (Result, error) {
	return s.shelve(ctx, id, paths, force, "failed to shelve files")
}

// Update replaces the shelved copies of files.
func (s *ShelveService) Update(ctx context.Context, id string, paths []string, force bool) (Result, error) {
	return s.shelve(ctx, id, paths, force, "failed to update shelve")
}

// Unshelve restores shelved files into the workspace.
func (s *ShelveService) Unshelve(ctx context.Context, id string, paths []string, force bool) (Result, error) {
	args := []string{}
	if force {
		args = append(args, "-f")
	}
	args = append(args, "-s", id)
	args = append(args, paths...)
	return s.simple(ctx, p4.Cmd("unshelve", args...), recordsPayload, "failed to unshelve files")
}

// Delete discards shelved files, all of them when paths is empty.
func (s *ShelveService) Delete(ctx context.Context, id string, paths []string) (Result, error) {
	args := append([]string{"-d", "-c", id}, paths...)
	return s.simple(ctx, p4.Cmd("shelve", args...), recordsPayload, "failed to delete shelve")
}

// UnshelveToChangelist restores shelved files into target. The default
// changelist takes no -c flag.
func (s *ShelveService) UnshelveToChangelist(ctx context.Context, id, target string) (Result, error) {
	args := []string{"-s", id}
	if target != "" && target != models.DefaultChangelist {
		args = append(args, "-c", target)
	}
	return s.simple(ctx, p4.Cmd("unshelve", args...), recordsPayload, "failed to unshelve to changelist")
}

func (s *ShelveService) shelve(ctx context.Context, id string, paths []string, force bool, msg string) (Result, error) {
	args := []string{}
	if force {
		args = append(args, "-f")
	}
	args = append(args, "-c", id)
	args = append(args, paths...)
	return s.simple(ctx, p4.Cmd("shelve", args...), recordsPayload, msg)
}
