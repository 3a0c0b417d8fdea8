package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/p4mcp/p4-mcp-server/internal/connection"
	"github.com/p4mcp/p4-mcp-server/internal/models"
	"github.com/p4mcp/p4-mcp-server/internal/p4"
)

// Workspace kinds reported by Type.
const (
	WorkspaceKindStream   = "stream"
	WorkspaceKindStandard = "standard"
	WorkspaceKindCustom   = "custom"
)

// WorkspaceStatus summarizes the state of one workspace.
type WorkspaceStatus struct {
	OpenedFiles     []string `json:"opened_files"`
	OutOfSyncFiles  []string `json:"out_of_sync_files"`
	SyncWarnings    []string `json:"sync_warnings"`
	PendingResolves []string `json:"pending_resolves"`
	LastSyncedCL    *string  `json:"last_synced_cl"`
}

// WorkspaceService reads and edits client workspaces.
type WorkspaceService struct {
	base
}

// NewWorkspaceService creates a WorkspaceService.
func NewWorkspaceService(backend Backend, logger zerolog.Logger) *WorkspaceService {
	return &WorkspaceService{base: newBase(backend, logger, "workspaces")}
}

// Get returns the workspace spec with list fields joined by newlines.
func (s *WorkspaceService) Get(ctx context.Context, name string) (Result, error) {
	return s.with(ctx, func(h *connection.Handle) (Result, error) {
		spec, result, ok := s.fetch(ctx, h, name)
		if !ok {
			return result, nil
		}
		return success(spec), nil
	})
}

// List returns the string fields of up to maxResults workspaces.
func (s *WorkspaceService) List(ctx context.Context, user string, maxResults int) (Result, error) {
	return s.with(ctx, func(h *connection.Handle) (Result, error) {
		args := []string{}
		if user != "" {
			args = append(args, "-u", user)
		}
		args = append(args, limitFlag(maxResults))
		records, err := h.Run(ctx, p4.Cmd("clients", args...))
		if err != nil {
			return s.fail(err, "failed to list workspaces"), nil
		}
		return success(stringFieldsPayload(records)), nil
	})
}

// Type classifies the workspace as stream, standard or custom.
func (s *WorkspaceService) Type(ctx context.Context, name string) (Result, error) {
	return s.with(ctx, func(h *connection.Handle) (Result, error) {
		spec, result, ok := s.fetch(ctx, h, name)
		if !ok {
			return result, nil
		}
		switch {
		case spec["Stream"] != "":
			return success(WorkspaceKindStream), nil
		case strings.Contains(spec["View"], "//depot/"):
			return success(WorkspaceKindStandard), nil
		default:
			return success(WorkspaceKindCustom), nil
		}
	})
}

// Status reports opened, out-of-sync and unresolved files plus the last
// synced change of the workspace.
func (s *WorkspaceService) Status(ctx context.Context, name string) (Result, error) {
	return s.with(ctx, func(h *connection.Handle) (Result, error) {
		if _, result, ok := s.fetch(ctx, h, name); !ok {
			return result, nil
		}

		opened, err := h.Run(ctx, p4.Command{Name: "opened", Client: name})
		if err != nil && !p4.IsNotOpened(err) {
			return s.fail(err, "failed to list opened files"), nil
		}

		outOfSync, err := h.Run(ctx, p4.Command{Name: "sync", Args: []string{"-n"}, Client: name})
		if err != nil {
			if !p4.IsUpToDate(err) {
				return s.fail(err, "failed to check out-of-sync files"), nil
			}
			outOfSync = nil
		}

		resolves, err := h.Run(ctx, p4.Command{Name: "resolve", Args: []string{"-n"}, Client: name})
		if err != nil {
			if !p4.IsNothingToResolve(err) {
				return s.fail(err, "failed to check pending resolves"), nil
			}
			resolves = nil
		}

		changes, err := h.Run(ctx, p4.Command{Name: "changes", Args: []string{"-m1", "//" + name + "/...#have"}, Client: name})
		if err != nil {
			return s.fail(err, "failed to read last synced change"), nil
		}

		status := WorkspaceStatus{
			OpenedFiles:     fieldList(opened, "depotFile"),
			OutOfSyncFiles:  fieldList(outOfSync, "depotFile"),
			SyncWarnings:    p4.TextOf(outOfSync),
			PendingResolves: fieldList(resolves, "fromFile"),
		}
		if tagged := p4.TaggedOf(changes); len(tagged) > 0 {
			change := tagged[0].String("change")
			status.LastSyncedCL = &change
		}
		return success(status), nil
	})
}

// Create saves a new workspace from spec over the server's template.
func (s *WorkspaceService) Create(ctx context.Context, spec models.WorkspaceSpec) (Result, error) {
	return s.with(ctx, func(h *connection.Handle) (Result, error) {
		if spec.Name == "" {
			return Result{}, Preconditionf("Workspace specification must include 'Name'")
		}
		client, err := s.template(ctx, h, spec.Name)
		if err != nil {
			return s.fail(err, "failed to create workspace"), nil
		}
		if _, err := h.Run(ctx, p4.Command{Name: "client", Args: []string{"-i"}, Input: overlay(client, spec).Form()}); err != nil {
			return s.fail(err, "failed to create workspace"), nil
		}
		return success("Workspace created successfully"), nil
	})
}

// Update applies spec to a workspace owned by the current user.
func (s *WorkspaceService) Update(ctx context.Context, name string, spec models.WorkspaceSpec) (Result, error) {
	return s.with(ctx, func(h *connection.Handle) (Result, error) {
		user, client, result, ok := s.owned(ctx, h, name)
		if !ok {
			return result, nil
		}
		if _, err := h.Run(ctx, p4.Command{Name: "client", Args: []string{"-i"}, Input: overlay(client, spec).Form()}); err != nil {
			return s.fail(err, "failed to update workspace"), nil
		}
		return success(fmt.Sprintf("Workspace '%s' owned by '%s' updated successfully", name, user)), nil
	})
}

// Delete removes a workspace owned by the current user.
func (s *WorkspaceService) Delete(ctx context.Context, name string) (Result, error) {
	return s.with(ctx, func(h *connection.Handle) (Result, error) {
		user, _, result, ok := s.owned(ctx, h, name)
		if !ok {
			return result, nil
		}
		if _, err := h.Run(ctx, p4.Cmd("client", "-d", name)); err != nil {
			return s.fail(err, "failed to delete workspace"), nil
		}
		return success(fmt.Sprintf("Workspace '%s' owned by '%s' deleted successfully", name, user)), nil
	})
}

// Switch makes a workspace owned by the current user the active one.
func (s *WorkspaceService) Switch(ctx context.Context, name string) (Result, error) {
	return s.with(ctx, func(h *connection.Handle) (Result, error) {
		user, _, result, ok := s.owned(ctx, h, name)
		if !ok {
			return result, nil
		}
		h.SwitchClient(name)
		return success(fmt.Sprintf("Switched to workspace '%s' owned by '%s'", name, user)), nil
	})
}

// fetch loads the flattened spec of an existing workspace.
func (s *WorkspaceService) fetch(ctx context.Context, h *connection.Handle, name string) (map[string]string, Result, bool) {
	args := []string{"-o"}
	if name != "" {
		clients, err := h.Run(ctx, p4.Cmd("clients", "-e", name))
		if err != nil {
			return nil, s.fail(err, "failed to look up workspace"), false
		}
		if len(p4.TaggedOf(clients)) == 0 {
			return nil, Result{Status: StatusNotFound, Message: fmt.Sprintf("Workspace '%s' not found", name)}, false
		}
		args = append(args, name)
	}
	records, err := h.Run(ctx, p4.Cmd("client", args...))
	if err != nil {
		return nil, s.fail(err, "failed to get workspace"), false
	}
	tagged := p4.TaggedOf(records)
	if len(tagged) == 0 {
		return nil, Result{Status: StatusNotFound, Message: fmt.Sprintf("Workspace '%s' not found", name)}, false
	}
	return tagged[0].Flatten(), Result{}, true
}

func (s *WorkspaceService) template(ctx context.Context, h *connection.Handle, name string) (p4.ClientSpec, error) {
	var client p4.ClientSpec
	records, err := h.Run(ctx, p4.Cmd("client", "-o", name))
	if err != nil {
		return client, err
	}
	if tagged := p4.TaggedOf(records); len(tagged) > 0 {
		if err := p4.Decode(tagged[0], &client); err != nil {
			return client, err
		}
	}
	client.Client = name
	return client, nil
}

// owned loads the workspace and checks the current user owns it. A mismatch
// yields a failed result and no mutation.
func (s *WorkspaceService) owned(ctx context.Context, h *connection.Handle, name string) (string, p4.ClientSpec, Result, bool) {
	user, err := currentUser(ctx, h)
	if err != nil {
		return "", p4.ClientSpec{}, s.fail(err, "failed to read current user"), false
	}
	client, err := s.template(ctx, h, name)
	if err != nil {
		return "", p4.ClientSpec{}, s.fail(err, "failed to fetch workspace"), false
	}
	if client.Owner != user {
		s.logger.Warn().Str("workspace", name).Str("owner", client.Owner).Str("user", user).Msg("workspace ownership mismatch")
		return "", p4.ClientSpec{}, Result{
			Status:  StatusFailed,
			Message: fmt.Sprintf("Workspace '%s' is owned by '%s', not '%s'", name, client.Owner, user),
		}, false
	}
	return user, client, Result{}, true
}

// overlay copies the set fields of spec onto client.
func overlay(client p4.ClientSpec, spec models.WorkspaceSpec) p4.ClientSpec {
	if spec.Root != "" {
		client.Root = spec.Root
	}
	if spec.Description != "" {
		client.Description = spec.Description
	}
	if spec.Options != "" {
		client.Options = spec.Options
	}
	if spec.LineEnd != "" {
		client.LineEnd = spec.LineEnd
	}
	if len(spec.View) > 0 {
		client.View = spec.View
	}
	return client
}
