package handlers

import (
	"context"

	"github.com/p4mcp/p4-mcp-server/internal/models"
	"github.com/p4mcp/p4-mcp-server/internal/services"
)

func modifyWorkspaces(ctx context.Context, svc *services.Services, params models.Params) (Envelope, error) {
	p, ok := params.(*models.ModifyWorkspacesParams)
	if !ok {
		return Envelope{}, mismatched(Route{Modify, SubWorkspaces}, params)
	}
	action := string(p.Action)
	switch p.Action {
	case models.WorkspaceCreate, models.WorkspaceUpdate:
		if p.Specs == nil {
			return Envelope{}, services.Preconditionf("specs are required for this %s action", action)
		}
		spec := *p.Specs
		if spec.Name == "" {
			spec.Name = p.Name
		}
		if p.Action == models.WorkspaceCreate {
			return asMessage(action)(svc.Workspaces.Create(ctx, spec))
		}
		return asMessage(action)(svc.Workspaces.Update(ctx, p.Name, spec))
	case models.WorkspaceDelete:
		return asMessage(action)(svc.Workspaces.Delete(ctx, p.Name))
	case models.WorkspaceSwitch:
		return asMessage(action)(svc.Workspaces.Switch(ctx, p.Name))
	default:
		return Envelope{}, services.Preconditionf("Invalid action '%s' for modify_workspaces", action)
	}
}

func modifyFiles(ctx context.Context, svc *services.Services, params models.Params) (Envelope, error) {
	p, ok := params.(*models.ModifyFilesParams)
	if !ok {
		return Envelope{}, mismatched(Route{Modify, SubFiles}, params)
	}
	action := string(p.Action)
	switch p.Action {
	case models.FileAdd, models.FileEdit, models.FileDelete, models.FileRevert, models.FileSync:
		if len(p.FilePaths) == 0 {
			return Envelope{}, services.Preconditionf("file_paths are required for this %s action", action)
		}
	case models.FileMove:
		if len(p.SourcePaths) == 0 || len(p.TargetPaths) == 0 {
			return Envelope{}, services.Preconditionf("source_paths and target_paths required for move action")
		}
	}

	switch p.Action {
	case models.FileAdd:
		return asMessage(action)(svc.Files.Add(ctx, p.FilePaths, p.Changelist))
	case models.FileEdit:
		return asMessage(action)(svc.Files.Edit(ctx, p.FilePaths, p.Changelist))
	case models.FileDelete:
		return asMessage(action)(svc.Files.Delete(ctx, p.FilePaths, p.Changelist))
	case models.FileRevert:
		return asMessage(action)(svc.Files.Revert(ctx, p.FilePaths, p.Changelist))
	case models.FileMove:
		return asMessage(action)(svc.Files.Move(ctx, p.SourcePaths, p.TargetPaths, p.Changelist))
	case models.FileReconcile:
		return asMessage(action)(svc.Files.Reconcile(ctx, p.FilePaths, p.Changelist))
	case models.FileResolve:
		return asMessage(action)(svc.Files.Resolve(ctx, p.FilePaths, p.Changelist, p.Mode))
	case models.FileSync:
		return asMessage(action)(svc.Files.Sync(ctx, p.FilePaths, p.Force))
	default:
		return Envelope{}, services.Preconditionf("Unknown file modify action: %s", action)
	}
}

func modifyChangelists(ctx context.Context, svc *services.Services, params models.Params) (Envelope, error) {
	p, ok := params.(*models.ModifyChangelistsParams)
	if !ok {
		return Envelope{}, mismatched(Route{Modify, SubChangelists}, params)
	}
	action := string(p.Action)
	switch p.Action {
	case models.ChangelistCreate, models.ChangelistUpdate:
		if p.Description == "" {
			return Envelope{}, services.Preconditionf("description is required for this %s action", action)
		}
	case models.ChangelistMoveFiles:
		if len(p.FilePaths) == 0 {
			return Envelope{}, services.Preconditionf("file_paths required for move_files action")
		}
	}

	switch p.Action {
	case models.ChangelistCreate:
		return asMessage(action)(svc.Changes.Create(ctx, p.Description))
	case models.ChangelistUpdate:
		return asMessage(action)(svc.Changes.Update(ctx, p.ChangelistID, p.Description))
	case models.ChangelistSubmit:
		return asMessage(action)(svc.Changes.Submit(ctx, p.ChangelistID))
	case models.ChangelistDelete:
		return asMessage(action)(svc.Changes.Delete(ctx, p.ChangelistID))
	case models.ChangelistMoveFiles:
		return asMessage(action)(svc.Changes.MoveFiles(ctx, p.ChangelistID, p.FilePaths))
	default:
		return Envelope{}, services.Preconditionf("Unknown changelist modify action: %s", action)
	}
}

func modifyShelves(ctx context.Context, svc *services.Services, params models.Params) (Envelope, error) {
	p, ok := params.(*models.ModifyShelvesParams)
	if !ok {
		return Envelope{}, mismatched(Route{Modify, SubShelves}, params)
	}
	action := string(p.Action)
	if p.ChangelistID == "" {
		return Envelope{}, services.Preconditionf("changelist_id required for %s action", action)
	}

	switch p.Action {
	case models.ShelveShelve:
		if len(p.FilePaths) == 0 {
			return Envelope{}, services.Preconditionf("file_paths required for shelve action")
		}
		return asMessage(action)(svc.Shelves.Shelve(ctx, p.ChangelistID, p.FilePaths, p.Force))
	case models.ShelveUnshelve:
		return asMessage(action)(svc.Shelves.Unshelve(ctx, p.ChangelistID, p.FilePaths, p.Force))
	case models.ShelveUpdate:
		return asMessage(action)(svc.Shelves.Update(ctx, p.ChangelistID, p.FilePaths, p.Force))
	case models.ShelveDelete:
		return asMessage(action)(svc.Shelves.Delete(ctx, p.ChangelistID, p.FilePaths))
	case models.ShelveUnshelveToChangelist:
		return asMessage(action)(svc.Shelves.UnshelveToChangelist(ctx, p.ChangelistID, p.TargetChangelist))
	default:
		return Envelope{}, services.Preconditionf("Unknown shelve modify action: %s", action)
	}
}

func modifyJobs(ctx context.Context, svc *services.Services, params models.Params) (Envelope, error) {
	p, ok := params.(*models.ModifyJobsParams)
	if !ok {
		return Envelope{}, mismatched(Route{Modify, SubJobs}, params)
	}
	action := string(p.Action)
	if p.ChangelistID == "" && p.JobID == "" {
		return Envelope{}, services.Preconditionf("changelist_id or job_id is required for this %s action", action)
	}

	switch p.Action {
	case models.JobLink:
		return asMessage(action)(svc.Jobs.Link(ctx, p.ChangelistID, p.JobID))
	case models.JobUnlink:
		return asMessage(action)(svc.Jobs.Unlink(ctx, p.ChangelistID, p.JobID))
	default:
		return Envelope{}, services.Preconditionf("Unknown job modify action: %s", action)
	}
}
