package handlers

import (
	"context"

	"github.com/p4mcp/p4-mcp-server/internal/models"
	"github.com/p4mcp/p4-mcp-server/internal/services"
)

func queryServer(ctx context.Context, svc *services.Services, params models.Params) (Envelope, error) {
	p, ok := params.(*models.QueryServerParams)
	if !ok {
		return Envelope{}, mismatched(Route{Query, SubServer}, params)
	}
	action := string(p.Action)
	switch p.Action {
	case models.ServerInfo:
		return asData(action)(svc.Server.Info(ctx))
	case models.CurrentUser:
		return asData(action)(svc.Server.CurrentUser(ctx))
	default:
		return Envelope{}, services.Preconditionf("Unknown server query action: %s", action)
	}
}

func queryWorkspaces(ctx context.Context, svc *services.Services, params models.Params) (Envelope, error) {
	p, ok := params.(*models.QueryWorkspacesParams)
	if !ok {
		return Envelope{}, mismatched(Route{Query, SubWorkspaces}, params)
	}
	action := string(p.Action)
	if p.Action != models.WorkspaceList && p.WorkspaceName == "" {
		return Envelope{}, services.Preconditionf("workspace_name is required for this %s action", action)
	}
	switch p.Action {
	case models.WorkspaceGet:
		return asData(action)(svc.Workspaces.Get(ctx, p.WorkspaceName))
	case models.WorkspaceList:
		return asData(action)(svc.Workspaces.List(ctx, p.User, p.MaxResults))
	case models.WorkspaceType:
		return asData(action)(svc.Workspaces.Type(ctx, p.WorkspaceName))
	case models.WorkspaceStatus:
		return asData(action)(svc.Workspaces.Status(ctx, p.WorkspaceName))
	default:
		return Envelope{}, services.Preconditionf("Unknown workspace query action: %s", action)
	}
}

func queryFiles(ctx context.Context, svc *services.Services, params models.Params) (Envelope, error) {
	p, ok := params.(*models.QueryFilesParams)
	if !ok {
		return Envelope{}, mismatched(Route{Query, SubFiles}, params)
	}
	action := string(p.Action)
	switch p.Action {
	case models.FileContent:
		return asData(action)(svc.Files.Content(ctx, p.FilePath))
	case models.FileHistory:
		return asData(action)(svc.Files.History(ctx, p.FilePath, p.MaxResults))
	case models.FileInfo:
		return asData(action)(svc.Files.Info(ctx, p.FilePath))
	case models.FileMetadata:
		return asData(action)(svc.Files.Metadata(ctx, p.FilePath))
	case models.FileDiff:
		return asData(action)(svc.Files.Diff(ctx, p.FilePath, p.File2, p.Diff2))
	case models.FileAnnotations:
		return asData(action)(svc.Files.Annotations(ctx, p.FilePath))
	default:
		return Envelope{}, services.Preconditionf("Unknown file query action: %s", action)
	}
}

func queryChangelists(ctx context.Context, svc *services.Services, params models.Params) (Envelope, error) {
	p, ok := params.(*models.QueryChangelistsParams)
	if !ok {
		return Envelope{}, mismatched(Route{Query, SubChangelists}, params)
	}
	action := string(p.Action)
	switch p.Action {
	case models.ChangelistGet:
		return asMessage(action)(svc.Changes.Get(ctx, p.ChangelistID))
	case models.ChangelistList:
		return asMessage(action)(svc.Changes.List(ctx, services.ChangelistFilter{
			Workspace:  p.WorkspaceName,
			Status:     p.Status,
			User:       p.User,
			DepotPath:  p.DepotPath,
			MaxResults: p.MaxResults,
		}))
	default:
		return Envelope{}, services.Preconditionf("Unknown changelist query action: %s", action)
	}
}

func queryShelves(ctx context.Context, svc *services.Services, params models.Params) (Envelope, error) {
	p, ok := params.(*models.QueryShelvesParams)
	if !ok {
		return Envelope{}, mismatched(Route{Query, SubShelves}, params)
	}
	action := string(p.Action)
	switch p.Action {
	case models.ShelveList:
		return asMessage(action)(svc.Shelves.List(ctx, p.User, p.MaxResults))
	case models.ShelveDiff:
		return asMessage(action)(svc.Shelves.Diff(ctx, p.ChangelistID))
	case models.ShelveFiles:
		return asMessage(action)(svc.Shelves.Files(ctx, p.ChangelistID))
	default:
		return Envelope{}, services.Preconditionf("Unknown shelve query action: %s", action)
	}
}

func queryJobs(ctx context.Context, svc *services.Services, params models.Params) (Envelope, error) {
	p, ok := params.(*models.QueryJobsParams)
	if !ok {
		return Envelope{}, mismatched(Route{Query, SubJobs}, params)
	}
	action := string(p.Action)
	switch p.Action {
	case models.JobListJobs:
		return asMessage(action)(svc.Jobs.ListJobs(ctx, p.ChangelistID, p.MaxResults))
	case models.JobGetJob:
		return asMessage(action)(svc.Jobs.GetJob(ctx, p.JobID))
	default:
		return Envelope{}, services.Preconditionf("Unknown job query action: %s", action)
	}
}
