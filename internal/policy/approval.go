package policy

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/p4mcp/p4-mcp-server/internal/models"
)

// ConfirmTool is the tool that carries out an approved delete.
const ConfirmTool = "execute_delete"

// RequiresApproval reports whether action is one of the tool's approval actions.
func RequiresApproval(approvalActions []string, action string) bool {
	action = strings.TrimSpace(action)
	return action != "" && slices.Contains(approvalActions, action)
}

// Toolset returns the toolset a modify_<toolset> tool operates on.
func Toolset(toolName string) string {
	if _, rest, ok := strings.Cut(toolName, "_"); ok {
		return rest
	}
	return "unknown"
}

// Approval is returned instead of running a destructive action. Nothing is
// stored server side: the client replays the details to execute_delete.
type Approval struct {
	OperationID string
	SourceTool  string
	Action      string
	Params      map[string]any
}

// NewApproval builds the approval request for running action on sourceTool
// with params.
func NewApproval(sourceTool, action string, params any) (Approval, error) {
	dump, err := paramsMap(params)
	if err != nil {
		return Approval{}, fmt.Errorf("encoding %s parameters: %w", sourceTool, err)
	}
	return Approval{
		OperationID: uuid.NewString(),
		SourceTool:  sourceTool,
		Action:      action,
		Params:      dump,
	}, nil
}

// Map renders the approval as a tool result.
func (a Approval) Map() map[string]any {
	toolset := Toolset(a.SourceTool)
	return map[string]any{
		"_meta": map[string]any{
			"requires_approval": true,
			"approval_type":     "dangerous_operation",
		},
		"type":         "approval_required",
		"operation":    "delete_" + toolset,
		"operation_id": a.OperationID,
		"message": fmt.Sprintf(
			"⚠️ DANGER: This will permanently delete the %s. This action cannot be undone. "+
				"Next operation should not be executed until the user approves.", toolset),
		"details": map[string]any{
			"source_tool": a.SourceTool,
			"action":      a.Action,
			"params":      a.Params,
		},
		"instruction": "User must explicitly approve this operation",
		"on_approval": ConfirmTool,
	}
}

func paramsMap(params any) (map[string]any, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ConfirmedDelete rebuilds the source tool's delete request from an
// execute_delete call. It returns the toolset to dispatch to.
func ConfirmedDelete(req *models.ExecuteDeleteParams) (string, models.Params, error) {
	if !req.UserConfirmed {
		return "", nil, &models.ValidationError{
			Field:   "user_confirmed",
			Message: "user_confirmed must be true to execute an approved delete",
		}
	}

	var params models.Params
	switch req.SourceTool {
	case models.SourceWorkspaces:
		params = &models.ModifyWorkspacesParams{Action: models.WorkspaceDelete, Name: req.WorkspaceName}
	case models.SourceChangelists:
		params = &models.ModifyChangelistsParams{Action: models.ChangelistDelete, ChangelistID: req.ChangelistID}
	case models.SourceFiles:
		params = &models.ModifyFilesParams{
			Action:     models.FileDelete,
			FilePaths:  req.FilePaths,
			Changelist: models.DefaultChangelist,
			Mode:       models.ResolveAuto,
		}
	case models.SourceShelves:
		params = &models.ModifyShelvesParams{
			Action:           models.ShelveDelete,
			ChangelistID:     req.ChangelistID,
			FilePaths:        req.FilePaths,
			TargetChangelist: models.DefaultChangelist,
		}
	default:
		return "", nil, fmt.Errorf("Unknown source tool: %s", req.SourceTool)
	}
	if err := params.Validate(); err != nil {
		return "", nil, err
	}
	return Toolset(string(req.SourceTool)), params, nil
}
