// Package models defines the validated request parameters for every tool.
package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	DefaultMaxResults = 100
	maxResultsLimit   = 1000

	DefaultChangelist = "default"

	DefaultWorkspaceOptions = "noallwrite noclobber nocompress unlocked nomodtime normdir"
	DefaultLineEnd          = "local"
)

var (
	workspaceNamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
	viewMappingPattern   = regexp.MustCompile(`^//[\w/.-]+/\.\.\.\s+//[\w/.-]+/\.\.\.$`)
)

// ValidationError reports a parameter that is missing or malformed.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   string `json:"invalid_value,omitempty"`
}

// Error implements error.
func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func requiredFor(field string, action any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf("%s is required for action: %v", field, action)}
}

func invalidValue(field, value, message string) error {
	return &ValidationError{Field: field, Message: message, Value: value}
}

// Params is implemented by every tool parameter struct.
type Params interface {
	applyDefaults()
	normalize()
	Validate() error
	// ActionName returns the selected action.
	ActionName() string
}

// idFields may arrive as JSON numbers and are accepted as their decimal text.
var idFields = []string{"changelist_id", "target_changelist", "changelist", "job_id"}

// Decode builds params from a raw argument map: defaults first, then the
// strict decode (unknown fields rejected), whitespace trimming and Validate.
func Decode(raw map[string]any, params Params) error {
	params.applyDefaults()

	args := make(map[string]any, len(raw))
	for key, value := range raw {
		args[key] = value
	}
	for _, key := range idFields {
		switch typed := args[key].(type) {
		case float64:
			args[key] = strconv.FormatFloat(typed, 'f', -1, 64)
		case json.Number:
			args[key] = typed.String()
		case int:
			args[key] = strconv.Itoa(typed)
		}
	}

	encoded, err := json.Marshal(args)
	if err != nil {
		return &ValidationError{Field: "arguments", Message: "arguments must be a JSON object"}
	}
	decoder := json.NewDecoder(bytes.NewReader(encoded))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(params); err != nil {
		return decodeError(err)
	}

	params.normalize()
	return params.Validate()
}

func decodeError(err error) error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return &ValidationError{
			Field:   typeErr.Field,
			Message: fmt.Sprintf("%s must be of type %s", typeErr.Field, typeErr.Type.String()),
			Value:   typeErr.Value,
		}
	}
	if field, ok := strings.CutPrefix(err.Error(), "json: unknown field "); ok {
		field = strings.Trim(field, `"`)
		return &ValidationError{Field: field, Message: fmt.Sprintf("unexpected field: %s", field)}
	}
	return &ValidationError{Field: "arguments", Message: err.Error()}
}

func trim(values ...*string) {
	for _, value := range values {
		*value = strings.TrimSpace(*value)
	}
}

func trimList(values []string) []string {
	if values == nil {
		return nil
	}
	out := make([]string, len(values))
	for i, value := range values {
		out[i] = strings.TrimSpace(value)
	}
	return out
}

func validateMaxResults(value int) error {
	if value < 1 || value > maxResultsLimit {
		return invalidValue("max_results", strconv.Itoa(value), fmt.Sprintf("max_results must be between 1 and %d", maxResultsLimit))
	}
	return nil
}

type validatable interface {
	~string
	Valid() bool
}

func validateEnum[T validatable](field string, value T) error {
	if value == "" {
		return &ValidationError{Field: field, Message: fmt.Sprintf("%s is required", field)}
	}
	if !value.Valid() {
		return invalidValue(field, string(value), fmt.Sprintf("invalid %s: %s", field, value))
	}
	return nil
}

// QueryServerParams is the input of query_server.
type QueryServerParams struct {
	Action ServerAction `json:"action"`
}

func (p *QueryServerParams) ActionName() string { return string(p.Action) }
func (p *QueryServerParams) applyDefaults()     {}
func (p *QueryServerParams) normalize()         { trim((*string)(&p.Action)) }

func (p *QueryServerParams) Validate() error {
	return validateEnum("action", p.Action)
}

// QueryWorkspacesParams is the input of query_workspaces.
type QueryWorkspacesParams struct {
	Action        WorkspaceAction `json:"action"`
	WorkspaceName string          `json:"workspace_name,omitempty"`
	User          string          `json:"user,omitempty"`
	MaxResults    int             `json:"max_results"`
}

func (p *QueryWorkspacesParams) ActionName() string { return string(p.Action) }
func (p *QueryWorkspacesParams) applyDefaults()     { p.MaxResults = DefaultMaxResults }
func (p *QueryWorkspacesParams) normalize() {
	trim((*string)(&p.Action), &p.WorkspaceName, &p.User)
}

func (p *QueryWorkspacesParams) Validate() error {
	if err := validateEnum("action", p.Action); err != nil {
		return err
	}
	if err := validateMaxResults(p.MaxResults); err != nil {
		return err
	}
	switch p.Action {
	case WorkspaceGet, WorkspaceType, WorkspaceStatus:
		if p.WorkspaceName == "" {
			return requiredFor("workspace_name", p.Action)
		}
	}
	return nil
}

// QueryFilesParams is the input of query_files.
type QueryFilesParams struct {
	Action     FileAction `json:"action"`
	FilePath   string     `json:"file_path"`
	File2      string     `json:"file2,omitempty"`
	Diff2      bool       `json:"diff2"`
	MaxResults int        `json:"max_results"`
}

func (p *QueryFilesParams) ActionName() string { return string(p.Action) }
func (p *QueryFilesParams) applyDefaults() {
	p.Diff2 = true
	p.MaxResults = DefaultMaxResults
}

func (p *QueryFilesParams) normalize() { trim((*string)(&p.Action), &p.FilePath, &p.File2) }

func (p *QueryFilesParams) Validate() error {
	if err := validateEnum("action", p.Action); err != nil {
		return err
	}
	if err := validateMaxResults(p.MaxResults); err != nil {
		return err
	}
	if p.FilePath == "" {
		return &ValidationError{Field: "file_path", Message: "file_path is required"}
	}
	if err := validateFilePath("file_path", p.FilePath); err != nil {
		return err
	}
	if err := validateFilePath("file2", p.File2); err != nil {
		return err
	}
	if p.Action == FileDiff && p.File2 == "" {
		return &ValidationError{Field: "file2", Message: "file2 is required for diff action"}
	}
	return nil
}

func validateFilePath(field, path string) error {
	if path == "" || strings.HasPrefix(path, "/") || strings.Contains(path, ":") {
		return nil
	}
	return invalidValue(field, path, "File path must be depot path (//depot/...) or absolute local path")
}

// QueryChangelistsParams is the input of query_changelists.
type QueryChangelistsParams struct {
	Action        ChangelistAction `json:"action"`
	ChangelistID  string           `json:"changelist_id,omitempty"`
	WorkspaceName string           `json:"workspace_name,omitempty"`
	User          string           `json:"user,omitempty"`
	Status        ChangelistStatus `json:"status,omitempty"`
	DepotPath     string           `json:"depot_path,omitempty"`
	MaxResults    int              `json:"max_results"`
}

func (p *QueryChangelistsParams) ActionName() string { return string(p.Action) }
func (p *QueryChangelistsParams) applyDefaults()     { p.MaxResults = DefaultMaxResults }
func (p *QueryChangelistsParams) normalize() {
	trim((*string)(&p.Action), &p.ChangelistID, &p.WorkspaceName, &p.User, (*string)(&p.Status), &p.DepotPath)
}

func (p *QueryChangelistsParams) Validate() error {
	if err := validateEnum("action", p.Action); err != nil {
		return err
	}
	if err := validateMaxResults(p.MaxResults); err != nil {
		return err
	}
	if p.Status != "" && !p.Status.Valid() {
		return invalidValue("status", string(p.Status), fmt.Sprintf("invalid status: %s", p.Status))
	}
	if p.Action == ChangelistGet && p.ChangelistID == "" {
		return &ValidationError{Field: "changelist_id", Message: "changelist_id is required for get action"}
	}
	return nil
}

// QueryShelvesParams is the input of query_shelves.
type QueryShelvesParams struct {
	Action       ShelveAction `json:"action"`
	ChangelistID string       `json:"changelist_id,omitempty"`
	User         string       `json:"user,omitempty"`
	MaxResults   int          `json:"max_results"`
}

func (p *QueryShelvesParams) ActionName() string { return string(p.Action) }
func (p *QueryShelvesParams) applyDefaults()     { p.MaxResults = DefaultMaxResults }
func (p *QueryShelvesParams) normalize()         { trim((*string)(&p.Action), &p.ChangelistID, &p.User) }

func (p *QueryShelvesParams) Validate() error {
	if err := validateEnum("action", p.Action); err != nil {
		return err
	}
	if err := validateMaxResults(p.MaxResults); err != nil {
		return err
	}
	if (p.Action == ShelveDiff || p.Action == ShelveFiles) && p.ChangelistID == "" {
		return requiredFor("changelist_id", p.Action)
	}
	return nil
}

// QueryJobsParams is the input of query_jobs.
type QueryJobsParams struct {
	Action       JobAction `json:"action"`
	ChangelistID string    `json:"changelist_id,omitempty"`
	JobID        string    `json:"job_id,omitempty"`
	MaxResults   int       `json:"max_results"`
}

func (p *QueryJobsParams) ActionName() string { return string(p.Action) }
func (p *QueryJobsParams) applyDefaults()     { p.MaxResults = DefaultMaxResults }
func (p *QueryJobsParams) normalize()         { trim((*string)(&p.Action), &p.ChangelistID, &p.JobID) }

func (p *QueryJobsParams) Validate() error {
	if err := validateEnum("action", p.Action); err != nil {
		return err
	}
	if err := validateMaxResults(p.MaxResults); err != nil {
		return err
	}
	if p.Action == JobListJobs && p.ChangelistID == "" {
		return &ValidationError{Field: "changelist_id", Message: "changelist_id is required for list_jobs action"}
	}
	if p.Action == JobGetJob && p.JobID == "" {
		return &ValidationError{Field: "job_id", Message: "job_id is required for get_job action"}
	}
	return nil
}

// WorkspaceSpec describes a workspace to create or update.
type WorkspaceSpec struct {
	Name        string   `json:"Name"`
	Root        string   `json:"Root,omitempty"`
	Description string   `json:"Description,omitempty"`
	Options     string   `json:"Options,omitempty"`
	LineEnd     string   `json:"LineEnd,omitempty"`
	View        []string `json:"View,omitempty"`
}

func (s *WorkspaceSpec) normalize() {
	trim(&s.Name, &s.Root, &s.Description, &s.Options, &s.LineEnd)
	s.View = trimList(s.View)
	if s.Options == "" {
		s.Options = DefaultWorkspaceOptions
	}
	if s.LineEnd == "" {
		s.LineEnd = DefaultLineEnd
	}
}

// Validate checks name, description length and view mapping shapes.
func (s *WorkspaceSpec) Validate() error {
	if s.Name == "" || len(s.Name) > 255 {
		return invalidValue("specs.Name", s.Name, "Name must be between 1 and 255 characters")
	}
	if !workspaceNamePattern.MatchString(s.Name) {
		return invalidValue("specs.Name", s.Name, "Workspace name can only contain alphanumeric characters, dots, underscores, and hyphens")
	}
	if len(s.Description) > 1000 {
		return &ValidationError{Field: "specs.Description", Message: "Description must be at most 1000 characters"}
	}
	for _, mapping := range s.View {
		if !viewMappingPattern.MatchString(strings.ReplaceAll(mapping, `\`, "/")) {
			return invalidValue("specs.View", mapping, fmt.Sprintf("Invalid view mapping format: %s", mapping))
		}
	}
	return nil
}

// ModifyWorkspacesParams is the input of modify_workspaces.
type ModifyWorkspacesParams struct {
	Action WorkspaceModifyAction `json:"action"`
	Name   string                `json:"name"`
	Specs  *WorkspaceSpec        `json:"specs,omitempty"`
}

func (p *ModifyWorkspacesParams) ActionName() string { return string(p.Action) }
func (p *ModifyWorkspacesParams) applyDefaults()     {}
func (p *ModifyWorkspacesParams) normalize() {
	trim((*string)(&p.Action), &p.Name)
	if p.Specs != nil {
		p.Specs.normalize()
	}
}

func (p *ModifyWorkspacesParams) Validate() error {
	if err := validateEnum("action", p.Action); err != nil {
		return err
	}
	if p.Name == "" {
		return &ValidationError{Field: "name", Message: "name is required"}
	}
	if p.Specs != nil {
		if err := p.Specs.Validate(); err != nil {
			return err
		}
	}
	if (p.Action == WorkspaceCreate || p.Action == WorkspaceUpdate) && p.Specs == nil {
		return requiredFor("specs", p.Action)
	}
	return nil
}

// ModifyFilesParams is the input of modify_files.
type ModifyFilesParams struct {
	Action      FileModifyAction `json:"action"`
	FilePaths   []string         `json:"file_paths,omitempty"`
	Changelist  string           `json:"changelist"`
	SourcePaths []string         `json:"source_paths,omitempty"`
	TargetPaths []string         `json:"target_paths,omitempty"`
	Mode        ResolveMode      `json:"mode"`
	Force       bool             `json:"force"`
}

func (p *ModifyFilesParams) ActionName() string { return string(p.Action) }
func (p *ModifyFilesParams) applyDefaults() {
	p.Changelist = DefaultChangelist
	p.Mode = ResolveAuto
}

func (p *ModifyFilesParams) normalize() {
	trim((*string)(&p.Action), &p.Changelist, (*string)(&p.Mode))
	p.FilePaths = trimList(p.FilePaths)
	p.SourcePaths = trimList(p.SourcePaths)
	p.TargetPaths = trimList(p.TargetPaths)
	if p.Changelist == "" {
		p.Changelist = DefaultChangelist
	}
	if p.Mode == "" {
		p.Mode = ResolveAuto
	}
}

func (p *ModifyFilesParams) Validate() error {
	if err := validateEnum("action", p.Action); err != nil {
		return err
	}
	if err := validateEnum("mode", p.Mode); err != nil {
		return err
	}
	switch p.Action {
	case FileSync, FileMove, FileReconcile, FileResolve:
	default:
		if len(p.FilePaths) == 0 {
			return requiredFor("file_paths", p.Action)
		}
	}
	if p.Action == FileMove {
		if len(p.SourcePaths) == 0 || len(p.TargetPaths) == 0 {
			return &ValidationError{Field: "source_paths", Message: "move action requires both source_paths and target_paths"}
		}
		if len(p.SourcePaths) != len(p.TargetPaths) {
			return &ValidationError{Field: "target_paths", Message: "source_paths and target_paths must have the same length"}
		}
	}
	return nil
}

// ModifyChangelistsParams is the input of modify_changelists.
type ModifyChangelistsParams struct {
	Action       ChangelistModifyAction `json:"action"`
	ChangelistID string                 `json:"changelist_id,omitempty"`
	Description  string                 `json:"description,omitempty"`
	FilePaths    []string               `json:"file_paths,omitempty"`
}

func (p *ModifyChangelistsParams) ActionName() string { return string(p.Action) }
func (p *ModifyChangelistsParams) applyDefaults()     {}
func (p *ModifyChangelistsParams) normalize() {
	trim((*string)(&p.Action), &p.ChangelistID, &p.Description)
	p.FilePaths = trimList(p.FilePaths)
}

func (p *ModifyChangelistsParams) Validate() error {
	if err := validateEnum("action", p.Action); err != nil {
		return err
	}
	if len(p.Description) > 2000 {
		return &ValidationError{Field: "description", Message: "description must be at most 2000 characters"}
	}
	if p.Action != ChangelistCreate && p.ChangelistID == "" {
		return requiredFor("changelist_id", p.Action)
	}
	if p.Action == ChangelistCreate && p.Description == "" {
		return &ValidationError{Field: "description", Message: "description is required for create action"}
	}
	if p.Action == ChangelistMoveFiles && len(p.FilePaths) == 0 {
		return &ValidationError{Field: "file_paths", Message: "file_paths is required for move_files action"}
	}
	return nil
}

// ModifyShelvesParams is the input of modify_shelves.
type ModifyShelvesParams struct {
	Action           ShelveModifyAction `json:"action"`
	ChangelistID     string             `json:"changelist_id"`
	FilePaths        []string           `json:"file_paths,omitempty"`
	TargetChangelist string             `json:"target_changelist"`
	Force            bool               `json:"force"`
}

func (p *ModifyShelvesParams) ActionName() string { return string(p.Action) }
func (p *ModifyShelvesParams) applyDefaults()     { p.TargetChangelist = DefaultChangelist }
func (p *ModifyShelvesParams) normalize() {
	trim((*string)(&p.Action), &p.ChangelistID, &p.TargetChangelist)
	p.FilePaths = trimList(p.FilePaths)
	if p.TargetChangelist == "" {
		p.TargetChangelist = DefaultChangelist
	}
}

func (p *ModifyShelvesParams) Validate() error {
	if err := validateEnum("action", p.Action); err != nil {
		return err
	}
	if p.ChangelistID == "" {
		return &ValidationError{Field: "changelist_id", Message: "changelist_id is required"}
	}
	if p.Action == ShelveShelve && len(p.FilePaths) == 0 {
		return requiredFor("file_paths", p.Action)
	}
	return nil
}

// ModifyJobsParams is the input of modify_jobs.
type ModifyJobsParams struct {
	Action       JobModifyAction `json:"action"`
	ChangelistID string          `json:"changelist_id,omitempty"`
	JobID        string          `json:"job_id,omitempty"`
}

func (p *ModifyJobsParams) ActionName() string { return string(p.Action) }
func (p *ModifyJobsParams) applyDefaults()     {}
func (p *ModifyJobsParams) normalize()         { trim((*string)(&p.Action), &p.ChangelistID, &p.JobID) }

func (p *ModifyJobsParams) Validate() error {
	if err := validateEnum("action", p.Action); err != nil {
		return err
	}
	if p.ChangelistID == "" && p.JobID == "" {
		return &ValidationError{
			Field:   "changelist_id",
			Message: fmt.Sprintf("changelist_id and job_id are required for this %s action", p.Action),
		}
	}
	return nil
}

// ExecuteDeleteParams is the input of execute_delete.
type ExecuteDeleteParams struct {
	SourceTool    DeleteSourceTool `json:"source_tool"`
	Action        string           `json:"action"`
	ChangelistID  string           `json:"changelist_id,omitempty"`
	WorkspaceName string           `json:"workspace_name,omitempty"`
	FilePaths     []string         `json:"file_paths,omitempty"`
	OperationID   string           `json:"operation_id,omitempty"`
	UserConfirmed bool             `json:"user_confirmed"`
}

func (p *ExecuteDeleteParams) ActionName() string { return p.Action }
func (p *ExecuteDeleteParams) applyDefaults()     {}
func (p *ExecuteDeleteParams) normalize() {
	trim((*string)(&p.SourceTool), &p.Action, &p.ChangelistID, &p.WorkspaceName, &p.OperationID)
	p.FilePaths = trimList(p.FilePaths)
}

func (p *ExecuteDeleteParams) Validate() error {
	if err := validateEnum("source_tool", p.SourceTool); err != nil {
		return err
	}
	if p.Action != "delete" {
		return invalidValue("action", p.Action, "action must be 'delete'")
	}
	switch p.SourceTool {
	case SourceChangelists, SourceShelves:
		if p.ChangelistID == "" {
			return &ValidationError{Field: "changelist_id", Message: fmt.Sprintf("changelist_id is required for %s operations", p.SourceTool)}
		}
	case SourceWorkspaces:
		if p.WorkspaceName == "" {
			return &ValidationError{Field: "workspace_name", Message: "workspace_name is required for modify_workspaces operations"}
		}
	case SourceFiles:
		if len(p.FilePaths) == 0 {
			return &ValidationError{Field: "file_paths", Message: "file_paths is required for modify_files operations"}
		}
	}
	return nil
}
