package models

// ServerAction selects a query_server operation.
type ServerAction string

const (
	ServerInfo  ServerAction = "server_info"
	CurrentUser ServerAction = "current_user"
)

func (a ServerAction) Valid() bool { return oneOf(string(a), ServerInfo, CurrentUser) }

// WorkspaceAction selects a query_workspaces operation.
type WorkspaceAction string

const (
	WorkspaceGet    WorkspaceAction = "get"
	WorkspaceList   WorkspaceAction = "list"
	WorkspaceType   WorkspaceAction = "type"
	WorkspaceStatus WorkspaceAction = "status"
)

func (a WorkspaceAction) Valid() bool {
	return oneOf(string(a), WorkspaceGet, WorkspaceList, WorkspaceType, WorkspaceStatus)
}

// FileAction selects a query_files operation.
type FileAction string

const (
	FileContent     FileAction = "content"
	FileHistory     FileAction = "history"
	FileInfo        FileAction = "info"
	FileMetadata    FileAction = "metadata"
	FileDiff        FileAction = "diff"
	FileAnnotations FileAction = "annotations"
)

func (a FileAction) Valid() bool {
	return oneOf(string(a), FileContent, FileHistory, FileInfo, FileMetadata, FileDiff, FileAnnotations)
}

// ChangelistAction selects a query_changelists operation.
type ChangelistAction string

const (
	ChangelistGet  ChangelistAction = "get"
	ChangelistList ChangelistAction = "list"
)

func (a ChangelistAction) Valid() bool { return oneOf(string(a), ChangelistGet, ChangelistList) }

// ChangelistStatus filters changelist listings.
type ChangelistStatus string

const (
	StatusPending   ChangelistStatus = "pending"
	StatusSubmitted ChangelistStatus = "submitted"
)

func (s ChangelistStatus) Valid() bool { return oneOf(string(s), StatusPending, StatusSubmitted) }

// ShelveAction selects a query_shelves operation.
type ShelveAction string

const (
	ShelveList  ShelveAction = "list"
	ShelveDiff  ShelveAction = "diff"
	ShelveFiles ShelveAction = "files"
)

func (a ShelveAction) Valid() bool { return oneOf(string(a), ShelveList, ShelveDiff, ShelveFiles) }

// JobAction selects a query_jobs operation.
type JobAction string

const (
	JobListJobs JobAction = "list_jobs"
	JobGetJob   JobAction = "get_job"
)

func (a JobAction) Valid() bool { return oneOf(string(a), JobListJobs, JobGetJob) }

// WorkspaceModifyAction selects a modify_workspaces operation.
type WorkspaceModifyAction string

const (
	WorkspaceCreate WorkspaceModifyAction = "create"
	WorkspaceDelete WorkspaceModifyAction = "delete"
	WorkspaceUpdate WorkspaceModifyAction = "update"
	WorkspaceSwitch WorkspaceModifyAction = "switch"
)

func (a WorkspaceModifyAction) Valid() bool {
	return oneOf(string(a), WorkspaceCreate, WorkspaceDelete, WorkspaceUpdate, WorkspaceSwitch)
}

// FileModifyAction selects a modify_files operation.
type FileModifyAction string

const (
	FileAdd       FileModifyAction = "add"
	FileEdit      FileModifyAction = "edit"
	FileDelete    FileModifyAction = "delete"
	FileMove      FileModifyAction = "move"
	FileRevert    FileModifyAction = "revert"
	FileReconcile FileModifyAction = "reconcile"
	FileResolve   FileModifyAction = "resolve"
	FileSync      FileModifyAction = "sync"
)

func (a FileModifyAction) Valid() bool {
	return oneOf(string(a), FileAdd, FileEdit, FileDelete, FileMove, FileRevert, FileReconcile, FileResolve, FileSync)
}

// ChangelistModifyAction selects a modify_changelists operation.
type ChangelistModifyAction string

const (
	ChangelistCreate    ChangelistModifyAction = "create"
	ChangelistUpdate    ChangelistModifyAction = "update"
	ChangelistSubmit    ChangelistModifyAction = "submit"
	ChangelistDelete    ChangelistModifyAction = "delete"
	ChangelistMoveFiles ChangelistModifyAction = "move_files"
)

func (a ChangelistModifyAction) Valid() bool {
	return oneOf(string(a), ChangelistCreate, ChangelistUpdate, ChangelistSubmit, ChangelistDelete, ChangelistMoveFiles)
}

// ShelveModifyAction selects a modify_shelves operation.
type ShelveModifyAction string

const (
	ShelveShelve               ShelveModifyAction = "shelve"
	ShelveUnshelve             ShelveModifyAction = "unshelve"
	ShelveUpdate               ShelveModifyAction = "update"
	ShelveDelete               ShelveModifyAction = "delete"
	ShelveUnshelveToChangelist ShelveModifyAction = "unshelve_to_changelist"
)

func (a ShelveModifyAction) Valid() bool {
	return oneOf(string(a), ShelveShelve, ShelveUnshelve, ShelveUpdate, ShelveDelete, ShelveUnshelveToChangelist)
}

// JobModifyAction selects a modify_jobs operation.
type JobModifyAction string

const (
	JobLink   JobModifyAction = "link_job"
	JobUnlink JobModifyAction = "unlink_job"
)

func (a JobModifyAction) Valid() bool { return oneOf(string(a), JobLink, JobUnlink) }

// ResolveMode picks the resolve strategy.
type ResolveMode string

const (
	ResolveAuto    ResolveMode = "auto"
	ResolveSafe    ResolveMode = "safe"
	ResolveForce   ResolveMode = "force"
	ResolvePreview ResolveMode = "preview"
	ResolveTheirs  ResolveMode = "theirs"
	ResolveYours   ResolveMode = "yours"
)

var resolveFlags = map[ResolveMode]string{
	ResolveAuto:    "-am",
	ResolveSafe:    "-as",
	ResolveForce:   "-af",
	ResolvePreview: "-n",
	ResolveTheirs:  "-at",
	ResolveYours:   "-ay",
}

func (m ResolveMode) Valid() bool {
	_, ok := resolveFlags[m]
	return ok
}

// Flag returns the resolve command flag for the mode.
func (m ResolveMode) Flag() string {
	return resolveFlags[m]
}

// DeleteSourceTool names a tool whose delete action goes through approval.
type DeleteSourceTool string

const (
	SourceChangelists DeleteSourceTool = "modify_changelists"
	SourceWorkspaces  DeleteSourceTool = "modify_workspaces"
	SourceFiles       DeleteSourceTool = "modify_files"
	SourceShelves     DeleteSourceTool = "modify_shelves"
)

func (s DeleteSourceTool) Valid() bool {
	return oneOf(string(s), SourceChangelists, SourceWorkspaces, SourceFiles, SourceShelves)
}

func oneOf[T ~string](value string, allowed ...T) bool {
	for _, candidate := range allowed {
		if value == string(candidate) {
			return true
		}
	}
	return false
}
