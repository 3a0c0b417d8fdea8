package p4

import "strings"

// Info is the tagged output of "info".
type Info struct {
	UserName      string `json:"userName,omitempty"`
	ClientName    string `json:"clientName,omitempty"`
	ClientRoot    string `json:"clientRoot,omitempty"`
	ClientHost    string `json:"clientHost,omitempty"`
	ServerAddress string `json:"serverAddress,omitempty"`
	ServerVersion string `json:"serverVersion,omitempty"`
	ServerRoot    string `json:"serverRoot,omitempty"`
	ServerID      string `json:"serverID,omitempty"`
	CaseHandling  string `json:"caseHandling,omitempty"`
}

// Release returns the "<year.release>.<change>" part of ServerVersion, or ""
// when the version string has an unexpected shape.
func (i Info) Release() string {
	return ParseServerVersion(i.ServerVersion)
}

// ParseServerVersion reduces "P4D/LINUX26X86_64/2024.1/2596294 (2024/05/10)"
// to "2024.1.2596294".
func ParseServerVersion(raw string) string {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return ""
	}
	parts := strings.Split(fields[0], "/")
	if len(parts) < 4 {
		return ""
	}
	return parts[2] + "." + parts[3]
}

// ClientSpec is the tagged output of "client -o".
type ClientSpec struct {
	Client        string   `json:"Client"`
	Owner         string   `json:"Owner,omitempty"`
	Host          string   `json:"Host,omitempty"`
	Description   string   `json:"Description,omitempty"`
	Root          string   `json:"Root,omitempty"`
	AltRoots      []string `json:"AltRoots,omitempty"`
	Options       string   `json:"Options,omitempty"`
	SubmitOptions string   `json:"SubmitOptions,omitempty"`
	LineEnd       string   `json:"LineEnd,omitempty"`
	Stream        string   `json:"Stream,omitempty"`
	View          []string `json:"View,omitempty"`
}

// Form renders the spec for "client -i".
func (c ClientSpec) Form() []byte {
	var f Form
	f.Set("Client", c.Client)
	f.Set("Owner", c.Owner)
	f.Set("Host", c.Host)
	f.SetText("Description", c.Description)
	f.Set("Root", c.Root)
	f.SetList("AltRoots", c.AltRoots)
	f.Set("Options", c.Options)
	f.Set("SubmitOptions", c.SubmitOptions)
	f.Set("LineEnd", c.LineEnd)
	f.Set("Stream", c.Stream)
	f.SetList("View", c.View)
	return f.Bytes()
}

// Describe is the tagged output of "describe" for one change.
type Describe struct {
	Change     string   `json:"change"`
	User       string   `json:"user,omitempty"`
	Client     string   `json:"client,omitempty"`
	Time       string   `json:"time,omitempty"`
	Desc       string   `json:"desc,omitempty"`
	Status     string   `json:"status,omitempty"`
	ChangeType string   `json:"changeType,omitempty"`
	DepotFile  []string `json:"depotFile,omitempty"`
	Action     []string `json:"action,omitempty"`
	Rev        []string `json:"rev,omitempty"`
}

// ChangeSpec is the tagged output of "change -o".
type ChangeSpec struct {
	Change      string   `json:"Change"`
	Date        string   `json:"Date,omitempty"`
	Client      string   `json:"Client,omitempty"`
	User        string   `json:"User,omitempty"`
	Status      string   `json:"Status,omitempty"`
	Type        string   `json:"Type,omitempty"`
	Description string   `json:"Description,omitempty"`
	Jobs        []string `json:"Jobs,omitempty"`
	Files       []string `json:"Files,omitempty"`
}

// Form renders the spec for "change -i".
func (c ChangeSpec) Form() []byte {
	var f Form
	f.Set("Change", c.Change)
	f.Set("Client", c.Client)
	f.Set("User", c.User)
	f.Set("Status", c.Status)
	f.Set("Type", c.Type)
	f.SetText("Description", c.Description)
	f.SetList("Jobs", c.Jobs)
	f.SetList("Files", c.Files)
	return f.Bytes()
}

// HasJob reports whether job is linked to the change.
func (c ChangeSpec) HasJob(job string) bool {
	for _, linked := range c.Jobs {
		if linked == job {
			return true
		}
	}
	return false
}
