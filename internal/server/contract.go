package server

import (
	"fmt"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/p4mcp/p4-mcp-server/internal/policy"
	"github.com/p4mcp/p4-mcp-server/internal/tools"
)

const (
	defaultProtocolVersion = "2024-11-05"
	defaultServerName      = "p4-mcp"

	toolsetServer = "server"
	toolsetDelete = "delete"
	toolsetJobs   = "jobs"
)

// ToolSpec represents a single MCP tool contract entry.
type ToolSpec struct {
	Name            string         `yaml:"name" json:"name"`
	Capability      string         `yaml:"capability" json:"capability"`
	Toolset         string         `yaml:"toolset" json:"toolset"`
	Description     string         `yaml:"description,omitempty" json:"description,omitempty"`
	Tags            []string       `yaml:"tags,omitempty" json:"tags,omitempty"`
	RequiredScopes  []string       `yaml:"requiredScopes,omitempty" json:"requiredScopes,omitempty"`
	ApprovalActions []string       `yaml:"approvalActions,omitempty" json:"approvalActions,omitempty"`
	InputSchema     map[string]any `yaml:"inputSchema,omitempty" json:"inputSchema,omitempty"`

	// Enabled is resolved from the command line, not the contract.
	Enabled bool `yaml:"-" json:"-"`
}

type toolContract struct {
	Version    string     `yaml:"version"`
	Service    string     `yaml:"service"`
	APIVersion string     `yaml:"apiVersion"`
	Tools      []ToolSpec `yaml:"tools"`
}

// ToolRegistry provides read-only access to parsed tools.
type ToolRegistry struct {
	contract toolContract
	byName   map[string]ToolSpec
}

// NewToolRegistry parses tools contract YAML and validates minimal invariants.
// Every tool starts enabled; see Enable.
func NewToolRegistry(contractYAML []byte) (*ToolRegistry, error) {
	var parsed toolContract
	if err := yaml.Unmarshal(contractYAML, &parsed); err != nil {
		return nil, fmt.Errorf("decoding tool contract: %w", err)
	}
	if len(parsed.Tools) == 0 {
		return nil, fmt.Errorf("tool contract has no tools")
	}

	byName := make(map[string]ToolSpec, len(parsed.Tools))
	for i, tool := range parsed.Tools {
		name := strings.TrimSpace(tool.Name)
		if name == "" {
			return nil, fmt.Errorf("tool contract contains empty tool name")
		}
		if _, exists := byName[name]; exists {
			return nil, fmt.Errorf("tool contract contains duplicate tool %q", name)
		}
		tool.Name = name
		tool.Capability = strings.TrimSpace(tool.Capability)
		if tool.Capability == "" {
			return nil, fmt.Errorf("tool %q has empty capability", name)
		}
		tool.Toolset = strings.TrimSpace(tool.Toolset)
		if tool.Toolset == "" {
			tool.Toolset = policy.Toolset(name)
		}
		tool.Enabled = true
		parsed.Tools[i] = tool
		byName[name] = tool
	}

	return &ToolRegistry{
		contract: parsed,
		byName:   byName,
	}, nil
}

// Enable returns a registry whose tools are enabled according to the
// read-only switch and the selected toolsets. query_server is always on;
// execute_delete is on when writes are allowed and a toolset other than
// jobs is selected.
func (r *ToolRegistry) Enable(readOnly bool, toolsets []string) *ToolRegistry {
	deletable := slices.ContainsFunc(toolsets, func(toolset string) bool { return toolset != toolsetJobs })

	out := &ToolRegistry{
		contract: r.contract,
		byName:   make(map[string]ToolSpec, len(r.byName)),
	}
	out.contract.Tools = make([]ToolSpec, 0, len(r.contract.Tools))
	for _, tool := range r.contract.Tools {
		write := tool.Capability != "read"
		switch tool.Toolset {
		case toolsetServer:
			tool.Enabled = true
		case toolsetDelete:
			tool.Enabled = !readOnly && deletable
		default:
			tool.Enabled = slices.Contains(toolsets, tool.Toolset) && (!write || !readOnly)
		}
		out.contract.Tools = append(out.contract.Tools, tool)
		out.byName[tool.Name] = tool
	}
	return out
}

// List returns all registered tools in contract order.
func (r *ToolRegistry) List() []ToolSpec {
	items := make([]ToolSpec, 0, len(r.contract.Tools))
	items = append(items, r.contract.Tools...)
	return items
}

// Enabled returns the tools clients may see, in contract order.
func (r *ToolRegistry) Enabled() []ToolSpec {
	items := make([]ToolSpec, 0, len(r.contract.Tools))
	for _, tool := range r.contract.Tools {
		if tool.Enabled {
			items = append(items, tool)
		}
	}
	return items
}

// Lookup returns a tool by name.
func (r *ToolRegistry) Lookup(name string) (ToolSpec, bool) {
	tool, ok := r.byName[strings.TrimSpace(name)]
	return tool, ok
}

// Definitions describes the registered tools for the tool runner.
func (r *ToolRegistry) Definitions() []tools.Definition {
	defs := make([]tools.Definition, 0, len(r.contract.Tools))
	for _, tool := range r.contract.Tools {
		defs = append(defs, tools.Definition{
			Name:            tool.Name,
			Tags:            slices.Clone(tool.Tags),
			ApprovalActions: slices.Clone(tool.ApprovalActions),
			Enabled:         tool.Enabled,
		})
	}
	return defs
}

func describeTools(specs []ToolSpec) []toolDescriptor {
	items := make([]toolDescriptor, 0, len(specs))
	for _, tool := range specs {
		items = append(items, toolDescriptor{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		})
	}
	return items
}
