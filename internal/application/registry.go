package application

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"forge-mcp-server/internal/domain"
)

// Tool is the descriptor of one invocable tool: its advertised identity,
// the schema its arguments must satisfy and the handler that runs it.
// Descriptors are immutable once registered.
type Tool struct {
	Name        string
	Description string
	Group       domain.Group
	// ReadOnly is static and never inferred from the handler.
	ReadOnly bool
	// Destructive marks write tools that delete or irreversibly change data.
	Destructive bool
	Schema      domain.Schema
	Handler     domain.HandlerFunc
}

// Definition renders the listing triple for the tool.
func (t *Tool) Definition() domain.ToolDefinition {
	return domain.ToolDefinition{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: t.Schema.JSONSchema(),
		Annotations: &domain.ToolHints{
			ReadOnlyHint:    t.ReadOnly,
			DestructiveHint: t.Destructive,
		},
	}
}

// ToolProvider supplies the tools of one capability group.
type ToolProvider interface {
	Group() domain.Group
	// Ready reports the missing prerequisite (credentials, endpoint,
	// configuration switch) that keeps the group out of the registry.
	Ready() error
	Tools() []Tool
}

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	// EnabledGroups restricts registration and listing. Empty means all.
	EnabledGroups []domain.Group
	// ReadOnly hides write tools from listings and makes the dispatcher
	// reject them.
	ReadOnly bool
	Logger   zerolog.Logger
}

// ListFilter narrows a listing.
type ListFilter struct {
	ReadOnlyOnly bool
	Groups       []domain.Group // empty means every enabled group
}

// Registry holds every registered tool in registration order.
// Registration happens at startup; lookups are safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	tools    []*Tool
	byName   map[string]*Tool
	enabled  map[domain.Group]bool // nil means all groups
	readOnly bool
	logger   zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(opts RegistryOptions) *Registry {
	r := &Registry{
		byName:   make(map[string]*Tool),
		readOnly: opts.ReadOnly,
		logger:   opts.Logger,
	}
	if len(opts.EnabledGroups) > 0 {
		r.enabled = make(map[domain.Group]bool, len(opts.EnabledGroups))
		for _, g := range opts.EnabledGroups {
			r.enabled[g] = true
		}
	}
	return r
}

// ReadOnly reports whether global read-only mode is active.
func (r *Registry) ReadOnly() bool {
	return r.readOnly
}

// GroupEnabled reports whether the enabled-groups selector admits g.
func (r *Registry) GroupEnabled(g domain.Group) bool {
	return r.enabled == nil || r.enabled[g]
}

// Register adds one tool. The first registration of a name wins; later
// ones fail with *domain.DuplicateToolError.
func (r *Registry) Register(tool Tool) error {
	if tool.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if tool.Handler == nil {
		return fmt.Errorf("tool %s has no handler", tool.Name)
	}
	if err := tool.Schema.Check(); err != nil {
		return fmt.Errorf("tool %s: %w", tool.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[tool.Name]; exists {
		return &domain.DuplicateToolError{Name: tool.Name}
	}
	t := tool
	r.tools = append(r.tools, &t)
	r.byName[t.Name] = &t
	return nil
}

// RegisterProvider registers every tool of a provider. A disabled group or
// one whose prerequisites are missing is skipped with a warning and is not
// an error. Registration errors inside the group are returned.
func (r *Registry) RegisterProvider(p ToolProvider) error {
	group := p.Group()
	if !r.GroupEnabled(group) {
		r.logger.Info().Str("group", string(group)).Msg("tool group disabled by enabled_tools selector")
		return nil
	}
	if err := p.Ready(); err != nil {
		r.logger.Warn().Str("group", string(group)).Str("reason", err.Error()).Msg("tool group not registered")
		return nil
	}

	tools := p.Tools()
	for _, tool := range tools {
		if tool.Group == "" {
			tool.Group = group
		}
		if err := r.Register(tool); err != nil {
			return fmt.Errorf("registering %s tools: %w", group, err)
		}
	}
	r.logger.Debug().Str("group", string(group)).Int("tools", len(tools)).Msg("tool group registered")
	return nil
}

// List returns the tools that pass filter, in registration order.
// Global read-only mode always applies.
func (r *Registry) List(filter ListFilter) []*Tool {
	var groups map[domain.Group]bool
	if len(filter.Groups) > 0 {
		groups = make(map[domain.Group]bool, len(filter.Groups))
		for _, g := range filter.Groups {
			groups[g] = true
		}
	}
	readOnlyOnly := filter.ReadOnlyOnly || r.readOnly

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Tool, 0, len(r.tools))
	for _, t := range r.tools {
		if !r.GroupEnabled(t.Group) {
			continue
		}
		if groups != nil && !groups[t.Group] {
			continue
		}
		if readOnlyOnly && !t.ReadOnly {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Resolve finds a tool by exact name. Write tools resolve in read-only
// mode; the dispatcher enforces the policy.
func (r *Registry) Resolve(name string) (*Tool, error) {
	r.mu.RLock()
	t, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok || !r.GroupEnabled(t.Group) {
		return nil, &domain.UnknownToolError{Name: name}
	}
	return t, nil
}

// Definitions is the listing responder: the advertised triples of every
// enabled tool, honouring read-only mode.
func (r *Registry) Definitions() []domain.ToolDefinition {
	tools := r.List(ListFilter{})
	defs := make([]domain.ToolDefinition, len(tools))
	for i, t := range tools {
		defs[i] = t.Definition()
	}
	return defs
}
