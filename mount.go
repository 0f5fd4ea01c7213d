package vfs

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
)

// ============================================================================
// Mountpoint
// ============================================================================

// MountOptions holds the free-form options of a mountpoint
type MountOptions struct {
	// Alias is the literal backend path this mount's root stands for, e.g.
	// a mount rooted at apps:/// with Alias osjs:///packages serves
	// apps:///foo from osjs:///packages/foo.
	Alias string

	// Extra carries transport-specific settings from the mount table.
	Extra map[string]any
}

// Mountpoint binds a virtual path prefix to a Transport
type Mountpoint struct {
	Name        string
	Title       string
	Description string
	Icon        string
	Root        string
	Match       *regexp.Regexp

	ReadOnly   bool
	Internal   bool
	Enabled    bool
	Visible    bool
	Special    bool
	Dynamic    bool
	Searchable bool

	Options   MountOptions
	Transport Transport

	mounted atomic.Bool
}

// MountOption configures a Mountpoint
type MountOption func(*Mountpoint) error

// WithRoot sets the caller-facing root (default <name>:///)
func WithRoot(root string) MountOption {
	return func(m *Mountpoint) error {
		m.Root = root
		return nil
	}
}

// WithMatch sets the pattern that claims paths for the mount
func WithMatch(pattern string) MountOption {
	return func(m *Mountpoint) error {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("%w: match %q: %v", ErrInvalidArgument, pattern, err)
		}
		m.Match = re
		return nil
	}
}

// WithAlias makes the mount a view onto a literal path of another mount
func WithAlias(alias string) MountOption {
	return func(m *Mountpoint) error {
		if alias != "" && !HasScheme(alias) {
			return fmt.Errorf("%w: alias %q is not scheme-qualified", ErrInvalidArgument, alias)
		}
		m.Options.Alias = alias
		return nil
	}
}

// WithTitle sets the display title and description
func WithTitle(title, description string) MountOption {
	return func(m *Mountpoint) error {
		m.Title = title
		m.Description = description
		return nil
	}
}

// WithIcon sets the display icon
func WithIcon(icon string) MountOption {
	return func(m *Mountpoint) error {
		m.Icon = icon
		return nil
	}
}

// WithExtra attaches transport-specific options
func WithExtra(extra map[string]any) MountOption {
	return func(m *Mountpoint) error {
		m.Options.Extra = extra
		return nil
	}
}

// AsReadOnly rejects every mutating operation before it reaches the transport
func AsReadOnly() MountOption {
	return func(m *Mountpoint) error {
		m.ReadOnly = true
		return nil
	}
}

// AsInternal marks the mount as served by the default server-side
// transport, so copies between internal mounts are a single backend call.
func AsInternal() MountOption {
	return func(m *Mountpoint) error {
		m.Internal = true
		return nil
	}
}

// AsSpecial marks system mounts that are hidden from mount notifications
func AsSpecial() MountOption {
	return func(m *Mountpoint) error {
		m.Special = true
		return nil
	}
}

// AsSearchable includes the mount in searches
func AsSearchable() MountOption {
	return func(m *Mountpoint) error {
		m.Searchable = true
		return nil
	}
}

// AsStatic marks mounts that come from configuration rather than the user
func AsStatic() MountOption {
	return func(m *Mountpoint) error {
		m.Dynamic = false
		return nil
	}
}

// WithVisible toggles side-panel visibility
func WithVisible(visible bool) MountOption {
	return func(m *Mountpoint) error {
		m.Visible = visible
		return nil
	}
}

// WithEnabled toggles whether the mount takes part in resolution
func WithEnabled(enabled bool) MountOption {
	return func(m *Mountpoint) error {
		m.Enabled = enabled
		return nil
	}
}

// NewMountpoint creates a mountpoint named name. The name is lower-cased
// with whitespace replaced by dashes; Root defaults to <name>:/// and Match
// to ^<name>://.
func NewMountpoint(name string, transport Transport, opts ...MountOption) (*Mountpoint, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: mountpoint needs a name", ErrInvalidArgument)
	}
	if transport == nil {
		return nil, fmt.Errorf("%w: no transport for mountpoint %s", ErrInvalidArgument, name)
	}

	sname := strings.ToLower(strings.Join(strings.Fields(name), "-"))
	m := &Mountpoint{
		Name:      sname,
		Title:     name,
		Icon:      "devices/drive-harddisk.png",
		Enabled:   true,
		Visible:   true,
		Dynamic:   true,
		Transport: transport,
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	if m.Description == "" {
		m.Description = m.Title
	}
	if m.Root == "" {
		m.Root = sname + ":///"
	} else if !HasScheme(m.Root) {
		return nil, fmt.Errorf("%w: root %q is not scheme-qualified", ErrInvalidArgument, m.Root)
	}
	if m.Match == nil {
		m.Match = regexp.MustCompile("^" + regexp.QuoteMeta(Scheme(m.Root)+schemeSep))
	}
	return m, nil
}

// Mounted reports whether the mount is currently mounted
func (m *Mountpoint) Mounted() bool {
	return m.mounted.Load()
}

// Owns reports whether p is claimed by this mount
func (m *Mountpoint) Owns(p string) bool {
	return m.Enabled && m.Match.MatchString(p)
}

// IsRoot reports whether p addresses the mount's own root
func (m *Mountpoint) IsRoot(p string) bool {
	rest, ok := trimPathPrefix(p, m.Root)
	return ok && rest == "/"
}

func (m *Mountpoint) String() string {
	return m.Name + " (" + m.Root + ")"
}

// ============================================================================
// MountManager
// ============================================================================

// MountManager is the registry of mountpoints. Resolution walks mounts in
// registration order and the first enabled mount whose pattern matches
// wins.
type MountManager struct {
	mu           sync.RWMutex
	mounts       []*Mountpoint
	defaultMount string
}

// NewMountManager creates an empty registry. defaultMount names the mount
// that receives paths without a scheme; it may be empty.
func NewMountManager(defaultMount string) *MountManager {
	return &MountManager{defaultMount: defaultMount}
}

// Add registers m after every existing mount. Names and roots are unique.
func (mm *MountManager) Add(m *Mountpoint) error {
	if m == nil {
		return fmt.Errorf("%w: nil mountpoint", ErrInvalidArgument)
	}

	mm.mu.Lock()
	defer mm.mu.Unlock()

	for _, existing := range mm.mounts {
		if existing.Name == m.Name {
			return fmt.Errorf("%w: %s", ErrMountExists, m.Name)
		}
		if existing.Root == m.Root {
			return fmt.Errorf("%w: root %s", ErrMountExists, m.Root)
		}
	}
	mm.mounts = append(mm.mounts, m)
	return nil
}

// Remove unregisters the mount called name. Removing an unknown mount is a
// no-op; the return value tells whether anything was removed.
func (mm *MountManager) Remove(name string) bool {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	for i, m := range mm.mounts {
		if m.Name == name {
			mm.mounts = append(mm.mounts[:i:i], mm.mounts[i+1:]...)
			m.mounted.Store(false)
			return true
		}
	}
	return false
}

// Get returns the mount called name
func (mm *MountManager) Get(name string) (*Mountpoint, bool) {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	for _, m := range mm.mounts {
		if m.Name == name {
			return m, true
		}
	}
	return nil, false
}

// SetDefault changes the mount that receives unqualified paths
func (mm *MountManager) SetDefault(name string) {
	mm.mu.Lock()
	mm.defaultMount = name
	mm.mu.Unlock()
}

// Qualify prefixes an unqualified path with the default mount's root.
// Qualified paths are returned unchanged.
func (mm *MountManager) Qualify(p string) (string, error) {
	if HasScheme(p) {
		return p, nil
	}

	mm.mu.RLock()
	defer mm.mu.RUnlock()

	if mm.defaultMount != "" {
		for _, m := range mm.mounts {
			if m.Name == mm.defaultMount {
				return Join(m.Root, Rel(p)), nil
			}
		}
	}
	return "", fmt.Errorf("%w: %s", ErrMountNotFound, p)
}

// Resolve returns the mount owning p. It never falls back to a default
// for scheme-qualified paths.
func (mm *MountManager) Resolve(p string) (*Mountpoint, error) {
	p, err := mm.Qualify(p)
	if err != nil {
		return nil, err
	}

	mm.mu.RLock()
	defer mm.mu.RUnlock()

	for _, m := range mm.mounts {
		if m.Owns(p) {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrMountNotFound, p)
}

// IsInternal reports whether p belongs to a mount served by the default
// server-side transport.
func (mm *MountManager) IsInternal(p string) bool {
	m, err := mm.Resolve(p)
	return err == nil && m.Internal
}

// ListFilter selects mounts in List. Nil fields do not filter.
type ListFilter struct {
	Visible    *bool
	Special    *bool
	Enabled    *bool
	Dynamic    *bool
	Searchable *bool
	Mounted    *bool
}

func (f ListFilter) match(m *Mountpoint) bool {
	check := func(want *bool, have bool) bool {
		return want == nil || *want == have
	}
	return check(f.Visible, m.Visible) &&
		check(f.Special, m.Special) &&
		check(f.Enabled, m.Enabled) &&
		check(f.Dynamic, m.Dynamic) &&
		check(f.Searchable, m.Searchable) &&
		check(f.Mounted, m.Mounted())
}

// List returns the mounts accepted by filter in registration order
func (mm *MountManager) List(filter ListFilter) []*Mountpoint {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	result := make([]*Mountpoint, 0, len(mm.mounts))
	for _, m := range mm.mounts {
		if filter.match(m) {
			result = append(result, m)
		}
	}
	return result
}

// setMounted flips the mounted state of name and reports whether it changed
func (mm *MountManager) setMounted(name string, mounted bool) (*Mountpoint, bool, error) {
	m, ok := mm.Get(name)
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", ErrMountNotFound, name)
	}
	return m, m.mounted.Swap(mounted) != mounted, nil
}

// ============================================================================
// Aliases
// ============================================================================

// ResolveAlias rewrites a caller-facing path on an aliased mount into the
// literal backend path. ok is false when p's mount has no alias.
func (mm *MountManager) ResolveAlias(p string) (literal string, alias *Mountpoint, ok bool) {
	m, err := mm.Resolve(p)
	if err != nil || m.Options.Alias == "" {
		return p, nil, false
	}
	rest, under := trimPathPrefix(p, m.Root)
	if !under {
		rest = Rel(p)
	}
	return Join(m.Options.Alias, rest), m, true
}

// ReverseAlias rewrites a literal backend path lying under some mount's
// alias target back to that mount's caller-facing path.
func (mm *MountManager) ReverseAlias(p string) (string, *Mountpoint, bool) {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	for _, m := range mm.mounts {
		if !m.Enabled || m.Options.Alias == "" {
			continue
		}
		if rest, ok := trimPathPrefix(p, m.Options.Alias); ok {
			return Join(m.Root, rest), m, true
		}
	}
	return p, nil, false
}

// unalias maps a literal path back through one specific aliased mount
func unalias(m *Mountpoint, p string) string {
	if rest, ok := trimPathPrefix(p, m.Options.Alias); ok {
		return Join(m.Root, rest)
	}
	return p
}

// trimPathPrefix removes base from p segment by segment. Both must share
// the scheme; the remainder always starts with a slash.
func trimPathPrefix(p, base string) (string, bool) {
	ps, prest, pok := SplitPath(p)
	bs, brest, bok := SplitPath(base)
	if pok != bok || ps != bs {
		return "", false
	}
	if brest == "/" {
		return prest, true
	}
	if prest == brest {
		return "/", true
	}
	if strings.HasPrefix(prest, brest+"/") {
		return prest[len(brest):], true
	}
	return "", false
}
