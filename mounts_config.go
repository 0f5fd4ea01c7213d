package vfs

import (
	"context"
	_ "embed"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

//go:embed mounts.default.yaml
var defaultMountTable []byte

// MountConfig is one entry of a mount table
type MountConfig struct {
	Name        string `koanf:"name"`
	Title       string `koanf:"title"`
	Description string `koanf:"description"`
	Icon        string `koanf:"icon"`
	Transport   string `koanf:"transport"`
	Root        string `koanf:"root"`
	Match       string `koanf:"match"`
	Alias       string `koanf:"alias"`
	ReadOnly    bool   `koanf:"readOnly"`
	Internal    bool   `koanf:"internal"`
	Special     bool   `koanf:"special"`
	Searchable  bool   `koanf:"searchable"`
	Static      bool   `koanf:"static"`
	Visible     *bool  `koanf:"visible"`
	Enabled     *bool  `koanf:"enabled"`

	// Options is handed to the transport factory as is
	Options map[string]any `koanf:"options"`
}

// Option returns the string option key, or fallback when unset
func (mc MountConfig) Option(key, fallback string) string {
	if v, ok := mc.Options[key]; ok {
		if s := fmt.Sprint(v); s != "" {
			return s
		}
	}
	return fallback
}

// MountTable is a list of mount definitions in registration order
type MountTable struct {
	Mounts []MountConfig `koanf:"mounts"`
}

func (t *MountTable) has(name string) bool {
	for _, mc := range t.Mounts {
		if mc.Name == name {
			return true
		}
	}
	return false
}

// ConfigFormat is a mount table encoding, named by file extension
type ConfigFormat string

const (
	JSONConfigFormat ConfigFormat = ".json"
	YAMLConfigFormat ConfigFormat = ".yaml"
	YMLConfigFormat  ConfigFormat = ".yml"
)

func parserFor(format ConfigFormat) (koanf.Parser, error) {
	switch ConfigFormat(strings.ToLower(string(format))) {
	case JSONConfigFormat:
		return json.Parser(), nil
	case YAMLConfigFormat, YMLConfigFormat:
		return yaml.Parser(), nil
	default:
		return nil, fmt.Errorf("%w: no parser for mount table format %q", ErrInvalidArgument, format)
	}
}

func loadMountTable(provider koanf.Provider, format ConfigFormat) (*MountTable, error) {
	parser, err := parserFor(format)
	if err != nil {
		return nil, err
	}
	k := koanf.New(".")
	if err := k.Load(provider, parser); err != nil {
		return nil, fmt.Errorf("load mount table: %w", err)
	}

	table := &MountTable{}
	if err := k.UnmarshalWithConf("", table, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("decode mount table: %w", err)
	}
	for i, mc := range table.Mounts {
		if strings.TrimSpace(mc.Name) == "" {
			return nil, fmt.Errorf("%w: mount #%d has no name", ErrInvalidArgument, i)
		}
		if mc.Transport == "" {
			table.Mounts[i].Transport = "null"
		}
	}
	return table, nil
}

// LoadMountTable reads a mount table file. The format follows the
// extension.
func LoadMountTable(path string) (*MountTable, error) {
	return loadMountTable(file.Provider(path), ConfigFormat(filepath.Ext(path)))
}

// ParseMountTable decodes an in-memory mount table
func ParseMountTable(data []byte, format ConfigFormat) (*MountTable, error) {
	return loadMountTable(rawbytes.Provider(data), format)
}

// DefaultMountTable returns the built-in osjs, home and apps mounts
func DefaultMountTable() *MountTable {
	table, err := ParseMountTable(defaultMountTable, YAMLConfigFormat)
	if err != nil {
		panic(err)
	}
	return table
}

// mountOptions translates mc into constructor options
func (mc MountConfig) mountOptions() []MountOption {
	var opts []MountOption
	if mc.Title != "" {
		opts = append(opts, WithTitle(mc.Title, mc.Description))
	}
	if mc.Icon != "" {
		opts = append(opts, WithIcon(mc.Icon))
	}
	if mc.Root != "" {
		opts = append(opts, WithRoot(mc.Root))
	}
	if mc.Match != "" {
		opts = append(opts, WithMatch(mc.Match))
	}
	if mc.Alias != "" {
		opts = append(opts, WithAlias(mc.Alias))
	}
	if len(mc.Options) > 0 {
		opts = append(opts, WithExtra(mc.Options))
	}
	if mc.ReadOnly {
		opts = append(opts, AsReadOnly())
	}
	if mc.Internal {
		opts = append(opts, AsInternal())
	}
	if mc.Special {
		opts = append(opts, AsSpecial())
	}
	if mc.Searchable {
		opts = append(opts, AsSearchable())
	}
	if mc.Static {
		opts = append(opts, AsStatic())
	}
	if mc.Visible != nil {
		opts = append(opts, WithVisible(*mc.Visible))
	}
	if mc.Enabled != nil {
		opts = append(opts, WithEnabled(*mc.Enabled))
	}
	return opts
}

// Build creates the mountpoint described by mc. A pollInterval option
// adds change polling for backends without native events.
func (mc MountConfig) Build(ctx context.Context, cfg *Config) (*Mountpoint, error) {
	t, err := CreateTransport(ctx, mc, cfg)
	if err != nil {
		return nil, err
	}
	m, err := NewMountpoint(mc.Name, t, mc.mountOptions()...)
	if err != nil {
		return nil, err
	}
	if m.Transport, err = pollingFor(m.Transport, mc, m.Root); err != nil {
		return nil, fmt.Errorf("mount %s: %w", m.Name, err)
	}
	return m, nil
}
