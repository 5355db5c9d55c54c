package confloader

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultEnvPrefix prefixes every environment variable the loader reads.
const DefaultEnvPrefix = "LEDGERSNAP_"

// EnvSectionSeparator separates nesting levels in environment variable
// names. Single underscores stay part of the key.
const EnvSectionSeparator = "__"

// Loader reads a configuration file, the environment and explicit overrides
// into a koanf-tagged struct. It holds no parsed state, so Load may be
// called again to pick up a changed file.
type Loader struct {
	envPrefix string
	filePath  string
	overrides map[string]any
}

// Option configures a Loader.
type Option func(*Loader)

// WithEnvPrefix replaces DefaultEnvPrefix.
func WithEnvPrefix(prefix string) Option {
	return func(l *Loader) { l.envPrefix = prefix }
}

// WithConfigFile adds a YAML file source. An empty path means no file.
func WithConfigFile(path string) Option {
	return func(l *Loader) { l.filePath = path }
}

// WithOverrides sets dotted keys that win over the file and the
// environment, typically from command-line flags. Empty string values are
// skipped so unset flags do not clear configured values.
func WithOverrides(values map[string]any) Option {
	return func(l *Loader) {
		if l.overrides == nil {
			l.overrides = make(map[string]any, len(values))
		}
		for k, v := range values {
			if s, ok := v.(string); ok && s == "" {
				continue
			}
			l.overrides[k] = v
		}
	}
}

func NewLoader(opts ...Option) *Loader {
	l := &Loader{envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// FilePath returns the configured file, or "".
func (l *Loader) FilePath() string { return l.filePath }

// Load merges file, environment and overrides, in rising priority, into
// target. Keys no source sets keep the value already in target, so callers
// pass a struct filled with defaults.
func (l *Loader) Load(target any) error {
	k, err := l.read()
	if err != nil {
		return err
	}
	if err := k.Unmarshal("", target); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	return nil
}

func (l *Loader) read() (*koanf.Koanf, error) {
	k := koanf.New(".")
	if l.filePath != "" {
		if err := k.Load(file.Provider(l.filePath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", l.filePath, err)
		}
	}
	prefix := l.envPrefix
	if err := k.Load(env.Provider(prefix, ".", func(name string) string {
		return EnvKey(prefix, name)
	}), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}
	if len(l.overrides) > 0 {
		if err := k.Load(overrideProvider(l.overrides), nil); err != nil {
			return nil, fmt.Errorf("load overrides: %w", err)
		}
	}
	return k, nil
}

// EnvKey maps an environment variable name to a configuration key:
// LEDGERSNAP_SNAPSHOT__FULL_SNAPSHOT_INTERVAL is
// snapshot.full_snapshot_interval.
func EnvKey(prefix, name string) string {
	name = strings.ToLower(strings.TrimPrefix(name, prefix))
	return strings.ReplaceAll(name, EnvSectionSeparator, ".")
}
