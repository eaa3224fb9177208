package message

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/Firefox2100/dedi-gateway/pkg/errdefs"
)

// Config describes one catalog-defined message type. IDs are
// fully-qualified: basePackage + "." + local id.
type Config struct {
	BasePackage string
	ID          string
	Response    string
	Preceding   string
	Async       bool
	Destination string
}

type catalogFile struct {
	BasePackage string `json:"basePackage"`
	Messages    []struct {
		ID         string `json:"id"`
		Response   string `json:"response"`
		Precedence string `json:"precedence"`
		Async      bool   `json:"async"`
	} `json:"messages"`
}

type proxyRule struct {
	MessageID   string `yaml:"messageId"`
	Destination string `yaml:"destination"`
}

// Registry resolves custom message types to their catalog
// configuration. Catalogs are JSON packages; local proxy destinations
// are overlaid from a YAML file by ID prefix.
type Registry struct {
	mu       sync.RWMutex
	packages map[string]bool
	configs  map[string]*Config
}

func NewRegistry() *Registry {
	return &Registry{
		packages: make(map[string]bool),
		configs:  make(map[string]*Config),
	}
}

// LoadPackage reads one catalog file. Loading the same base package
// twice is an error.
func (r *Registry) LoadPackage(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return errdefs.MessageConfigNotFound(fmt.Sprintf("catalog file not found: %s", path))
		}
		return errdefs.Wrap(errdefs.MessageConfigParsing(fmt.Sprintf("reading catalog file: %s", path)), err)
	}

	var catalog catalogFile
	if err := json.Unmarshal(raw, &catalog); err != nil {
		return errdefs.Wrap(errdefs.MessageConfigParsing(fmt.Sprintf("decoding catalog file: %s", path)), err)
	}
	if catalog.BasePackage == "" {
		return errdefs.MessageConfigParsing(fmt.Sprintf("catalog file missing basePackage: %s", path))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.packages[catalog.BasePackage] {
		return errdefs.MessageConfigParsing(fmt.Sprintf("package already loaded: %s", catalog.BasePackage))
	}
	r.packages[catalog.BasePackage] = true

	for _, m := range catalog.Messages {
		cfg := &Config{
			BasePackage: catalog.BasePackage,
			ID:          catalog.BasePackage + "." + m.ID,
			Async:       m.Async,
		}
		if m.Response != "" {
			cfg.Response = catalog.BasePackage + "." + m.Response
		}
		if m.Precedence != "" {
			cfg.Preceding = catalog.BasePackage + "." + m.Precedence
		}
		r.configs[cfg.ID] = cfg
	}

	return nil
}

// LoadDir loads every .json catalog in a directory.
func (r *Registry) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return errdefs.MessageConfigNotFound(fmt.Sprintf("catalog directory not found: %s", dir))
		}
		return errdefs.Wrap(errdefs.MessageConfigParsing(fmt.Sprintf("reading catalog directory: %s", dir)), err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		if err := r.LoadPackage(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}

	return nil
}

// ApplyProxyOverlay sets local forwarding destinations. Each rule
// applies to every loaded config whose fully-qualified ID starts with
// the rule's messageId.
func (r *Registry) ApplyProxyOverlay(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return errdefs.MessageConfigNotFound(fmt.Sprintf("proxy overlay not found: %s", path))
		}
		return errdefs.Wrap(errdefs.MessageConfigParsing(fmt.Sprintf("reading proxy overlay: %s", path)), err)
	}

	var rules []proxyRule
	if err := yaml.Unmarshal(raw, &rules); err != nil {
		return errdefs.Wrap(errdefs.MessageConfigParsing(fmt.Sprintf("decoding proxy overlay: %s", path)), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rule := range rules {
		for id, cfg := range r.configs {
			if strings.HasPrefix(id, rule.MessageID) {
				cfg.Destination = rule.Destination
			}
		}
	}

	return nil
}

// Get returns the configuration for a fully-qualified message type ID.
func (r *Registry) Get(id string) (*Config, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cfg, ok := r.configs[id]
	if !ok {
		return nil, errdefs.MessageConfigNotFound(fmt.Sprintf("message configuration not found: %s", id))
	}

	c := *cfg
	return &c, nil
}
