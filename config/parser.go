package config

import (
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/saiset-co/giro-sync/types"
)

// Manager holds the loaded configuration and answers dotted-path lookups
// such as "persistence.config.path".
type Manager struct {
	config *types.ServiceConfig
	data   map[string]interface{}
}

func NewManager(configPath string) (*Manager, error) {
	config, err := NewLoader().LoadFromFile(configPath)
	if err != nil {
		return nil, types.WrapError(err, "failed to load configuration")
	}
	return NewFromConfig(config), nil
}

func NewFromConfig(config *types.ServiceConfig) *Manager {
	m := &Manager{
		config: config,
		data:   make(map[string]interface{}),
	}

	raw, err := yaml.Marshal(config)
	if err != nil {
		return m
	}
	if err = yaml.Unmarshal(raw, &m.data); err != nil {
		m.data = make(map[string]interface{})
	}

	return m
}

func (m *Manager) GetConfig() *types.ServiceConfig {
	return m.config
}

func (m *Manager) GetValue(path string, defaultValue interface{}) interface{} {
	value := m.navigateToPath(path)
	if value == nil {
		return defaultValue
	}
	return value
}

func (m *Manager) GetAs(path string, target interface{}) error {
	value := m.navigateToPath(path)
	if value == nil {
		return types.Errorf(types.ErrConfigNotFound, "path: %s", path)
	}

	raw, err := yaml.Marshal(value)
	if err != nil {
		return types.WrapError(err, "failed to marshal config value")
	}
	if err = yaml.Unmarshal(raw, target); err != nil {
		return types.WrapError(err, "failed to unmarshal config value")
	}

	return nil
}

func (m *Manager) navigateToPath(path string) interface{} {
	if path == "" {
		return m.data
	}

	var current interface{} = m.data
	for _, part := range strings.Split(path, ".") {
		switch v := current.(type) {
		case map[string]interface{}:
			current = v[part]
		case map[interface{}]interface{}:
			current = v[part]
		default:
			return nil
		}

		if current == nil {
			return nil
		}
	}

	return current
}
