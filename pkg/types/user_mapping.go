package types

import (
	"fmt"
)

// UserMappingType selects how foreign user IDs translate to local ones
type UserMappingType string

const (
	// UserMappingNone passes IDs through unchanged
	UserMappingNone UserMappingType = "noMapping"
	// UserMappingStatic maps every foreign ID to one fixed local ID
	UserMappingStatic UserMappingType = "static"
	// UserMappingDynamic looks IDs up in an explicit table
	UserMappingDynamic UserMappingType = "dynamic"
)

// UserMapping controls how user IDs arriving from other nodes are
// translated into local user IDs. Incoming IDs do not always correspond
// directly to the IDs used by this deployment.
type UserMapping struct {
	Type           UserMappingType   `json:"mappingType"`
	StaticID       string            `json:"staticId,omitempty"`
	DynamicMapping map[string]string `json:"dynamicMapping,omitempty"`
}

// Validate checks the mapping for the fields its type requires.
func (m *UserMapping) Validate() error {
	switch m.Type {
	case UserMappingNone:
		return nil
	case UserMappingStatic:
		if m.StaticID == "" {
			return fmt.Errorf("static ID is required for static mapping")
		}
		return nil
	case UserMappingDynamic:
		if len(m.DynamicMapping) == 0 {
			return fmt.Errorf("dynamic mapping table is required for dynamic mapping")
		}
		return nil
	default:
		return fmt.Errorf("invalid mapping type: %s", m.Type)
	}
}

// Map translates a foreign user ID into the local ID space.
func (m *UserMapping) Map(userID string) (string, error) {
	switch m.Type {
	case UserMappingNone:
		if userID == "" {
			return "", fmt.Errorf("no user ID provided")
		}
		return userID, nil
	case UserMappingStatic:
		return m.StaticID, nil
	case UserMappingDynamic:
		if userID == "" {
			return "", fmt.Errorf("no user ID provided")
		}
		mapped, ok := m.DynamicMapping[userID]
		if !ok {
			return "", fmt.Errorf("user ID not found in mapping: %s", userID)
		}
		return mapped, nil
	default:
		return "", fmt.Errorf("invalid mapping type: %s", m.Type)
	}
}
