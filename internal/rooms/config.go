package rooms

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultDeleteTimeoutMS = 300000

// GroupDef declares one reconciled category: where rooms live, which lobby
// channels trigger provisioning, and how long an empty room survives.
type GroupDef struct {
	CommunityID     string   `json:"communityId" yaml:"communityId"`
	CategoryID      string   `json:"categoryId" yaml:"categoryId"`
	TriggerIDs      []string `json:"triggerIds" yaml:"triggerIds"`
	DeleteTimeoutMS int64    `json:"deleteTimeoutMs" yaml:"deleteTimeoutMs"`
	MultiRoom       bool     `json:"multiRoom" yaml:"multiRoom"`
	Ignore          []string `json:"ignore,omitempty" yaml:"ignore,omitempty"`
}

// DeleteTimeout returns the idle timeout as a duration, applying the default
// when unset.
func (d GroupDef) DeleteTimeout() time.Duration {
	if d.DeleteTimeoutMS <= 0 {
		return defaultDeleteTimeoutMS * time.Millisecond
	}
	return time.Duration(d.DeleteTimeoutMS) * time.Millisecond
}

// Validate checks the definition for the fields reconciliation cannot run
// without.
func (d GroupDef) Validate() error {
	if strings.TrimSpace(d.CommunityID) == "" {
		return fmt.Errorf("group definition is missing communityId")
	}
	if strings.TrimSpace(d.CategoryID) == "" {
		return fmt.Errorf("group definition is missing categoryId")
	}
	if len(d.TriggerIDs) == 0 {
		return fmt.Errorf("group definition for category %s has no trigger channels", d.CategoryID)
	}
	return nil
}

// LoadGroupDefs parses group definitions from an inline JSON array or, when
// source names a file, from a JSON or YAML document on disk.
func LoadGroupDefs(source string) ([]GroupDef, error) {
	trimmed := strings.TrimSpace(source)
	if trimmed == "" {
		return nil, fmt.Errorf("group definitions are required")
	}

	var payload []byte
	var fromYAML bool
	if strings.HasPrefix(trimmed, "[") {
		payload = []byte(trimmed)
	} else {
		data, err := os.ReadFile(trimmed)
		if err != nil {
			return nil, fmt.Errorf("read group definitions: %w", err)
		}
		payload = data
		switch strings.ToLower(filepath.Ext(trimmed)) {
		case ".yaml", ".yml":
			fromYAML = true
		}
	}

	var defs []GroupDef
	if fromYAML {
		if err := yaml.Unmarshal(payload, &defs); err != nil {
			return nil, fmt.Errorf("parse group definitions: %w", err)
		}
	} else {
		if err := json.Unmarshal(payload, &defs); err != nil {
			return nil, fmt.Errorf("parse group definitions: %w", err)
		}
	}
	if len(defs) == 0 {
		return nil, fmt.Errorf("no group definitions found")
	}
	for _, def := range defs {
		if err := def.Validate(); err != nil {
			return nil, err
		}
	}
	return defs, nil
}
