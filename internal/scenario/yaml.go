package scenario

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// yamlScenario is the on-disk YAML scenario document:
//
//	name: four players
//	clients: [alice, bob]
//	steps:
//	  - name: alice opens a room
//	    action: {kind: create_room, client: alice, room: main}
//	    validations:
//	      - {kind: room_exists, room: main}
type yamlScenario struct {
	Name    string     `yaml:"name"`
	Clients []string   `yaml:"clients"`
	Steps   []yamlStep `yaml:"steps"`
}

type yamlStep struct {
	Name        string           `yaml:"name"`
	Description string           `yaml:"description"`
	Action      map[string]any   `yaml:"action"`
	Validations []map[string]any `yaml:"validations"`
}

// LoadYAMLFile parses a YAML scenario document and builds the plan.
func LoadYAMLFile(path string) (*Plan, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}

	var doc yamlScenario
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("parse scenario yaml: %w", err)
	}

	specs := make([]stepSpec, 0, len(doc.Steps))
	for _, step := range doc.Steps {
		specs = append(specs, stepSpec{
			Name:        step.Name,
			Description: step.Description,
			Action:      step.Action,
			Validations: step.Validations,
		})
	}
	return buildPlan(doc.Name, doc.Clients, specs)
}
