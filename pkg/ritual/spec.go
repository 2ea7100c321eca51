// Package ritual implements the ritual engine: loading a ritual
// document and executing its states through the capsule router,
// emitting lifecycle events as it goes.
package ritual

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/demon-run/ritual-control/internal/errkit"
	"github.com/demon-run/ritual-control/pkg/envelope"
)

// Action is a task state's capsule invocation: a capability name plus
// a free-form argument document. An argument keyed "fromPrevious" is
// treated specially — see resolveArguments in engine.go.
type Action struct {
	Capsule   string         `yaml:"capsule"`
	Arguments map[string]any `yaml:"arguments"`
}

// State is one named step of a ritual. Type "task" is the only kind
// the core executes; Terminal marks the ritual's final state.
type State struct {
	Name     string  `yaml:"name"`
	Type     string  `yaml:"type"`
	Action   *Action `yaml:"action"`
	Terminal bool    `yaml:"terminal"`
}

// Spec is an immutable, parsed ritual document.
type Spec struct {
	ID      string  `yaml:"id"`
	Version string  `yaml:"version"`
	States  []State `yaml:"states"`
}

// Load reads and parses a ritual spec file, returning a non-fatal
// warning diagnostic when the last state is not marked terminal (spec
// §4.7: treated as if it carried terminal=true). A spec with zero
// states is rejected outright.
func Load(path string) (Spec, []envelope.Diagnostic, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Spec{}, nil, errkit.Wrap(errkit.Config, fmt.Errorf("ritual: reading spec %s: %w", path, err))
	}

	var spec Spec
	if err := yaml.Unmarshal(raw, &spec); err != nil {
		return Spec{}, nil, errkit.Wrap(errkit.Config, fmt.Errorf("ritual: parsing spec %s: %w", path, err))
	}

	if err := validate(spec); err != nil {
		return Spec{}, nil, err
	}

	var diagnostics []envelope.Diagnostic
	if len(spec.States) > 0 && !spec.States[len(spec.States)-1].Terminal {
		spec.States[len(spec.States)-1].Terminal = true
		diagnostics = append(diagnostics, envelope.Diagnostic{
			Severity: envelope.SeverityWarning,
			Message:  fmt.Sprintf("ritual %s: last state %q was not marked terminal; treating it as the end of the ritual", spec.ID, spec.States[len(spec.States)-1].Name),
		})
	}

	return spec, diagnostics, nil
}

func validate(spec Spec) error {
	if spec.ID == "" {
		return errkit.Newf(errkit.Config, "ritual: spec is missing an id")
	}
	if len(spec.States) == 0 {
		return errkit.Newf(errkit.Config, "ritual %s: spec has zero states", spec.ID)
	}

	seen := make(map[string]bool, len(spec.States))
	for _, s := range spec.States {
		if s.Name == "" {
			return errkit.Newf(errkit.Config, "ritual %s: a state is missing a name", spec.ID)
		}
		if seen[s.Name] {
			return errkit.Newf(errkit.Config, "ritual %s: duplicate state name %q", spec.ID, s.Name)
		}
		seen[s.Name] = true

		switch s.Type {
		case "task":
			if s.Action == nil || s.Action.Capsule == "" {
				return errkit.Newf(errkit.Config, "ritual %s: task state %q is missing an action.capsule", spec.ID, s.Name)
			}
		default:
			return errkit.Newf(errkit.Config, "ritual %s: state %q has unsupported type %q", spec.ID, s.Name, s.Type)
		}
	}
	return nil
}
