package workflow

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Registry is the typed static workflow registry (spec §9: "Global
// workflow config dict ... typed static registry"), concurrency-safe for
// lookups from many dispatch-loop goroutines, grounded on the teacher's
// jobs/runtime.Registry RWMutex map pattern.
type Registry struct {
	mu  sync.RWMutex
	defs map[string]WorkflowDef
}

func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]WorkflowDef)}
}

// Register adds a workflow definition. Re-registering the same name is a
// startup wiring error, same policy as the teacher's handler registry.
func (r *Registry) Register(name string, def WorkflowDef) error {
	if name == "" {
		return fmt.Errorf("workflow name is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[name]; exists {
		return fmt.Errorf("workflow already registered: %s", name)
	}
	r.defs[name] = def
	return nil
}

func (r *Registry) Get(name string) (WorkflowDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[name]
	return d, ok
}

// Snapshot returns a copy of the full registry map, suitable for passing to
// Build (which needs random access across all workflows for grafting).
func (r *Registry) Snapshot() map[string]WorkflowDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]WorkflowDef, len(r.defs))
	for k, v := range r.defs {
		out[k] = v
	}
	return out
}

// yamlStepDef/yamlWorkflowDef mirror StepDef/WorkflowDef in a
// yaml-decodable shape: actions and conditions can only reference the
// Noop/Publish action kinds and the NoErrors/AlwaysTrue conditions from
// file, since arbitrary Go closures cannot be expressed in YAML. Predicate
// conditions and Start/StartMany actions must be registered in code.
type yamlEdgeDef struct {
	Step      string `yaml:"step"`
	Workflow  string `yaml:"workflow"`
	Condition string `yaml:"condition"` // "always_true" | "no_errors" (default)
}

type yamlStepDef struct {
	PublishExchange string        `yaml:"publish_exchange"`
	PublishKey      string        `yaml:"publish_key"`
	Next            []yamlEdgeDef `yaml:"next"`
}

type yamlWorkflowDef struct {
	Start string                 `yaml:"start"`
	Steps map[string]yamlStepDef `yaml:"steps"`
}

type yamlFile struct {
	Workflows map[string]yamlWorkflowDef `yaml:"workflows"`
}

// LoadFile extends the registry with workflow definitions from a YAML
// file (config.Config.WorkflowRegistryFile), grounded on the teacher's use
// of yaml.v3 for config-shaped data (spec §11).
func (r *Registry) LoadFile(path string) error {
	if path == "" {
		return nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read workflow registry file: %w", err)
	}
	var f yamlFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("parse workflow registry file: %w", err)
	}
	for name, wd := range f.Workflows {
		def := WorkflowDef{Start: wd.Start, Steps: make(map[string]StepDef, len(wd.Steps))}
		for stepName, sd := range wd.Steps {
			action := Noop()
			if sd.PublishExchange != "" {
				action = Publish(sd.PublishExchange, sd.PublishKey)
			}
			var next []EdgeDef
			for _, e := range sd.Next {
				cond := NoErrors
				if e.Condition == "always_true" {
					cond = AlwaysTrue
				}
				next = append(next, EdgeDef{Step: e.Step, Workflow: e.Workflow, Condition: cond})
			}
			def.Steps[stepName] = StepDef{Action: action, Next: next}
		}
		if err := r.Register(name, def); err != nil {
			return err
		}
	}
	return nil
}
