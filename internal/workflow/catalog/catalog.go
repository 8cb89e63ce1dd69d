// Package catalog registers the static workflow definitions (spec C3,
// §9's "typed static workflow registry") at process start-up. The four
// workflows and their step graphs are grounded directly on
// original_source's gobworkflow/workflow/config.py WORKFLOWS dict: names,
// step order and publish keys are carried over unchanged, expressed as
// Go StepAction/EdgeDef values instead of Python lambda closures.
package catalog

import "github.com/gobflow/workflow-manager/internal/workflow"

const (
	UpdateModel = "update_model"
	Import      = "import"
	Export      = "export"
	Relate      = "relate"
)

const (
	importPrepare   = "prepare"
	importRead      = "read"
	importWorkflows = "import_workflows"
	importCompare   = "compare"
	importUpload    = "upload"
	applyEvents     = "apply events"

	exportGenerate = "generate"
	exportTest     = "test"

	relateUpdate = "relate"
	relateCheck  = "check"
)

// Register adds every statically known workflow to reg. Re-running it
// against an already-populated registry is an error (Registry.Register's
// duplicate-name guard), so callers invoke it exactly once at start-up,
// before any WorkflowRegistryFile extension is loaded.
func Register(reg *workflow.Registry) error {
	for name, def := range defs() {
		if err := reg.Register(name, def); err != nil {
			return err
		}
	}
	return nil
}

func defs() map[string]workflow.WorkflowDef {
	return map[string]workflow.WorkflowDef{
		// update_model is a single-step workflow: apply pending events to
		// the model and stop.
		UpdateModel: {
			Start: UpdateModel,
			Steps: map[string]workflow.StepDef{
				UpdateModel: {
					Action: workflow.Publish(workflow.Exchange, "apply.request"),
				},
			},
		},

		// import reads, applies, compares and uploads a catalogue
		// collection, then replays any events the upload produced. Every
		// edge defaults to the has_no_errors condition, same as the
		// original.
		Import: {
			Start: importRead,
			Steps: map[string]workflow.StepDef{
				importPrepare: {
					Action: workflow.Publish(workflow.Exchange, "prepare.request"),
					Next:   []workflow.EdgeDef{{Step: importWorkflows}},
				},
				// import_workflows fans the prepared contents out as N
				// dynamic sub-workflows starting at import_read (spec
				// §4.3 StartMany / the original's start_workflows).
				importWorkflows: {
					Action: workflow.StartMany(importRead),
				},
				importRead: {
					Action: workflow.Publish(workflow.Exchange, "import.request"),
					Next:   []workflow.EdgeDef{{Step: UpdateModel}},
				},
				UpdateModel: {
					Action: workflow.Publish(workflow.Exchange, "apply.request"),
					Next:   []workflow.EdgeDef{{Step: importCompare}},
				},
				importCompare: {
					Action: workflow.Publish(workflow.Exchange, "compare.request"),
					Next:   []workflow.EdgeDef{{Step: importUpload}},
				},
				importUpload: {
					Action: workflow.Publish(workflow.Exchange, "fullupdate.request"),
					Next:   []workflow.EdgeDef{{Step: applyEvents}},
				},
				applyEvents: {
					Action: workflow.Publish(workflow.Exchange, "apply.request"),
				},
			},
		},

		// export generates an export file and, independently, can run its
		// test step (no edge between them in the original: export_test is
		// reached only as a dynamic_steps entry, never from generate).
		Export: {
			Start: exportGenerate,
			Steps: map[string]workflow.StepDef{
				exportGenerate: {
					Action: workflow.Publish(workflow.Exchange, "export.request"),
				},
				exportTest: {
					Action: workflow.Publish(workflow.Exchange, "export_test.request"),
				},
			},
		},

		// relate always proceeds from relate to check (the original pins
		// this edge's condition to always_true, not has_no_errors, so a
		// failed relate step still triggers the consistency check).
		Relate: {
			Start: relateUpdate,
			Steps: map[string]workflow.StepDef{
				relateUpdate: {
					Action: workflow.Publish(workflow.Exchange, "relate.request"),
					Next:   []workflow.EdgeDef{{Step: relateCheck, Condition: workflow.AlwaysTrue}},
				},
				relateCheck: {
					Action: workflow.Publish(workflow.Exchange, "check_relation.request"),
				},
			},
		},
	}
}
