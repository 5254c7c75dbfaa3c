// Script, ordered input declarations and policy bindings.
package models

import "time"

// Input value types accepted by script parameters.
const (
	InputTypeString  = "STRING"
	InputTypeInt     = "INT"
	InputTypeDate    = "DATE"
	InputTypeFile    = "FILE"
	InputTypeBoolean = "BOOLEAN"
)

// Script is an executable payload that can be run against the PCs of a Site.
// A Script with a nil SiteID is global and visible to every site.
//
// Database Table: scripts
// Related: Input (ordered, one-to-many), AssociatedScript (policy bindings)
type Script struct {
	ID               int       `db:"id"`
	UID              *string   `db:"uid"`     // Set only for built-in pseudo-scripts (wake plan)
	SiteID           *int      `db:"site_id"` // nil for global scripts
	Name             string    `db:"name"`
	Description      string    `db:"description"`
	ExecutableCode   string    `db:"executable_code"` // Payload path/handle; blobs live on disk
	IsSecurityScript bool      `db:"is_security_script"`
	IsHidden         bool      `db:"is_hidden"`
	MaintainedByUs   bool      `db:"maintained_by_us"` // Vendor-maintained flag
	CreatedAt        time.Time `db:"created_at"`
}

// Input declares one ordered parameter of a Script. Position is unique per
// script and contiguous from 0.
//
// Database Table: script_inputs
type Input struct {
	ID        int    `db:"id"`
	ScriptID  int    `db:"script_id"`
	Position  int    `db:"position"`
	Name      string `db:"name"`
	ValueType string `db:"value_type"`
	Mandatory bool   `db:"mandatory"`
}

// AssociatedScript binds a Script into a PCGroup's policy at a position.
// Position is unique per group; removing a slot renumbers the survivors
// contiguously from 0 in their current order.
//
// Database Table: associated_scripts
// Related: AssociatedScriptParameter (pre-filled input values)
type AssociatedScript struct {
	ID       int `db:"id"`
	GroupID  int `db:"group_id"`
	ScriptID int `db:"script_id"`
	Position int `db:"position"`
}

// AssociatedScriptParameter is a pre-filled Input value stored on a policy
// slot, used whenever that slot's script runs on a group member.
//
// Database Table: associated_script_parameters
type AssociatedScriptParameter struct {
	ID                 int    `db:"id"`
	AssociatedScriptID int    `db:"associated_script_id"`
	InputID            int    `db:"input_id"`
	Value              string `db:"value"`
}

// ValidateInputValues checks positional values against the script's ordered
// input declarations. A mandatory input with no value (missing or empty) is
// a ValidationError naming the input; extra values beyond the declared
// inputs are also rejected.
func ValidateInputValues(inputs []Input, values []string) error {
	if len(values) > len(inputs) {
		return Invalid("arguments", "more values than declared inputs")
	}
	for i, in := range inputs {
		if !in.Mandatory {
			continue
		}
		if i >= len(values) || values[i] == "" {
			return Invalid(in.Name, "mandatory parameter missing")
		}
	}
	return nil
}
