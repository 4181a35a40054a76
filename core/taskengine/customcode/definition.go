package customcode

import (
	"fmt"
)

type Kind string

const (
	KindScript        Kind = "script"
	KindJSONTransform Kind = "jsonTransform"
	KindTemplate      Kind = "template"
	KindCondition     Kind = "condition"
)

// OutputDecl declares one output of a logic block. A nil Default means no
// default.
type OutputDecl struct {
	Name     string `json:"name" mapstructure:"name" validate:"required"`
	Type     string `json:"type,omitempty" mapstructure:"type"`
	Required bool   `json:"required,omitempty" mapstructure:"required"`
	Default  any    `json:"default,omitempty" mapstructure:"default"`
}

// Definition is a user authored logic block
type Definition struct {
	Kind Kind `json:"kind" mapstructure:"kind" validate:"required,oneof=script jsonTransform template condition"`

	// script body, or the expression for condition
	Code string `json:"code,omitempty" mapstructure:"code"`
	// template tree for jsonTransform, a string for template
	Template any `json:"template,omitempty" mapstructure:"template"`

	Outputs []OutputDecl `json:"outputs,omitempty" mapstructure:"outputs" validate:"dive"`
}

func (d *Definition) Validate() error {
	switch d.Kind {
	case KindScript, KindCondition:
		if d.Code == "" {
			return fmt.Errorf("%s logic requires code", d.Kind)
		}
	case KindJSONTransform:
		if d.Template == nil {
			return fmt.Errorf("jsonTransform logic requires a template")
		}
	case KindTemplate:
		if _, ok := d.Template.(string); !ok {
			return fmt.Errorf("template logic requires a string template")
		}
	default:
		return fmt.Errorf("unknown logic kind %q", d.Kind)
	}

	seen := map[string]bool{}
	for _, o := range d.Outputs {
		if o.Name == "" {
			return fmt.Errorf("output name cannot be empty")
		}
		if seen[o.Name] {
			return fmt.Errorf("output %s is declared twice", o.Name)
		}
		seen[o.Name] = true
	}
	return nil
}

// MissingRequiredOutputError is returned when a required output was not
// produced and has no default.
type MissingRequiredOutputError struct {
	Output string
}

func (e *MissingRequiredOutputError) Error() string {
	return fmt.Sprintf("missing required output: %s", e.Output)
}

// ScriptError wraps an exception or interrupt raised by user code
type ScriptError struct {
	Message string
	Timeout bool
}

func (e *ScriptError) Error() string {
	if e.Timeout {
		return "script timed out: " + e.Message
	}
	return "script error: " + e.Message
}
