package validators

import (
	"context"
	"fmt"

	"github.com/dshills/lens/internal/oracle"
)

// Input is what a validator sees of one code unit.
type Input struct {
	Path     string
	Body     string
	Changed  string
	Context  string
	FullText string
}

// Validator is an independent check producing a Finding for one code unit.
// An error means the check did not complete; the caller records it.
type Validator interface {
	Name() string
	Check(ctx context.Context, in Input) (Finding, error)
}

// PromptValidator runs a Definition through the Oracle.
type PromptValidator struct {
	def    Definition
	oracle oracle.Oracle
}

// NewPromptValidator returns a Validator for def.
func NewPromptValidator(def Definition, o oracle.Oracle) *PromptValidator {
	return &PromptValidator{def: def, oracle: o}
}

func (v *PromptValidator) Name() string { return v.def.Name }

// Definition returns the validator's definition.
func (v *PromptValidator) Definition() Definition { return v.def }

func (v *PromptValidator) Check(ctx context.Context, in Input) (Finding, error) {
	text, err := v.oracle.RunCheck(ctx, oracle.CheckInput{
		Validator:    v.def.Name,
		Instructions: v.def.Prompt(),
		Path:         in.Path,
		Body:         in.Body,
		Changed:      in.Changed,
		Context:      in.Context,
		FullText:     in.FullText,
	})
	if err != nil {
		return Finding{}, fmt.Errorf("validator %s: %w", v.def.Name, err)
	}
	return FromText(v.def.Name, text), nil
}

// Func adapts a function to the Validator interface.
type Func struct {
	ValidatorName string
	Fn            func(ctx context.Context, in Input) (Finding, error)
}

func (f Func) Name() string { return f.ValidatorName }

func (f Func) Check(ctx context.Context, in Input) (Finding, error) { return f.Fn(ctx, in) }
