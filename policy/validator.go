package policy

import (
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/layer-3/garuda/core"
)

// Validator checks capability policy parameters against the JSON schemas
// that drive the policy forms. Schemas are published by the applications;
// garuda only enforces them.
type Validator struct {
	mu      sync.RWMutex
	schemas map[string]*jsonschema.Schema
}

// NewValidator creates an empty validator
func NewValidator() *Validator {
	return &Validator{
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register compiles and stores the schema for a policy id, replacing any
// previous version.
func (v *Validator) Register(policyID string, schemaJSON string) error {
	compiler := jsonschema.NewCompiler()
	url := "policy://" + policyID + ".json"
	if err := compiler.AddResource(url, strings.NewReader(schemaJSON)); err != nil {
		return fmt.Errorf("failed to add schema for policy %s: %w", policyID, err)
	}

	schema, err := compiler.Compile(url)
	if err != nil {
		return fmt.Errorf("failed to compile schema for policy %s: %w", policyID, err)
	}

	v.mu.Lock()
	v.schemas[policyID] = schema
	v.mu.Unlock()
	return nil
}

// Validate checks one selection's parameters against its policy schema.
// A selection referencing an unknown policy fails closed.
func (v *Validator) Validate(sel core.CapabilitySelection) error {
	v.mu.RLock()
	schema, ok := v.schemas[sel.PolicyID]
	v.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: no schema registered for policy %s", core.ErrValidationFailed, sel.PolicyID)
	}

	params := sel.PolicyParams
	if params == nil {
		params = map[string]any{}
	}

	// jsonschema validates decoded JSON values; the params map already is one.
	doc := make(map[string]any, len(params))
	for k, val := range params {
		doc[k] = val
	}

	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: capability %s policy %s: %v",
			core.ErrValidationFailed, sel.CapabilityID, sel.PolicyID, err)
	}
	return nil
}

// ValidateAll checks every selection and reports all failures together so
// the form can mark each invalid section at once. Nothing may be submitted
// when any selection fails.
func (v *Validator) ValidateAll(selections []core.CapabilitySelection) error {
	var failures []string
	for _, sel := range selections {
		if err := v.Validate(sel); err != nil {
			failures = append(failures, err.Error())
		}
	}
	if len(failures) > 0 {
		return fmt.Errorf("%w: %s", core.ErrValidationFailed, strings.Join(failures, "; "))
	}
	return nil
}
