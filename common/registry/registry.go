// Package registry is the typed directory of callable agents. Reads
// vastly outnumber writes, so the registry is guarded by a
// readers-writer lock. Descriptor updates are JSON merge patches; the
// reference is immutable across updates.
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/paidflow/orchestrator/common/models"
)

// ErrNotFound is returned when a reference is absent from the registry.
var ErrNotFound = errors.New("agent not found")

// ErrDuplicateRef is returned when creating an agent whose reference is
// already taken.
var ErrDuplicateRef = errors.New("agent reference already exists")

// Logger is the narrow logging interface the registry uses.
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Registry holds agent descriptors keyed by their stable reference.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*models.AgentDescriptor
	// compiled input schemas, keyed by ref; rebuilt on every update
	inputSchemas map[string]*jsonschema.Schema
	logger       Logger
}

// New creates an empty registry.
func New(logger Logger) *Registry {
	return &Registry{
		agents:       make(map[string]*models.AgentDescriptor),
		inputSchemas: make(map[string]*jsonschema.Schema),
		logger:       logger,
	}
}

// Create inserts a descriptor in draft status. The reference must be
// unique and the declared schemas must compile.
func (r *Registry) Create(desc *models.AgentDescriptor) (*models.AgentDescriptor, error) {
	if desc.Ref == "" {
		return nil, fmt.Errorf("agent reference is required")
	}
	if desc.Name == "" {
		return nil, fmt.Errorf("agent %s: name is required", desc.Ref)
	}
	if !models.ValidCategory(desc.Category) {
		return nil, fmt.Errorf("agent %s: unknown category %q", desc.Ref, desc.Category)
	}

	inputSchema, err := compileSchema(desc.Ref, desc.InputSchema)
	if err != nil {
		return nil, fmt.Errorf("agent %s: input schema: %w", desc.Ref, err)
	}
	if _, err := compileSchema(desc.Ref, desc.OutputSchema); err != nil {
		return nil, fmt.Errorf("agent %s: output schema: %w", desc.Ref, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[desc.Ref]; exists {
		return nil, fmt.Errorf("%s: %w", desc.Ref, ErrDuplicateRef)
	}

	now := time.Now().UTC()
	// Deep copies on store and return keep caller-held slices and
	// schemas from aliasing registry state.
	stored := desc.Clone()
	stored.Status = models.AgentDraft
	stored.CreatedAt = now
	stored.UpdatedAt = now
	r.agents[desc.Ref] = stored
	if inputSchema != nil {
		r.inputSchemas[desc.Ref] = inputSchema
	}

	if r.logger != nil {
		r.logger.Info("agent registered", "ref", desc.Ref, "category", desc.Category)
	}
	return stored.Clone(), nil
}

// Get returns the descriptor for a reference.
func (r *Registry) Get(ref string) (*models.AgentDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	desc, ok := r.agents[ref]
	if !ok {
		return nil, fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	return desc.Clone(), nil
}

// List returns descriptors passing the filters, ordered by reference.
func (r *Registry) List(filters models.AgentFilters) []*models.AgentDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.AgentDescriptor
	for _, desc := range r.agents {
		if filters.Matches(desc) {
			out = append(out, desc.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref < out[j].Ref })
	return out
}

// Update applies a JSON merge patch to the descriptor. The reference
// is immutable; publish-time invariants re-run when the patch moves the
// agent into published status.
func (r *Registry) Update(ref string, patch map[string]interface{}) (*models.AgentDescriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.agents[ref]
	if !ok {
		return nil, fmt.Errorf("%s: %w", ref, ErrNotFound)
	}

	origJSON, err := json.Marshal(current)
	if err != nil {
		return nil, fmt.Errorf("marshal descriptor: %w", err)
	}
	patchJSON, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("marshal patch: %w", err)
	}
	mergedJSON, err := jsonpatch.MergePatch(origJSON, patchJSON)
	if err != nil {
		return nil, fmt.Errorf("apply merge patch: %w", err)
	}

	var merged models.AgentDescriptor
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return nil, fmt.Errorf("unmarshal merged descriptor: %w", err)
	}

	// The reference and creation timestamp never change.
	merged.Ref = current.Ref
	merged.CreatedAt = current.CreatedAt
	merged.UpdatedAt = time.Now().UTC()

	if merged.Status != current.Status && !current.Status.CanTransition(merged.Status) {
		return nil, fmt.Errorf("agent %s: illegal status transition %s -> %s", ref, current.Status, merged.Status)
	}
	if merged.Status == models.AgentPublished {
		if err := merged.ValidateForPublish(); err != nil {
			return nil, err
		}
	}
	if !models.ValidCategory(merged.Category) {
		return nil, fmt.Errorf("agent %s: unknown category %q", ref, merged.Category)
	}

	inputSchema, err := compileSchema(ref, merged.InputSchema)
	if err != nil {
		return nil, fmt.Errorf("agent %s: input schema: %w", ref, err)
	}

	r.agents[ref] = &merged
	if inputSchema != nil {
		r.inputSchemas[ref] = inputSchema
	} else {
		delete(r.inputSchemas, ref)
	}

	return merged.Clone(), nil
}

// Publish transitions an agent into published status, enforcing the
// publish-time invariants.
func (r *Registry) Publish(ref string) (*models.AgentDescriptor, error) {
	return r.transition(ref, models.AgentPublished, true)
}

// Deprecate transitions a published agent into deprecated status.
func (r *Registry) Deprecate(ref string) (*models.AgentDescriptor, error) {
	return r.transition(ref, models.AgentDeprecated, false)
}

// Suspend transitions an agent into suspended status from any state.
func (r *Registry) Suspend(ref string) (*models.AgentDescriptor, error) {
	return r.transition(ref, models.AgentSuspended, false)
}

// Delete removes a descriptor. Permitted only while in draft.
func (r *Registry) Delete(ref string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	desc, ok := r.agents[ref]
	if !ok {
		return fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	if desc.Status != models.AgentDraft {
		return fmt.Errorf("agent %s: only draft agents can be deleted (status %s)", ref, desc.Status)
	}
	delete(r.agents, ref)
	delete(r.inputSchemas, ref)
	return nil
}

// ValidateInput checks a resolved input mapping against the agent's
// declared input schema. Agents without a schema accept anything.
func (r *Registry) ValidateInput(ref string, inputs map[string]interface{}) error {
	r.mu.RLock()
	schema, ok := r.inputSchemas[ref]
	r.mu.RUnlock()

	if !ok {
		return nil
	}
	// Round-trip through JSON so numeric kinds match what the schema
	// validator expects.
	raw, err := json.Marshal(inputs)
	if err != nil {
		return err
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return err
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("agent %s: input rejected by schema: %w", ref, err)
	}
	return nil
}

func (r *Registry) transition(ref string, next models.AgentStatus, enforcePublish bool) (*models.AgentDescriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	desc, ok := r.agents[ref]
	if !ok {
		return nil, fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	if !desc.Status.CanTransition(next) {
		return nil, fmt.Errorf("agent %s: illegal status transition %s -> %s", ref, desc.Status, next)
	}
	if enforcePublish {
		if err := desc.ValidateForPublish(); err != nil {
			return nil, err
		}
	}

	desc.Status = next
	desc.UpdatedAt = time.Now().UTC()

	if r.logger != nil {
		r.logger.Info("agent status changed", "ref", ref, "status", next)
	}
	return desc.Clone(), nil
}

// compileSchema compiles the declared subset schema so malformed
// schemas are rejected at registration rather than at call time.
func compileSchema(ref string, s *models.JSONSchema) (*jsonschema.Schema, error) {
	if s == nil {
		return nil, nil
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	resource := fmt.Sprintf("mem://agents/%s/schema.json", ref)
	if err := compiler.AddResource(resource, doc); err != nil {
		return nil, err
	}
	return compiler.Compile(resource)
}
