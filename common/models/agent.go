package models

import (
	"fmt"
	"time"
)

// AgentStatus is the lifecycle state of a registered agent.
type AgentStatus string

const (
	AgentDraft      AgentStatus = "draft"
	AgentPublished  AgentStatus = "published"
	AgentDeprecated AgentStatus = "deprecated"
	AgentSuspended  AgentStatus = "suspended"
)

// agentTransitions is the allowed lifecycle graph. Suspension is
// reachable from every state.
var agentTransitions = map[AgentStatus][]AgentStatus{
	AgentDraft:      {AgentPublished, AgentSuspended},
	AgentPublished:  {AgentDeprecated, AgentSuspended},
	AgentDeprecated: {AgentPublished, AgentSuspended},
	AgentSuspended:  {AgentSuspended},
}

// CanTransition reports whether status may move to next.
func (s AgentStatus) CanTransition(next AgentStatus) bool {
	for _, allowed := range agentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// AgentCategory tags the kind of work an agent performs.
type AgentCategory string

const (
	CategoryDataCollection AgentCategory = "data-collection"
	CategoryAnalysis       AgentCategory = "analysis"
	CategoryTransformation AgentCategory = "transformation"
	CategorySummarization  AgentCategory = "summarization"
	CategoryNotification   AgentCategory = "notification"
	CategoryStorage        AgentCategory = "storage"
	CategoryMLInference    AgentCategory = "ml-inference"
	CategoryValidation     AgentCategory = "validation"
	CategoryOther          AgentCategory = "other"
)

// ValidCategory reports whether c is one of the closed category set.
func ValidCategory(c AgentCategory) bool {
	switch c {
	case CategoryDataCollection, CategoryAnalysis, CategoryTransformation,
		CategorySummarization, CategoryNotification, CategoryStorage,
		CategoryMLInference, CategoryValidation, CategoryOther:
		return true
	}
	return false
}

// PricingModel determines how an agent charges per invocation.
type PricingModel string

const (
	PricePerCall      PricingModel = "per-call"
	PricePerUnit      PricingModel = "per-unit"
	PriceSubscription PricingModel = "subscription"
)

// Pricing is the payment policy attached to an agent.
type Pricing struct {
	Model  PricingModel `json:"model" yaml:"model"`
	Amount Atomic       `json:"amount" yaml:"amount"`
	Token  string       `json:"token" yaml:"token"`
	Chain  string       `json:"chain" yaml:"chain"`
	Unit   string       `json:"unit,omitempty" yaml:"unit,omitempty"`

	// RequiresPayment gates the agent behind a 402 challenge.
	RequiresPayment bool `json:"requires_payment" yaml:"requires_payment"`

	// PaymentNetwork is the settlement network; may differ from Chain
	// when settling on a testnet.
	PaymentNetwork string `json:"payment_network,omitempty" yaml:"payment_network,omitempty"`
}

// JSONSchema is the subset of JSON-Schema agents declare for their
// inputs and outputs.
type JSONSchema struct {
	Type       string                 `json:"type,omitempty" yaml:"type,omitempty"`
	Properties map[string]*JSONSchema `json:"properties,omitempty" yaml:"properties,omitempty"`
	Required   []string               `json:"required,omitempty" yaml:"required,omitempty"`
	Enum       []interface{}          `json:"enum,omitempty" yaml:"enum,omitempty"`
	Items      *JSONSchema            `json:"items,omitempty" yaml:"items,omitempty"`
}

// Clone returns a deep copy; nil-safe.
func (s *JSONSchema) Clone() *JSONSchema {
	if s == nil {
		return nil
	}
	out := &JSONSchema{Type: s.Type, Items: s.Items.Clone()}
	if s.Properties != nil {
		out.Properties = make(map[string]*JSONSchema, len(s.Properties))
		for k, v := range s.Properties {
			out.Properties[k] = v.Clone()
		}
	}
	if s.Required != nil {
		out.Required = append([]string(nil), s.Required...)
	}
	if s.Enum != nil {
		out.Enum = append([]interface{}(nil), s.Enum...)
	}
	return out
}

// AgentDescriptor is the registry record for a callable agent.
// Ref is the stable identity: unique on create, immutable on update.
type AgentDescriptor struct {
	Ref         string        `json:"ref"`
	Name        string        `json:"name"`
	Version     string        `json:"version"`
	Description string        `json:"description,omitempty"`
	Category    AgentCategory `json:"category"`
	Endpoint    string        `json:"endpoint,omitempty"`
	OwnerID     string        `json:"owner_id,omitempty"`
	OwnerWallet string        `json:"owner_wallet,omitempty"`

	InputSchema  *JSONSchema `json:"input_schema,omitempty"`
	OutputSchema *JSONSchema `json:"output_schema,omitempty"`

	Status          AgentStatus `json:"status"`
	SupportedChains []string    `json:"supported_chains,omitempty"`
	SupportedTokens []string    `json:"supported_tokens,omitempty"`
	Tags            []string    `json:"tags,omitempty"`

	Pricing Pricing `json:"pricing"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy sharing no slices, maps, or schemas with
// the receiver.
func (a *AgentDescriptor) Clone() *AgentDescriptor {
	out := *a
	out.InputSchema = a.InputSchema.Clone()
	out.OutputSchema = a.OutputSchema.Clone()
	if a.SupportedChains != nil {
		out.SupportedChains = append([]string(nil), a.SupportedChains...)
	}
	if a.SupportedTokens != nil {
		out.SupportedTokens = append([]string(nil), a.SupportedTokens...)
	}
	if a.Tags != nil {
		out.Tags = append([]string(nil), a.Tags...)
	}
	return &out
}

// SupportsChain reports whether the agent settles on the given chain.
func (a *AgentDescriptor) SupportsChain(chain string) bool {
	for _, c := range a.SupportedChains {
		if c == chain {
			return true
		}
	}
	return false
}

// SupportsToken reports whether the agent accepts the given token.
func (a *AgentDescriptor) SupportsToken(token string) bool {
	for _, t := range a.SupportedTokens {
		if t == token {
			return true
		}
	}
	return false
}

// ValidateForPublish enforces the publish-time invariants: an endpoint
// must be set and the supported chain/token sets must be non-empty.
func (a *AgentDescriptor) ValidateForPublish() error {
	if a.Endpoint == "" {
		return fmt.Errorf("agent %s: endpoint is required to publish", a.Ref)
	}
	if len(a.SupportedChains) == 0 {
		return fmt.Errorf("agent %s: supported_chains must be non-empty to publish", a.Ref)
	}
	if len(a.SupportedTokens) == 0 {
		return fmt.Errorf("agent %s: supported_tokens must be non-empty to publish", a.Ref)
	}
	return nil
}

// AgentFilters narrows registry listings. Zero values match everything.
type AgentFilters struct {
	Category AgentCategory
	Status   AgentStatus
	Chain    string
	Token    string
	OwnerID  string
	// Tags matches descriptors carrying any of the given tags.
	Tags []string
}

// Matches reports whether the descriptor passes every set filter.
func (f *AgentFilters) Matches(a *AgentDescriptor) bool {
	if f.Category != "" && a.Category != f.Category {
		return false
	}
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if f.Chain != "" && !a.SupportsChain(f.Chain) {
		return false
	}
	if f.Token != "" && !a.SupportsToken(f.Token) {
		return false
	}
	if f.OwnerID != "" && a.OwnerID != f.OwnerID {
		return false
	}
	if len(f.Tags) > 0 {
		any := false
		for _, want := range f.Tags {
			for _, have := range a.Tags {
				if want == have {
					any = true
					break
				}
			}
		}
		if !any {
			return false
		}
	}
	return true
}
