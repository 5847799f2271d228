package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paidflow/orchestrator/common/models"
)

func draftAgent(ref string) *models.AgentDescriptor {
	return &models.AgentDescriptor{
		Ref:             ref,
		Name:            "Echo",
		Version:         "1.0.0",
		Category:        models.CategoryTransformation,
		Endpoint:        "http://agents.local/echo",
		SupportedChains: []string{"base"},
		SupportedTokens: []string{"USDC"},
		Pricing:         models.Pricing{Model: models.PricePerCall, Token: "USDC", Chain: "base"},
	}
}

func TestRegistry_CreateAndGet(t *testing.T) {
	r := New(nil)

	created, err := r.Create(draftAgent("echo"))
	require.NoError(t, err)
	assert.Equal(t, models.AgentDraft, created.Status)
	assert.False(t, created.CreatedAt.IsZero())

	got, err := r.Get("echo")
	require.NoError(t, err)
	assert.Equal(t, "echo", got.Ref)

	_, err = r.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_ReturnedDescriptorsDoNotAliasStoredState(t *testing.T) {
	r := New(nil)

	source := draftAgent("echo")
	source.InputSchema = &models.JSONSchema{
		Type: "object",
		Properties: map[string]*models.JSONSchema{
			"message": {Type: "string"},
		},
		Required: []string{"message"},
	}
	created, err := r.Create(source)
	require.NoError(t, err)

	// Mutating what the caller passed in or got back must not reach the
	// stored descriptor.
	source.SupportedChains[0] = "mutated"
	created.Tags = append(created.Tags, "mutated")
	created.SupportedTokens[0] = "mutated"
	created.InputSchema.Required[0] = "mutated"
	created.InputSchema.Properties["message"].Type = "number"

	got, err := r.Get("echo")
	require.NoError(t, err)
	assert.Equal(t, []string{"base"}, got.SupportedChains)
	assert.Equal(t, []string{"USDC"}, got.SupportedTokens)
	assert.Empty(t, got.Tags)
	assert.Equal(t, []string{"message"}, got.InputSchema.Required)
	assert.Equal(t, "string", got.InputSchema.Properties["message"].Type)

	// Same independence for Get, List, and status transitions.
	got.SupportedChains[0] = "mutated"
	listed := r.List(models.AgentFilters{})
	require.Len(t, listed, 1)
	listed[0].SupportedTokens[0] = "mutated"

	pub, err := r.Publish("echo")
	require.NoError(t, err)
	pub.SupportedChains[0] = "mutated"

	again, err := r.Get("echo")
	require.NoError(t, err)
	assert.Equal(t, []string{"base"}, again.SupportedChains)
	assert.Equal(t, []string{"USDC"}, again.SupportedTokens)
}

func TestRegistry_DuplicateRef(t *testing.T) {
	r := New(nil)
	_, err := r.Create(draftAgent("echo"))
	require.NoError(t, err)

	_, err = r.Create(draftAgent("echo"))
	assert.ErrorIs(t, err, ErrDuplicateRef)
}

func TestRegistry_PublishRequiresEndpointAndSets(t *testing.T) {
	r := New(nil)

	bare := draftAgent("bare")
	bare.Endpoint = ""
	_, err := r.Create(bare)
	require.NoError(t, err)
	_, err = r.Publish("bare")
	assert.Error(t, err)

	noChains := draftAgent("nochains")
	noChains.SupportedChains = nil
	_, err = r.Create(noChains)
	require.NoError(t, err)
	_, err = r.Publish("nochains")
	assert.Error(t, err)

	_, err = r.Create(draftAgent("ok"))
	require.NoError(t, err)
	pub, err := r.Publish("ok")
	require.NoError(t, err)
	assert.Equal(t, models.AgentPublished, pub.Status)
}

func TestRegistry_Lifecycle(t *testing.T) {
	r := New(nil)
	_, err := r.Create(draftAgent("echo"))
	require.NoError(t, err)

	// draft -> deprecated is not allowed
	_, err = r.Deprecate("echo")
	assert.Error(t, err)

	_, err = r.Publish("echo")
	require.NoError(t, err)

	dep, err := r.Deprecate("echo")
	require.NoError(t, err)
	assert.Equal(t, models.AgentDeprecated, dep.Status)

	// deprecated -> published again
	_, err = r.Publish("echo")
	require.NoError(t, err)

	// any -> suspended
	sus, err := r.Suspend("echo")
	require.NoError(t, err)
	assert.Equal(t, models.AgentSuspended, sus.Status)
}

func TestRegistry_DeleteOnlyDraft(t *testing.T) {
	r := New(nil)
	_, err := r.Create(draftAgent("echo"))
	require.NoError(t, err)
	_, err = r.Publish("echo")
	require.NoError(t, err)

	assert.Error(t, r.Delete("echo"))

	_, err = r.Create(draftAgent("draft"))
	require.NoError(t, err)
	assert.NoError(t, r.Delete("draft"))
	_, err = r.Get("draft")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_UpdateRefImmutable(t *testing.T) {
	r := New(nil)
	_, err := r.Create(draftAgent("echo"))
	require.NoError(t, err)

	updated, err := r.Update("echo", map[string]interface{}{
		"ref":         "hijacked",
		"description": "echoes its input",
	})
	require.NoError(t, err)
	assert.Equal(t, "echo", updated.Ref)
	assert.Equal(t, "echoes its input", updated.Description)
}

func TestRegistry_UpdateToPublishedEnforcesInvariants(t *testing.T) {
	r := New(nil)
	bare := draftAgent("bare")
	bare.Endpoint = ""
	_, err := r.Create(bare)
	require.NoError(t, err)

	_, err = r.Update("bare", map[string]interface{}{"status": "published"})
	assert.Error(t, err)

	_, err = r.Update("bare", map[string]interface{}{
		"status":   "published",
		"endpoint": "http://agents.local/bare",
	})
	assert.NoError(t, err)
}

func TestRegistry_ListFilters(t *testing.T) {
	r := New(nil)

	a := draftAgent("a")
	a.Category = models.CategoryAnalysis
	a.Tags = []string{"nlp"}
	_, err := r.Create(a)
	require.NoError(t, err)

	b := draftAgent("b")
	b.SupportedChains = []string{"base-sepolia"}
	_, err = r.Create(b)
	require.NoError(t, err)
	_, err = r.Publish("b")
	require.NoError(t, err)

	assert.Len(t, r.List(models.AgentFilters{}), 2)
	assert.Len(t, r.List(models.AgentFilters{Status: models.AgentPublished}), 1)
	assert.Len(t, r.List(models.AgentFilters{Category: models.CategoryAnalysis}), 1)
	assert.Len(t, r.List(models.AgentFilters{Chain: "base-sepolia"}), 1)
	assert.Len(t, r.List(models.AgentFilters{Tags: []string{"nlp", "none"}}), 1)
	assert.Empty(t, r.List(models.AgentFilters{OwnerID: "nobody"}))
}

func TestRegistry_ValidateInput(t *testing.T) {
	r := New(nil)
	agent := draftAgent("strict")
	agent.InputSchema = &models.JSONSchema{
		Type: "object",
		Properties: map[string]*models.JSONSchema{
			"message": {Type: "string"},
		},
		Required: []string{"message"},
	}
	_, err := r.Create(agent)
	require.NoError(t, err)

	assert.NoError(t, r.ValidateInput("strict", map[string]interface{}{"message": "hi"}))
	assert.Error(t, r.ValidateInput("strict", map[string]interface{}{"other": 1}))

	// Agents without a schema accept anything.
	_, err = r.Create(draftAgent("loose"))
	require.NoError(t, err)
	assert.NoError(t, r.ValidateInput("loose", map[string]interface{}{"anything": true}))
}
