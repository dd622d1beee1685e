package classifier

import (
	"context"
	"errors"
	"testing"

	"github.com/vozlab/voz/internal/domain"
	"github.com/vozlab/voz/internal/registry"
)

type fakeCaller struct {
	calls  int
	intent *domain.ClassifiedIntent
	err    error
}

func (f *fakeCaller) ClassifyIntent(_ context.Context, _ string, _ []domain.AgentConfig) (*domain.ClassifiedIntent, error) {
	f.calls++
	return f.intent, f.err
}

func testRegistry() *registry.Registry {
	return registry.New([]domain.AgentConfig{
		{
			Name: "HealthAgent", Slug: "saude", DisplayName: "Saúde",
			IsActive: true, SortOrder: 1,
			Domains:  []string{"saude"},
			Triggers: []string{"pressão", "vacina", "consulta", "dengue"},
			Tools: []domain.ToolConfig{
				{Name: "protocol_lookup", Source: domain.SourceSQL, EntityKind: "protocol", Keywords: []string{"dengue", "protocolo"}},
				{Name: "facility_lookup", Source: domain.SourceSQL, EntityKind: "facility", Keywords: []string{"posto", "hospital"}},
			},
		},
		{
			Name: "CityAgent", Slug: "cidade", DisplayName: "Cidade",
			IsActive: true, SortOrder: 2,
			Domains:  []string{"cidade"},
			Triggers: []string{"população", "bairro", "iluminação"},
			Tools: []domain.ToolConfig{
				{Name: "population_lookup", Source: domain.SourceSQL, EntityKind: "population", Keywords: []string{"população", "habitantes"}},
			},
		},
		{
			Name: "InactiveAgent", Slug: "velho", IsActive: false,
			Triggers: []string{"antigo"},
		},
	})
}

func TestFastPathSingleMatch(t *testing.T) {
	caller := &fakeCaller{}
	c := New(testRegistry(), caller, nil)

	intent := c.Classify(context.Background(), "Qual o protocolo de dengue?")
	if intent.AgentSlug != "saude" {
		t.Errorf("Expected agent saude, got %q", intent.AgentSlug)
	}
	if intent.Method != domain.MethodPattern {
		t.Errorf("Expected pattern method, got %q", intent.Method)
	}
	if intent.Confidence != 0.85 {
		t.Errorf("Expected confidence 0.85, got %v", intent.Confidence)
	}
	if intent.ToolName != "protocol_lookup" {
		t.Errorf("Expected protocol_lookup tool, got %q", intent.ToolName)
	}
	if caller.calls != 0 {
		t.Errorf("Expected no model calls on fast path, got %d", caller.calls)
	}
}

func TestAmbiguousGoesToModel(t *testing.T) {
	caller := &fakeCaller{intent: &domain.ClassifiedIntent{
		AgentSlug: "cidade", Confidence: 0.9, Method: domain.MethodModel,
	}}
	c := New(testRegistry(), caller, nil)

	// Triggers for both agents: "vacina" and "bairro".
	intent := c.Classify(context.Background(), "Tem vacina no meu bairro?")
	if caller.calls != 1 {
		t.Errorf("Expected 1 model call for ambiguous utterance, got %d", caller.calls)
	}
	if intent.AgentSlug != "cidade" {
		t.Errorf("Expected model verdict cidade, got %q", intent.AgentSlug)
	}
	if intent.Method != domain.MethodModel {
		t.Errorf("Expected model method, got %q", intent.Method)
	}
	if intent.ToolName != "population_lookup" {
		t.Errorf("Expected filled tool name, got %q", intent.ToolName)
	}
}

func TestFastPathExtractsEntity(t *testing.T) {
	c := New(testRegistry(), nil, nil)

	intent := c.Classify(context.Background(), "Qual a população de Campinas?")
	if intent.AgentSlug != "cidade" {
		t.Fatalf("Expected agent cidade, got %q", intent.AgentSlug)
	}
	if intent.Entities["population"] != "campinas" {
		t.Errorf("Expected population entity campinas, got %v", intent.Entities)
	}
}

func TestModelEntitiesPassThrough(t *testing.T) {
	caller := &fakeCaller{intent: &domain.ClassifiedIntent{
		AgentSlug: "saude", Confidence: 0.9, Method: domain.MethodModel,
		ToolName: "facility_lookup",
		Entities: map[string]string{"facility": "posto central"},
	}}
	c := New(testRegistry(), caller, nil)

	intent := c.Classify(context.Background(), "Tem vacina no meu bairro?")
	if intent.Entities["facility"] != "posto central" {
		t.Errorf("Expected model entities kept, got %v", intent.Entities)
	}
}

func TestModelVerdictWithoutEntitiesExtractsLocally(t *testing.T) {
	caller := &fakeCaller{intent: &domain.ClassifiedIntent{
		AgentSlug: "cidade", Confidence: 0.9, Method: domain.MethodModel,
		ToolName: "population_lookup",
	}}
	c := New(testRegistry(), caller, nil)

	// Ambiguous: "população" and "consulta" trigger different agents.
	intent := c.Classify(context.Background(), "consulta da população de Sorocaba")
	if intent.Entities["population"] != "consulta sorocaba" {
		t.Errorf("Expected locally extracted entity, got %v", intent.Entities)
	}
}

func TestNoMatchGoesToModel(t *testing.T) {
	caller := &fakeCaller{intent: &domain.ClassifiedIntent{
		AgentSlug: "saude", Confidence: 0.8, Method: domain.MethodModel,
	}}
	c := New(testRegistry(), caller, nil)

	c.Classify(context.Background(), "me conta uma curiosidade qualquer")
	if caller.calls != 1 {
		t.Errorf("Expected 1 model call when no trigger matches, got %d", caller.calls)
	}
}

func TestModelFailureFallsBackToBestCandidate(t *testing.T) {
	caller := &fakeCaller{err: errors.New("timeout")}
	c := New(testRegistry(), caller, nil)

	// Two triggers for health, one for city.
	intent := c.Classify(context.Background(), "vacina e consulta no bairro")
	if caller.calls != 1 {
		t.Errorf("Expected 1 model call, got %d", caller.calls)
	}
	if intent.AgentSlug != "saude" {
		t.Errorf("Expected strongest candidate saude, got %q", intent.AgentSlug)
	}
	if intent.Method != domain.MethodFallback {
		t.Errorf("Expected fallback method, got %q", intent.Method)
	}
}

func TestModelFailureFallsBackToDefaultAgent(t *testing.T) {
	caller := &fakeCaller{err: errors.New("unreachable")}
	c := New(testRegistry(), caller, nil)

	intent := c.Classify(context.Background(), "assunto totalmente desconhecido")
	if intent.AgentSlug != "saude" {
		t.Errorf("Expected default agent saude, got %q", intent.AgentSlug)
	}
	if intent.Method != domain.MethodFallback {
		t.Errorf("Expected fallback method, got %q", intent.Method)
	}
	if intent.Confidence >= 0.7 {
		t.Errorf("Expected degraded confidence, got %v", intent.Confidence)
	}
}

func TestModelUnknownAgentFallsBack(t *testing.T) {
	caller := &fakeCaller{intent: &domain.ClassifiedIntent{AgentSlug: "inexistente"}}
	c := New(testRegistry(), caller, nil)

	intent := c.Classify(context.Background(), "algo sem gatilho nenhum")
	if intent.AgentSlug != "saude" {
		t.Errorf("Expected default agent after unknown verdict, got %q", intent.AgentSlug)
	}
	if intent.Method != domain.MethodFallback {
		t.Errorf("Expected fallback method, got %q", intent.Method)
	}
}

func TestInactiveAgentNeverMatches(t *testing.T) {
	caller := &fakeCaller{err: errors.New("down")}
	c := New(testRegistry(), caller, nil)

	intent := c.Classify(context.Background(), "isso é antigo demais")
	if intent.AgentSlug == "velho" {
		t.Error("Inactive agent must not classify")
	}
}

func TestNilCallerStillClassifies(t *testing.T) {
	c := New(testRegistry(), nil, nil)

	intent := c.Classify(context.Background(), "sem nenhum gatilho aqui")
	if intent.AgentSlug != "saude" {
		t.Errorf("Expected default agent with nil caller, got %q", intent.AgentSlug)
	}
}
