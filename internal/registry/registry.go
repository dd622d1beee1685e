// Package registry holds the static agent registry.
//
// The registry is loaded once at process start and never mutated; every
// component that needs agent configuration receives the registry by
// injection rather than reading shared globals.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/vozlab/voz/internal/domain"
)

// Registry is a read-only collection of agent configurations.
type Registry struct {
	agents []domain.AgentConfig
	bySlug map[string]*domain.AgentConfig
	byName map[string]*domain.AgentConfig
}

// Load reads agent configurations from a JSON file. An empty path loads
// the built-in launch agents.
func Load(path string) (*Registry, error) {
	if path == "" {
		return New(defaultAgents()), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agent config: %w", err)
	}

	var agents []domain.AgentConfig
	if err := json.Unmarshal(data, &agents); err != nil {
		return nil, fmt.Errorf("parse agent config: %w", err)
	}
	if len(agents) == 0 {
		return nil, fmt.Errorf("agent config %s contains no agents", path)
	}
	return New(agents), nil
}

// New builds a registry from the given agent list.
func New(agents []domain.AgentConfig) *Registry {
	r := &Registry{
		agents: append([]domain.AgentConfig(nil), agents...),
		bySlug: make(map[string]*domain.AgentConfig, len(agents)),
		byName: make(map[string]*domain.AgentConfig, len(agents)),
	}
	for i := range r.agents {
		a := &r.agents[i]
		r.bySlug[a.Slug] = a
		r.byName[a.Name] = a
	}
	return r
}

// BySlug returns the agent with the given slug, or nil.
func (r *Registry) BySlug(slug string) *domain.AgentConfig {
	return r.bySlug[slug]
}

// ByName returns the agent with the given name, or nil.
func (r *Registry) ByName(name string) *domain.AgentConfig {
	return r.byName[name]
}

// All returns every registered agent.
func (r *Registry) All() []domain.AgentConfig {
	return append([]domain.AgentConfig(nil), r.agents...)
}

// Active returns active agents sorted by SortOrder.
func (r *Registry) Active() []domain.AgentConfig {
	var out []domain.AgentConfig
	for _, a := range r.agents {
		if a.IsActive {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SortOrder < out[j].SortOrder
	})
	return out
}

// Default returns the fallback agent used when classification cannot pick
// one: the first active agent by sort order.
func (r *Registry) Default() *domain.AgentConfig {
	active := r.Active()
	if len(active) == 0 {
		return nil
	}
	return r.bySlug[active[0].Slug]
}

func defaultAgents() []domain.AgentConfig {
	return []domain.AgentConfig{
		{
			Name:        "health-assistant",
			Slug:        "health",
			DisplayName: "Saúde",
			Endpoint:    "/functions/v1/health-agent",
			IsActive:    true,
			SortOrder:   1,
			Domains:     []string{"saude", "protocolo"},
			Triggers: []string{
				"sintoma", "sintomas", "doença", "doenca", "tratamento",
				"medicamento", "remédio", "remedio", "febre", "tosse",
				"gripe", "dengue", "pressão", "pressao", "protocolo",
			},
			Welcome: "Olá! Sou o assistente de saúde. Como posso ajudar?",
			Tools: []domain.ToolConfig{
				{Name: "lookup_protocol", Source: domain.SourceRAG, EntityKind: "protocol", Keywords: []string{"protocolo", "cid"}},
				{Name: "lookup_facility", Source: domain.SourceSQL, EntityKind: "facility", Keywords: []string{"hospital", "upa", "ubs"}},
			},
		},
		{
			Name:        "city-assistant",
			Slug:        "city",
			DisplayName: "Cidade",
			Endpoint:    "/functions/v1/city-agent",
			IsActive:    true,
			SortOrder:   2,
			Domains:     []string{"localizacao", "populacao", "educacao"},
			Triggers: []string{
				"onde", "endereço", "endereco", "localização", "localizacao",
				"população", "populacao", "habitantes", "escola", "matrícula",
				"matricula", "censo", "ibge",
			},
			Welcome: "Olá! Sou o assistente da cidade. O que você procura?",
			Tools: []domain.ToolConfig{
				{Name: "lookup_population", Source: domain.SourceSQL, EntityKind: "population", Keywords: []string{"populacao", "habitantes"}},
				{Name: "lookup_facility", Source: domain.SourceSQL, EntityKind: "facility", Keywords: []string{"escola", "hospital"}},
			},
		},
		{
			Name:        "economy-assistant",
			Slug:        "economy",
			DisplayName: "Economia",
			Endpoint:    "/functions/v1/economy-agent",
			IsActive:    true,
			SortOrder:   3,
			Domains:     []string{"fiscal"},
			Triggers: []string{
				"rreo", "rgf", "dca", "rcl", "siconfi", "lrf", "orçamento",
				"orcamento", "despesa", "receita", "dívida", "divida", "gasto",
			},
			Welcome: "Olá! Sou o assistente de economia municipal.",
			Tools: []domain.ToolConfig{
				{Name: "lookup_fiscal", Source: domain.SourceSQL, EntityKind: "fiscal", Keywords: []string{"orcamento", "despesa", "receita"}},
			},
		},
	}
}
