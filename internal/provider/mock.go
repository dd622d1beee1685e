package provider

import (
	"context"
	"strings"
	"sync"
)

// MockProvider serves a fixed in-memory dataset. It is the default in
// development and the fixture for tests.
type MockProvider struct {
	mu   sync.RWMutex
	data map[string]map[string]Record
}

// NewMock creates a mock provider seeded with the demo dataset.
func NewMock() *MockProvider {
	return &MockProvider{data: seedData()}
}

// NewMockWithData creates a mock provider with a caller-supplied dataset.
func NewMockWithData(data map[string]map[string]Record) *MockProvider {
	if data == nil {
		data = make(map[string]map[string]Record)
	}
	return &MockProvider{data: data}
}

// FetchEntity looks up a single record by kind and key.
func (m *MockProvider) FetchEntity(ctx context.Context, kind, key string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	byKey, ok := m.data[kind]
	if !ok {
		return nil, ErrNotFound
	}
	rec, ok := byKey[strings.ToLower(strings.TrimSpace(key))]
	if !ok {
		return nil, ErrNotFound
	}

	// Copy so callers cannot mutate the dataset.
	out := make(Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out, nil
}

// Name identifies the provider for logging.
func (m *MockProvider) Name() string { return "mock" }

// Ping always succeeds for the mock provider.
func (m *MockProvider) Ping(ctx context.Context) error { return ctx.Err() }

// Close is a no-op for the mock provider.
func (m *MockProvider) Close() {}

func seedData() map[string]map[string]Record {
	return map[string]map[string]Record{
		"population": {
			"são paulo": {"municipio": "São Paulo", "uf": "SP", "populacao": 11451999, "ano": 2022},
			"campinas":  {"municipio": "Campinas", "uf": "SP", "populacao": 1139047, "ano": 2022},
			"santos":    {"municipio": "Santos", "uf": "SP", "populacao": 418608, "ano": 2022},
		},
		"facility": {
			"upa central":    {"nome": "UPA Central", "tipo": "upa", "endereco": "Av. Principal, 100", "municipio": "Campinas"},
			"hospital geral": {"nome": "Hospital Geral", "tipo": "hospital", "endereco": "Rua da Saúde, 55", "municipio": "Campinas"},
			"emef anchieta":  {"nome": "EMEF Anchieta", "tipo": "escola", "endereco": "Rua do Saber, 12", "municipio": "Santos"},
		},
		"fiscal": {
			"campinas-2023": {"municipio": "Campinas", "ano": 2023, "rcl": 8123456789.12, "despesa_pessoal_pct": 46.3},
			"santos-2023":   {"municipio": "Santos", "ano": 2023, "rcl": 3456789012.45, "despesa_pessoal_pct": 51.8},
		},
		"protocol": {
			"dengue":      {"titulo": "Manejo clínico de dengue", "cid": "A90", "conduta": "hidratação e monitoramento de sinais de alarme"},
			"hipertensao": {"titulo": "Hipertensão arterial sistêmica", "cid": "I10", "conduta": "aferição seriada e avaliação de risco cardiovascular"},
		},
	}
}
