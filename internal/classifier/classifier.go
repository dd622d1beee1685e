// Package classifier maps a free-text utterance to an agent and tool.
//
// Classification is two-tier: a deterministic trigger-vocabulary match
// answers unambiguous utterances with no network call; everything else
// goes to the classifier model. Classification is never fatal: when both
// tiers fail the default agent answers.
package classifier

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/vozlab/voz/internal/domain"
	"github.com/vozlab/voz/internal/registry"
	"github.com/vozlab/voz/internal/session"
)

const (
	// fastPathConfidence is assigned to trigger vocabulary matches.
	fastPathConfidence = 0.85
	// confidenceThreshold is the floor below which a single fast-path
	// match still defers to the model.
	confidenceThreshold = 0.70
	// fallbackConfidence is assigned when both tiers failed.
	fallbackConfidence = 0.40
)

// ModelCaller is the slow-path classification dependency.
type ModelCaller interface {
	ClassifyIntent(ctx context.Context, utterance string, candidates []domain.AgentConfig) (*domain.ClassifiedIntent, error)
}

// Classifier resolves utterances against a fixed agent registry.
type Classifier struct {
	reg    *registry.Registry
	caller ModelCaller
	logger *slog.Logger
}

// New creates a classifier over the given registry. caller may be nil, in
// which case ambiguous utterances go straight to the fallback policy.
func New(reg *registry.Registry, caller ModelCaller, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{reg: reg, caller: caller, logger: logger}
}

var wordSplitPattern = regexp.MustCompile(`[^\p{L}\p{N}]+`)

func normalize(s string) string {
	return " " + strings.Join(wordSplitPattern.Split(strings.ToLower(s), -1), " ") + " "
}

// match counts how many of the agent's trigger words occur in the
// normalized utterance.
func triggerHits(norm string, agent *domain.AgentConfig) int {
	hits := 0
	for _, trigger := range agent.Triggers {
		if strings.Contains(norm, " "+strings.ToLower(trigger)+" ") {
			hits++
		}
	}
	return hits
}

type candidate struct {
	agent *domain.AgentConfig
	hits  int
}

// Classify resolves an utterance to an intent. It never returns an error;
// the worst case is the default agent at fallback confidence.
func (c *Classifier) Classify(ctx context.Context, utterance string) domain.ClassifiedIntent {
	norm := normalize(utterance)
	active := c.reg.Active()

	var candidates []candidate
	for i := range active {
		agent := c.reg.BySlug(active[i].Slug)
		if hits := triggerHits(norm, agent); hits > 0 {
			candidates = append(candidates, candidate{agent: agent, hits: hits})
		}
	}

	// Fast path: a single matching agent wins outright. More than one
	// match is ambiguous regardless of relative hit counts.
	if len(candidates) == 1 && fastPathConfidence >= confidenceThreshold {
		return c.intentFor(candidates[0].agent, utterance, fastPathConfidence, domain.MethodPattern)
	}

	// Slow path: ask the model, constrained to the active agents.
	if c.caller != nil {
		intent, err := c.caller.ClassifyIntent(ctx, utterance, active)
		if err == nil {
			if agent := c.reg.BySlug(intent.AgentSlug); agent != nil && agent.IsActive {
				resolved := *intent
				if resolved.ToolName == "" {
					resolved.ToolName = pickTool(agent, norm)
				}
				if resolved.Type == "" {
					resolved.Type = intentType(agent)
				}
				if len(resolved.Entities) == 0 {
					resolved.Entities = extractEntities(agent, resolved.ToolName, utterance)
				}
				resolved.RawQuery = utterance
				return resolved
			}
			c.logger.Warn("model classification named unknown agent", "agent_slug", intent.AgentSlug)
		} else {
			c.logger.Warn("model classification failed", "error", err)
		}
	}

	// Fallback: best fast-path candidate, then the default agent.
	if len(candidates) > 0 {
		best := candidates[0]
		for _, cand := range candidates[1:] {
			if cand.hits > best.hits {
				best = cand
			}
		}
		return c.intentFor(best.agent, utterance, fallbackConfidence, domain.MethodFallback)
	}

	if def := c.reg.Default(); def != nil {
		return c.intentFor(def, utterance, fallbackConfidence, domain.MethodFallback)
	}

	// Registry with no active agents; the orchestrator reports it.
	return domain.ClassifiedIntent{
		Type:     "geral",
		RawQuery: utterance,
		Method:   domain.MethodFallback,
	}
}

func (c *Classifier) intentFor(agent *domain.AgentConfig, utterance string, confidence float64, method domain.ClassificationMethod) domain.ClassifiedIntent {
	tool := pickTool(agent, normalize(utterance))
	return domain.ClassifiedIntent{
		Type:       intentType(agent),
		Confidence: confidence,
		AgentSlug:  agent.Slug,
		ToolName:   tool,
		Entities:   extractEntities(agent, tool, utterance),
		RawQuery:   utterance,
		Method:     method,
	}
}

func intentType(agent *domain.AgentConfig) string {
	if len(agent.Domains) > 0 {
		return agent.Domains[0]
	}
	return "geral"
}

// extractEntities pulls the lookup subject out of the utterance: the
// content words left after removing the agent's trigger vocabulary and
// the chosen tool's keywords. The result is keyed by the tool's entity
// kind so tool execution can hand it straight to the data provider.
func extractEntities(agent *domain.AgentConfig, toolName, utterance string) map[string]string {
	skip := make(map[string]struct{}, len(agent.Triggers))
	for _, trigger := range agent.Triggers {
		skip[strings.ToLower(trigger)] = struct{}{}
	}
	kind := "entity"
	for i := range agent.Tools {
		if agent.Tools[i].Name != toolName {
			continue
		}
		if agent.Tools[i].EntityKind != "" {
			kind = agent.Tools[i].EntityKind
		}
		for _, kw := range agent.Tools[i].Keywords {
			skip[strings.ToLower(kw)] = struct{}{}
		}
		break
	}

	var parts []string
	for _, word := range session.ContentWords(utterance) {
		if _, ok := skip[word]; ok {
			continue
		}
		parts = append(parts, word)
	}
	if len(parts) == 0 {
		return nil
	}
	return map[string]string{kind: strings.Join(parts, " ")}
}

// pickTool chooses the agent tool whose keywords best match the
// utterance, defaulting to the agent's first tool.
func pickTool(agent *domain.AgentConfig, norm string) string {
	if len(agent.Tools) == 0 {
		return ""
	}
	best, bestHits := agent.Tools[0].Name, 0
	for _, tool := range agent.Tools {
		hits := 0
		for _, kw := range tool.Keywords {
			if strings.Contains(norm, " "+strings.ToLower(kw)+" ") {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = tool.Name, hits
		}
	}
	return best
}
