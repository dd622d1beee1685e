// Package orchestrator runs a classified intent through its agent tool and
// response generation, reporting progress as ordered stage events.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/vozlab/voz/internal/domain"
	"github.com/vozlab/voz/internal/model"
	"github.com/vozlab/voz/internal/provider"
	"github.com/vozlab/voz/internal/registry"
)

// Generator produces the final user-facing reply.
type Generator interface {
	Generate(ctx context.Context, req model.GenerateRequest) (string, error)
}

// Observer receives each stage event as it happens. It must not block;
// slow consumers should buffer on their side.
type Observer func(domain.ProgressEvent)

// RouteContext carries per-turn state the pipeline stages need.
type RouteContext struct {
	DeviceID  string
	SessionID string
	History   []model.Message
	Observer  Observer
}

// Orchestrator resolves intents against the agent registry and executes
// their tools over the configured data provider.
type Orchestrator struct {
	reg      *registry.Registry
	data     provider.DataProvider
	gen      Generator
	logger   *slog.Logger
	tracer   trace.Tracer
	turns    metric.Int64Counter
	failures metric.Int64Counter
}

func New(reg *registry.Registry, data provider.DataProvider, gen Generator, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	meter := otel.Meter("voz/orchestrator")
	turns, _ := meter.Int64Counter("orchestrator.turns",
		metric.WithDescription("Completed orchestration runs by outcome"))
	failures, _ := meter.Int64Counter("orchestrator.failures",
		metric.WithDescription("Orchestration failures by kind"))
	return &Orchestrator{
		reg:      reg,
		data:     data,
		gen:      gen,
		logger:   logger,
		tracer:   otel.Tracer("voz/orchestrator"),
		turns:    turns,
		failures: failures,
	}
}

// stageProgress is the cumulative completion estimate reported with each
// stage event.
var stageProgress = map[domain.Stage]int{
	domain.StageClassifying: 10,
	domain.StageRouting:     25,
	domain.StageExecuting:   50,
	domain.StageGenerating:  75,
	domain.StageDone:        100,
	domain.StageError:       100,
}

type run struct {
	events   []domain.ProgressEvent
	observer Observer
	done     bool
}

func (r *run) emit(stage domain.Stage, message, errText string) {
	if r.done {
		return
	}
	if stage.Terminal() {
		r.done = true
	}
	ev := domain.ProgressEvent{
		Stage:    stage,
		Progress: stageProgress[stage],
		Message:  message,
		Err:      errText,
		At:       time.Now().UTC(),
	}
	r.events = append(r.events, ev)
	if r.observer != nil {
		r.observer(ev)
	}
}

// Route executes one classified intent end to end. It never returns an
// error: failures surface as a single terminal error event with a generic
// user message, with the detail logged here only.
func (o *Orchestrator) Route(ctx context.Context, intent domain.ClassifiedIntent, rctx RouteContext) *domain.OrchestratorResult {
	started := time.Now()
	ctx, span := o.tracer.Start(ctx, "orchestrator.route",
		trace.WithAttributes(
			attribute.String("agent.slug", intent.AgentSlug),
			attribute.String("intent.method", string(intent.Method)),
		))
	defer span.End()

	r := &run{observer: rctx.Observer}
	r.emit(domain.StageClassifying, "Entendendo a pergunta", "")

	result := &domain.OrchestratorResult{
		AgentSlug: intent.AgentSlug,
		ToolName:  intent.ToolName,
	}
	finish := func(failure *domain.Failure) *domain.OrchestratorResult {
		outcome := "done"
		if failure != nil {
			outcome = "error"
			o.failures.Add(ctx, 1, metric.WithAttributes(
				attribute.String("kind", string(failure.Kind))))
			o.logger.Error("orchestration failed",
				"kind", failure.Kind,
				"agent_slug", intent.AgentSlug,
				"session_id", rctx.SessionID,
				"error", failure.Err)
			r.emit(domain.StageError, failure.Message, string(failure.Kind))
		} else {
			r.emit(domain.StageDone, "", "")
		}
		o.turns.Add(ctx, 1, metric.WithAttributes(
			attribute.String("outcome", outcome),
			attribute.String("agent.slug", intent.AgentSlug)))
		result.StageEvents = r.events
		result.TotalMs = time.Since(started).Milliseconds()
		return result
	}

	// Routing: the classifier already picked the agent; here it is pinned
	// to a live registry entry.
	r.emit(domain.StageRouting, "Encaminhando para o assistente", "")
	agent := o.reg.BySlug(intent.AgentSlug)
	if agent == nil || !agent.IsActive {
		agent = o.reg.Default()
	}
	if agent == nil {
		return finish(domain.NewFailure(domain.FailureClassification,
			"Nenhum assistente disponível no momento.", errors.New("no active agents")))
	}
	result.AgentSlug = agent.Slug

	// Executing: run the selected tool against the data provider. A
	// missing entity is an answerable condition, not a failure.
	r.emit(domain.StageExecuting, "Consultando os dados", "")
	toolOutput, sources, err := o.executeTool(ctx, agent, intent)
	if err != nil {
		return finish(domain.NewFailure(domain.FailureProvider,
			"Não consegui consultar os dados agora. Tente novamente.", err))
	}
	result.Sources = sources

	r.emit(domain.StageGenerating, "Preparando a resposta", "")
	text, err := o.gen.Generate(ctx, model.GenerateRequest{
		Utterance:  intent.RawQuery,
		AgentName:  agent.DisplayName,
		ToolOutput: toolOutput,
		History:    rctx.History,
	})
	if err != nil {
		return finish(domain.NewFailure(domain.FailureGeneration,
			"Não consegui montar a resposta agora. Tente novamente.", err))
	}
	result.ResponseText = text

	return finish(nil)
}

// executeTool fetches the entity the intent names through the data
// provider. Tools without an entity key, and entities the provider does
// not know, both produce a nil tool output so generation can still answer.
func (o *Orchestrator) executeTool(ctx context.Context, agent *domain.AgentConfig, intent domain.ClassifiedIntent) (any, []string, error) {
	tool := toolByName(agent, intent.ToolName)
	if tool == nil {
		return nil, nil, nil
	}

	ctx, span := o.tracer.Start(ctx, "orchestrator.execute_tool",
		trace.WithAttributes(attribute.String("tool.name", tool.Name)))
	defer span.End()

	key := entityKey(tool, intent)
	if key == "" || o.data == nil {
		return nil, nil, nil
	}

	record, err := o.data.FetchEntity(ctx, tool.EntityKind, key)
	if errors.Is(err, provider.ErrNotFound) {
		o.logger.Info("entity not found",
			"kind", tool.EntityKind, "key", key, "tool", tool.Name)
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return record, []string{o.data.Name() + ":" + tool.EntityKind}, nil
}

func toolByName(agent *domain.AgentConfig, name string) *domain.ToolConfig {
	for i := range agent.Tools {
		if agent.Tools[i].Name == name {
			return &agent.Tools[i]
		}
	}
	if name == "" && len(agent.Tools) > 0 {
		return &agent.Tools[0]
	}
	return nil
}

// entityKey pulls the lookup key from the extracted entities, preferring
// the kind the tool declares.
func entityKey(tool *domain.ToolConfig, intent domain.ClassifiedIntent) string {
	if v := intent.Entities[tool.EntityKind]; v != "" {
		return v
	}
	return intent.Entities["entity"]
}
