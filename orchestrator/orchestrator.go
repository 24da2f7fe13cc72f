// Package orchestrator is the stateless façade (component I, spec.md §4.I):
// it wires the DAG generator/executor, tool registry, instance pool, health
// monitor, load balancer, and autoscaler together behind three calls —
// createAgent, execute, scale — none of which holds a lock across external
// I/O.
package orchestrator

import (
	"context"

	"github.com/google/uuid"

	"github.com/agentmesh/orchestrator/autoscaler"
	"github.com/agentmesh/orchestrator/balancer"
	"github.com/agentmesh/orchestrator/config"
	"github.com/agentmesh/orchestrator/dag"
	orcherrors "github.com/agentmesh/orchestrator/errors"
	"github.com/agentmesh/orchestrator/events"
	"github.com/agentmesh/orchestrator/health"
	"github.com/agentmesh/orchestrator/instance"
	"github.com/agentmesh/orchestrator/persist"
	"github.com/agentmesh/orchestrator/telemetry"
	"github.com/agentmesh/orchestrator/tools"
	"github.com/agentmesh/orchestrator/worker"
)

// InstanceDescriptor is createAgent's result: enough to address the new
// instance plus its generation-time health/cost/time/score snapshot
// (spec.md §4.I).
type InstanceDescriptor struct {
	InstanceID        string
	AgentID           string
	DAGID             string
	HealthStatus      instance.HealthStatus
	EstimatedCost     float64
	EstimatedTime     float64
	OptimizationScore float64
}

// Orchestrator composes every component into the three-call façade.
type Orchestrator struct {
	generator  *dag.Generator
	pool       *instance.Pool
	monitor    *health.Monitor
	balancer   *balancer.Balancer
	autoscaler *autoscaler.Autoscaler
	store      persist.ConfigStore
	logger     telemetry.Logger
	eventBus   events.EventBus
	affinity   balancer.AffinityStore

	defs *agentDefStore
	dags *dagStore

	cfg          config.Config
	scoreWeights dag.ScoreWeights
	scalingRules []autoscaler.Rule
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger shared by every wired component.
func WithLogger(l telemetry.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

// WithPersistence registers a ConfigStore; createAgent writes its generated
// configuration document through it when set (spec.md §6). Optional.
func WithPersistence(store persist.ConfigStore) Option {
	return func(o *Orchestrator) { o.store = store }
}

// WithEventBus registers the fire-and-forget EventBus the health monitor and
// balancer publish through. Optional; events are dropped if unset.
func WithEventBus(bus events.EventBus) Option {
	return func(o *Orchestrator) { o.eventBus = bus }
}

// WithAffinityStore overrides the balancer's default in-memory session
// affinity store (e.g. with a Redis-backed one for multi-process
// deployments).
func WithAffinityStore(store balancer.AffinityStore) Option {
	return func(o *Orchestrator) { o.affinity = store }
}

// WithScoreWeights overrides the DAG generator's optimization-score weights.
func WithScoreWeights(w dag.ScoreWeights) Option {
	return func(o *Orchestrator) { o.scoreWeights = w }
}

// WithScalingRules sets the rule set every newly created agent is watched
// with by the autoscaler.
func WithScalingRules(rules ...autoscaler.Rule) Option {
	return func(o *Orchestrator) { o.scalingRules = rules }
}

// New wires every component together. primitive is the opaque worker
// backend; toolsReg is the live tool registry; templates resolves DAG
// templates by id.
func New(primitive worker.Primitive, toolsReg *tools.Registry, templates dag.TemplateStore, cfg config.Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:          cfg,
		logger:       telemetry.NewNoopLogger(),
		affinity:     balancer.NewInMemoryAffinityStore(),
		scoreWeights: dag.DefaultScoreWeights,
		defs:         newAgentDefStore(),
		dags:         newDAGStore(),
	}
	for _, opt := range opts {
		opt(o)
	}

	o.generator = dag.NewGenerator(templates, toolSourceAdapter{registry: toolsReg},
		dag.WithScoreWeights(o.scoreWeights), dag.WithGeneratorLogger(o.logger))

	o.pool = instance.NewPool(primitive, o.defs.factory, cfg, instance.WithLogger(o.logger))

	dispatcher := newWorkerDispatcher(primitive, toolsReg, o.dags)
	o.balancer = balancer.New(o.pool, dispatcher, o.affinity, cfg.LoadBalance, cfg.CircuitBreaker, cfg.MaxRoundRobinCounterPerAgent,
		balancer.WithLogger(o.logger), balancer.WithEventBus(o.eventBus))

	o.monitor = health.NewMonitor(o.pool, newWorkerProber(primitive), o.eventBus, o.pool.Remove, health.WithLogger(o.logger))

	o.autoscaler = autoscaler.New(o.pool, poolSampler(o.pool), cfg.OptimizationInterval, cfg.MetricsWindow, cfg.MinDataPoints,
		cfg.MinInstancesPerAgent, cfg.MaxInstancesPerAgent, autoscaler.WithLogger(o.logger), autoscaler.WithEventBus(o.eventBus))

	return o
}

// Start launches the background health and autoscaling loops.
func (o *Orchestrator) Start(ctx context.Context) {
	o.monitor.Start(ctx)
	o.autoscaler.Start(ctx)
}

// Stop terminates the background loops.
func (o *Orchestrator) Stop() {
	o.monitor.Stop()
	o.autoscaler.Stop()
}

// CreateAgent generates a DAG from templateID+req, binds it to a new pool
// instance, and starts watching the resulting agent for health and
// autoscaling (spec.md §4.I).
func (o *Orchestrator) CreateAgent(ctx context.Context, templateID, userID string, req dag.Request) (InstanceDescriptor, error) {
	req.TemplateID = templateID
	d, err := o.generator.Generate(ctx, req)
	if err != nil {
		return InstanceDescriptor{}, err
	}
	o.dags.put(d)

	agentID := uuid.NewString()
	modelCfg, maxSessions := rootWorkerConfig(d)
	o.defs.put(agentID, agentDefinition{DAGID: d.ID, Config: modelCfg, Weight: 1, MaxSessions: maxSessions})

	inst, err := o.pool.Create(ctx, agentID)
	if err != nil {
		return InstanceDescriptor{}, err
	}

	o.monitor.Watch(agentID)
	o.autoscaler.Watch(agentID, 1, o.scalingRules...)

	if o.store != nil {
		doc := persist.ConfigDocument{
			InstanceID:     inst.ID,
			AgentID:        agentID,
			DAGID:          d.ID,
			UserID:         userID,
			TemplateID:     templateID,
			GenerationMode: string(req.Mode),
			DAG:            persist.FromDAG(d),
			Tools:          toolsDoc(d),
			Meta: persist.MetaDoc{
				Status:       string(inst.Status()),
				HealthStatus: string(inst.Health()),
			},
		}
		if agentCfg := rootAgentConfig(d); agentCfg != nil {
			doc.Agent = persist.AgentDoc{
				Name:          templateID,
				Instructions:  agentCfg.Instructions,
				ModelConfig:   map[string]any{"model": agentCfg.ModelConfig.Model},
				Temperature:   agentCfg.Temperature,
				MaxTokens:     agentCfg.MaxTokens,
				MemoryEnabled: len(agentCfg.KnowledgeBases) > 0,
			}
		}
		if err := o.store.Upsert(ctx, doc); err != nil {
			o.logger.Warn(ctx, "persist config failed", "instanceId", inst.ID, "err", err)
		}
	}

	return InstanceDescriptor{
		InstanceID:        inst.ID,
		AgentID:           agentID,
		DAGID:             d.ID,
		HealthStatus:      inst.Health(),
		EstimatedCost:     d.EstimatedCost,
		EstimatedTime:     d.EstimatedTime,
		OptimizationScore: d.OptimizationScore,
	}, nil
}

// Execute routes message to a replica of instanceId's agent (via G, which
// uses E+F) and runs its bound DAG to completion (via C), returning the
// executor's finalResult (spec.md §4.I).
func (o *Orchestrator) Execute(ctx context.Context, instanceID, message, userID string) (map[string]any, error) {
	inst, ok := o.pool.Get(instanceID)
	if !ok {
		return nil, orcherrors.New(orcherrors.InstanceNotFound, "orchestrator.Execute", nil)
	}
	payload := map[string]any{"message": message}
	_, resp, err := o.balancer.Route(ctx, inst.AgentID, "execute", payload, "", userID, "", nil)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Scale delegates directly to the instance pool (spec.md §4.I).
func (o *Orchestrator) Scale(ctx context.Context, agentID string, target int) (added, removed int, err error) {
	added, removed, err = o.pool.Scale(ctx, agentID, target)
	if err == nil {
		o.autoscaler.SetCurrent(agentID, len(o.pool.ListInstances(agentID)))
	}
	return added, removed, err
}

// rootWorkerConfig derives the one worker.Config an instance is created
// with from the DAG's agent nodes, in execution order: the first agent node
// sets the model; every agent node in the DAG still carries its own
// instructions/tools, but the underlying worker handle is shared per
// instance (spec.md §3 "AgentInstance... compiled DAG config").
func rootWorkerConfig(d *dag.DAG) (worker.Config, int) {
	for _, id := range d.ExecutionOrder {
		node := d.Nodes[id]
		if node.Type == dag.NodeAgent && node.Config.Agent != nil {
			cfg := node.Config.Agent
			return worker.Config{
				Model:       cfg.ModelConfig.Model,
				Temperature: cfg.Temperature,
				MaxTokens:   cfg.MaxTokens,
				Extra:       cfg.ModelConfig.Extra,
			}, 10
		}
	}
	return worker.Config{}, 10
}

func rootAgentConfig(d *dag.DAG) *dag.AgentConfig {
	for _, id := range d.ExecutionOrder {
		node := d.Nodes[id]
		if node.Type == dag.NodeAgent && node.Config.Agent != nil {
			return node.Config.Agent
		}
	}
	return nil
}

func toolsDoc(d *dag.DAG) persist.ToolsDoc {
	byNode := make(map[string][]string, len(d.ToolMapping))
	for node, ids := range d.ToolMapping {
		byNode[node] = append([]string(nil), ids...)
	}
	return persist.ToolsDoc{
		TotalTools: len(d.SelectedTools),
		ByCategory: map[string]int{},
		ByNode:     byNode,
		Details:    map[string]any{},
	}
}
