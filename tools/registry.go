package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	orcherrors "github.com/agentmesh/orchestrator/errors"
	"github.com/agentmesh/orchestrator/telemetry"
)

// ServiceClient is the contract for a remote tool-providing service (spec.md
// §6: mcp-service, tools-service, system-service, and any MCP provider).
// Implementations are collaborators outside this module's scope; the
// registry only depends on this narrow interface.
type ServiceClient interface {
	// ListTools returns the service's current tool definitions.
	ListTools(ctx context.Context) ([]Definition, error)
	// Probe performs a lightweight health check against the service.
	Probe(ctx context.Context) error
	// Invoke forwards a tool call to the service and returns its raw result.
	Invoke(ctx context.Context, endpointPath string, action string, params map[string]any, timeout time.Duration) (map[string]any, error)
}

// BuiltinExecutor computes a builtin tool's result locally, without a
// ServiceClient round-trip (spec.md §4.A: "for builtin tools computes
// locally").
type BuiltinExecutor func(ctx context.Context, action string, params map[string]any) (map[string]any, error)

type serviceEntry struct {
	client           ServiceClient
	consecutiveFails int
	lastHealthy      bool
}

// Registry is the in-memory tool catalog (component A). Discovery and
// health-probe loops run in the background; the public API never blocks on
// them (spec.md §4.A "Failures").
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]*Tool             // toolId -> tool
	services map[string]*serviceEntry     // serviceName -> client state
	builtins map[string]BuiltinExecutor   // toolId -> local executor
	limiters map[string]*rate.Limiter     // toolId -> rate limiter

	discoveryInterval   time.Duration
	healthProbeInterval time.Duration

	logger  telemetry.Logger
	tracer  telemetry.Tracer
	onChange func()

	stopCh chan struct{}
	doneWG sync.WaitGroup
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry's logger. Defaults to a no-op logger.
func WithLogger(l telemetry.Logger) Option { return func(r *Registry) { r.logger = l } }

// WithTracer sets the registry's tracer. Defaults to a no-op tracer.
func WithTracer(t telemetry.Tracer) Option { return func(r *Registry) { r.tracer = t } }

// WithDiscoveryInterval overrides the default 5-minute discovery cadence.
func WithDiscoveryInterval(d time.Duration) Option {
	return func(r *Registry) { r.discoveryInterval = d }
}

// WithHealthProbeInterval overrides the default 60-second probe cadence.
func WithHealthProbeInterval(d time.Duration) Option {
	return func(r *Registry) { r.healthProbeInterval = d }
}

// WithOnChange registers a callback invoked after every index rebuild
// (register, discovery upsert, service removal). Used by integrators that
// want to observe registry churn without polling.
func WithOnChange(fn func()) Option { return func(r *Registry) { r.onChange = fn } }

// New constructs an empty Registry. Register builtin tools with
// RegisterBuiltin and remote services with RegisterService before calling
// Start.
func New(opts ...Option) *Registry {
	r := &Registry{
		tools:               make(map[string]*Tool),
		services:            make(map[string]*serviceEntry),
		builtins:            make(map[string]BuiltinExecutor),
		limiters:            make(map[string]*rate.Limiter),
		discoveryInterval:   5 * time.Minute,
		healthProbeInterval: 60 * time.Second,
		logger:              telemetry.NewNoopLogger(),
		tracer:              telemetry.NewNoopTracer(),
		stopCh:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterService attaches a remote service the registry will discover tools
// from and probe for health.
func (r *Registry) RegisterService(name string, client ServiceClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[name] = &serviceEntry{client: client}
}

// RegisterBuiltin registers a locally computed tool (e.g. calculator,
// reasoning) alongside its local executor.
func (r *Registry) RegisterBuiltin(def Definition, exec BuiltinExecutor) error {
	def.ServiceName = "builtin"
	def.Type = TypeBuiltin
	if err := r.Register(def); err != nil {
		return err
	}
	id := toolID(def.ServiceName, def.LocalName)
	r.mu.Lock()
	r.builtins[id] = exec
	r.mu.Unlock()
	return nil
}

// Register upserts a tool definition by id, idempotently. Unknown
// categories/types are rejected (spec.md §3: "logged and the tool skipped").
func (r *Registry) Register(def Definition) error {
	if !ValidType(def.Type) {
		r.logger.Warn(context.Background(), "skipping tool with unknown type", "tool", toolID(def.ServiceName, def.LocalName), "type", string(def.Type))
		return orcherrors.New(orcherrors.DAGInvalid, "tools.Register", fmt.Errorf("unknown tool type %q", def.Type))
	}
	if !ValidCategory(def.Category) {
		r.logger.Warn(context.Background(), "skipping tool with unknown category", "tool", toolID(def.ServiceName, def.LocalName), "category", string(def.Category))
		return orcherrors.New(orcherrors.DAGInvalid, "tools.Register", fmt.Errorf("unknown tool category %q", def.Category))
	}
	if len(def.Schema) > 0 {
		if _, err := parseSchema(def.Schema); err != nil {
			return orcherrors.New(orcherrors.DAGInvalid, "tools.Register", fmt.Errorf("invalid invocation schema for %s: %w", def.LocalName, err))
		}
	}

	id := toolID(def.ServiceName, def.LocalName)

	r.mu.Lock()
	existing, ok := r.tools[id]
	if ok {
		// Idempotent upsert: identity stays, metadata refreshes, stats survive.
		existing.DisplayName = def.DisplayName
		existing.Description = def.Description
		existing.Type = def.Type
		existing.Category = def.Category
		existing.EndpointPath = def.EndpointPath
		existing.Schema = def.Schema
		existing.PermissionLevel = def.PermissionLevel
		existing.RateLimit = def.RateLimit
		existing.Timeout = def.Timeout
		existing.IsEnabled = def.Enabled
	} else {
		r.tools[id] = &Tool{
			ID:              id,
			ServiceName:     def.ServiceName,
			LocalName:       def.LocalName,
			DisplayName:     def.DisplayName,
			Description:     def.Description,
			Type:            def.Type,
			Category:        def.Category,
			EndpointPath:    def.EndpointPath,
			Schema:          def.Schema,
			PermissionLevel: def.PermissionLevel,
			RateLimit:       def.RateLimit,
			Timeout:         def.Timeout,
			IsEnabled:       def.Enabled,
			isAvailable:     def.ServiceName == "builtin",
			HealthStatus:    HealthUnknown,
		}
		if def.ServiceName == "builtin" {
			r.tools[id].HealthStatus = HealthHealthy
		}
	}
	if def.RateLimit != nil && def.RateLimit.RequestsPerSecond > 0 {
		r.limiters[id] = rate.NewLimiter(rate.Limit(def.RateLimit.RequestsPerSecond), maxInt(def.RateLimit.Burst, 1))
	}
	r.mu.Unlock()

	r.notifyChange()
	return nil
}

// Start launches the discovery-refresh and health-probe background loops.
// Safe to call once; call Stop to terminate them.
func (r *Registry) Start(ctx context.Context) {
	r.doneWG.Add(2)
	go r.discoveryLoop(ctx)
	go r.healthProbeLoop(ctx)
}

// Stop terminates the background loops and waits for them to exit.
func (r *Registry) Stop() {
	close(r.stopCh)
	r.doneWG.Wait()
}

func (r *Registry) discoveryLoop(ctx context.Context) {
	defer r.doneWG.Done()
	ticker := time.NewTicker(r.discoveryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.DiscoverAll(ctx)
		}
	}
}

func (r *Registry) healthProbeLoop(ctx context.Context) {
	defer r.doneWG.Done()
	ticker := time.NewTicker(r.healthProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.probeAll(ctx)
		}
	}
}

// DiscoverAll concurrently calls every registered service's list endpoint and
// upserts returned definitions. Removing a service's tools after two
// consecutive unhealthy probes is done by the probe loop, not here. Discovery
// failures are localized per service and never surface from this call
// (spec.md §4.A).
func (r *Registry) DiscoverAll(ctx context.Context) {
	r.mu.RLock()
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	r.mu.RUnlock()

	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			r.discoverService(ctx, name)
		}(name)
	}
	wg.Wait()
}

func (r *Registry) discoverService(ctx context.Context, name string) {
	r.mu.RLock()
	entry, ok := r.services[name]
	r.mu.RUnlock()
	if !ok {
		return
	}

	defs, err := entry.client.ListTools(ctx)
	if err != nil {
		r.logger.Warn(ctx, "tool discovery failed", "service", name, "err", err)
		return
	}
	for _, def := range defs {
		def.ServiceName = name
		if def.Enabled == false && def.Type != "" {
			def.Enabled = true // every discovered tool with a Type is registered enabled; an explicit false is indistinguishable from an omitted field
		}
		if err := r.Register(def); err != nil {
			r.logger.Warn(ctx, "discovered tool rejected", "service", name, "tool", def.LocalName, "err", err)
		}
	}
}

func (r *Registry) probeAll(ctx context.Context) {
	r.mu.RLock()
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	r.mu.RUnlock()

	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			r.probeService(ctx, name)
		}(name)
	}
	wg.Wait()
}

func (r *Registry) probeService(ctx context.Context, name string) {
	r.mu.Lock()
	entry, ok := r.services[name]
	r.mu.Unlock()
	if !ok {
		return
	}

	err := entry.client.Probe(ctx)

	r.mu.Lock()
	if err != nil {
		entry.consecutiveFails++
		entry.lastHealthy = false
	} else {
		entry.consecutiveFails = 0
		entry.lastHealthy = true
	}
	remove := entry.consecutiveFails >= 2
	r.mu.Unlock()

	r.setServiceAvailability(name, err == nil)

	if remove {
		r.removeService(name)
	}
}

func (r *Registry) setServiceAvailability(service string, healthy bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.tools {
		if t.ServiceName == service {
			t.setServiceAvailable(healthy)
		}
	}
}

// removeService drops every tool owned by a service that has been unhealthy
// for two consecutive probes (spec.md §4.A "Lifecycle summary").
func (r *Registry) removeService(service string) {
	r.mu.Lock()
	for id, t := range r.tools {
		if t.ServiceName == service {
			delete(r.tools, id)
			delete(r.limiters, id)
		}
	}
	delete(r.services, service)
	r.mu.Unlock()
	r.notifyChange()
}

func (r *Registry) notifyChange() {
	if r.onChange != nil {
		r.onChange()
	}
}

// SelectForAgent returns enabled+available tools filtered by categories and
// types (empty slices mean unfiltered), sorted by (successRate desc,
// -avgResponseTime), truncated to maxTools. maxTools <= 0 means unbounded.
func (r *Registry) SelectForAgent(categories []Category, types []Type, maxTools int) []Tool {
	catSet := toSet(categories)
	typeSet := toSetT(types)

	r.mu.RLock()
	candidates := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		if !t.IsAvailable() {
			continue
		}
		if len(catSet) > 0 && !catSet[t.Category] {
			continue
		}
		if len(typeSet) > 0 && !typeSet[t.Type] {
			continue
		}
		candidates = append(candidates, t.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		si, sj := candidates[i].stats.SuccessRate, candidates[j].stats.SuccessRate
		if si != sj {
			return si > sj
		}
		ri, rj := candidates[i].stats.AvgResponseTime, candidates[j].stats.AvgResponseTime
		if ri != rj {
			return ri < rj
		}
		return candidates[i].ID < candidates[j].ID
	})

	if maxTools > 0 && len(candidates) > maxTools {
		candidates = candidates[:maxTools]
	}
	return candidates
}

// Schema describes one tool's invocation schema for model consumption.
type Schema struct {
	ToolID string
	Schema []byte
}

// SchemasFor returns the invocation schema list for the subset of ids that
// are still enabled and available, in the order requested.
func (r *Registry) SchemasFor(ids []string) []Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Schema, 0, len(ids))
	for _, id := range ids {
		t, ok := r.tools[id]
		if !ok || !t.IsAvailable() {
			continue
		}
		out = append(out, Schema{ToolID: id, Schema: t.Schema})
	}
	return out
}

// Get returns a copy of the tool with the given id.
func (r *Registry) Get(id string) (Tool, bool) {
	r.mu.RLock()
	t, ok := r.tools[id]
	r.mu.RUnlock()
	if !ok {
		return Tool{}, false
	}
	return t.Clone(), true
}

// Execute invokes a tool by id. Builtin tools compute locally; others
// forward to their owning service with the supplied timeout. Per-call
// counters and success rate are updated regardless of outcome. On
// service-level failure the tool is marked unavailable until the next probe
// succeeds.
func (r *Registry) Execute(ctx context.Context, toolID, action string, params map[string]any, timeout time.Duration) (map[string]any, error) {
	r.mu.RLock()
	t, ok := r.tools[toolID]
	limiter := r.limiters[toolID]
	builtin, isBuiltin := r.builtins[toolID]
	r.mu.RUnlock()

	if !ok {
		return nil, orcherrors.New(orcherrors.ToolUnavailable, "tools.Execute", fmt.Errorf("unknown tool %q", toolID))
	}
	if !t.IsAvailable() {
		return nil, orcherrors.New(orcherrors.ToolUnavailable, "tools.Execute", fmt.Errorf("tool %q unavailable", toolID))
	}
	if limiter != nil && !limiter.Allow() {
		return nil, orcherrors.New(orcherrors.ToolUnavailable, "tools.Execute", fmt.Errorf("tool %q rate limited", toolID))
	}

	if timeout <= 0 {
		timeout = t.Timeout
	}
	callCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	var result map[string]any
	var err error
	if isBuiltin {
		result, err = builtin(callCtx, action, params)
	} else {
		r.mu.RLock()
		entry, hasEntry := r.services[t.ServiceName]
		r.mu.RUnlock()
		if !hasEntry {
			err = fmt.Errorf("service %q not registered", t.ServiceName)
		} else {
			result, err = entry.client.Invoke(callCtx, t.EndpointPath, action, params, timeout)
		}
	}
	latency := time.Since(start)
	t.recordCall(err == nil, latency)

	if err != nil {
		if !isBuiltin {
			t.setServiceAvailable(false)
		}
		return nil, orcherrors.New(orcherrors.UpstreamFailure, "tools.Execute", err)
	}
	return result, nil
}

func toolID(service, local string) string { return service + "." + local }

func toSet(cats []Category) map[Category]bool {
	if len(cats) == 0 {
		return nil
	}
	m := make(map[Category]bool, len(cats))
	for _, c := range cats {
		m[c] = true
	}
	return m
}

func toSetT(types []Type) map[Type]bool {
	if len(types) == 0 {
		return nil
	}
	m := make(map[Type]bool, len(types))
	for _, t := range types {
		m[t] = true
	}
	return m
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
