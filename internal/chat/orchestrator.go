package chat

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/llm"
	"github.com/parleyhq/parley/internal/store"
	"github.com/parleyhq/parley/internal/tools"
)

// maxToolTurns caps the number of request/stream cycles one reply may
// spend on tool use.
const maxToolTurns = 10

// GenerateOptions override model resolution for a single reply.
type GenerateOptions struct {
	Provider string
	Model    string
}

// generation is the per-reply state: one ledger, one accumulator, one
// cancel function. It exists only while the reply is in flight.
type generation struct {
	messageID string
	ledger    *Ledger
	cancel    context.CancelFunc

	emitMu  sync.Mutex
	sink    EventSink
	endOnce sync.Once
}

func (g *generation) emit(ev StreamEvent) {
	g.emitMu.Lock()
	defer g.emitMu.Unlock()
	if g.sink != nil {
		g.sink(ev)
	}
}

// emitEnd delivers SessionEnd at most once per reply, no matter how many
// paths race to finish it.
func (g *generation) emitEnd() {
	g.endOnce.Do(func() {
		g.emit(SessionEndEvent(g.messageID))
	})
}

// Orchestrator turns one user turn into a finalized assistant reply,
// driving the stream decoder and tool executor until the model stops
// requesting tools. Each reply gets its own ledger and accumulator;
// replies on different topics may run concurrently.
type Orchestrator struct {
	cfg      *config.Config
	store    store.Store
	registry *llm.Registry
	host     ToolHost
	sink     EventSink
	accs     *AccumulatorStore

	mu     sync.Mutex
	active map[string]*generation
}

func NewOrchestrator(cfg *config.Config, st store.Store, registry *llm.Registry, host ToolHost, sink EventSink) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		store:    st,
		registry: registry,
		host:     host,
		sink:     sink,
		accs:     NewAccumulatorStore(),
	}
}

// Accumulators exposes the session-wide accumulator store for inspection,
// export and cleanup.
func (o *Orchestrator) Accumulators() *AccumulatorStore {
	return o.accs
}

// Generate produces one assistant reply for a topic and blocks until the
// reply is finalized, failed, or aborted. Exactly one reply message is
// created per call.
func (o *Orchestrator) Generate(ctx context.Context, topicID string, opts GenerateOptions) (*store.Message, error) {
	topic, err := o.store.GetTopic(ctx, topicID)
	if err != nil {
		return nil, fmt.Errorf("load topic: %w", err)
	}
	if topic == nil {
		return nil, ErrTopicNotFound
	}

	history, err := o.store.ListMessages(ctx, topicID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	if len(history) == 0 {
		return nil, ErrEmptyHistory
	}

	providerName, adapter, model, err := o.resolveModel(topic, opts)
	if err != nil {
		return nil, err
	}

	placeholder := &store.Message{
		TopicID:  topicID,
		Role:     "assistant",
		Content:  "",
		Status:   store.StatusPending,
		Sequence: -1,
	}
	if err := o.store.CreateMessage(ctx, placeholder); err != nil {
		return nil, fmt.Errorf("create placeholder message: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	gen := &generation{
		messageID: placeholder.ID,
		ledger:    NewLedger(),
		cancel:    cancel,
		sink:      o.sink,
	}

	o.mu.Lock()
	if _, busy := o.active[topicID]; busy {
		o.mu.Unlock()
		cancel()
		return nil, fmt.Errorf("topic %s already has a reply in flight", topicID)
	}
	if o.active == nil {
		o.active = make(map[string]*generation)
	}
	o.active[topicID] = gen
	o.mu.Unlock()

	defer func() {
		cancel()
		o.mu.Lock()
		delete(o.active, topicID)
		o.mu.Unlock()
		// The ledger dies with the generation; the accumulator stays in
		// the store for later inspection.
		gen.ledger.Clear()
	}()

	acc := o.accs.GetOrCreate(placeholder.ID)
	acc.MutateDiagnostics(func(d *Diagnostics) {
		d.Provider = providerName
		d.Model = model
		d.StartedAt = time.Now()
	})

	err = o.run(ctx, gen, acc, history, adapter, model)

	acc.MutateDiagnostics(func(d *Diagnostics) {
		d.FinishedAt = time.Now()
	})

	switch {
	case err == nil:
		o.finalize(topic, placeholder, acc, providerName, model)
		gen.emitEnd()
	case errors.Is(err, context.Canceled) || gen.ledger.Aborted():
		o.persistAborted(placeholder, acc)
		gen.emitEnd()
		return placeholder, ErrAborted
	default:
		o.fail(gen, placeholder, acc, err)
		gen.emitEnd()
		return placeholder, err
	}

	return placeholder, nil
}

// resolveModel picks the provider and model for a reply. Precedence:
// explicit options, then the topic's saved model when remembering is on
// and its provider still resolves, then the configured default.
func (o *Orchestrator) resolveModel(topic *store.Topic, opts GenerateOptions) (string, llm.Adapter, string, error) {
	try := func(provider, model string) (string, llm.Adapter, string, bool) {
		if provider == "" {
			return "", nil, "", false
		}
		adapter, err := o.registry.Get(provider)
		if err != nil {
			return "", nil, "", false
		}
		return provider, adapter, model, true
	}

	if opts.Provider != "" {
		adapter, err := o.registry.Get(opts.Provider)
		if err != nil {
			return "", nil, "", fmt.Errorf("%w: %v", ErrNoModelConfigured, err)
		}
		return opts.Provider, adapter, opts.Model, nil
	}

	if o.cfg.RememberModel {
		if provider, adapter, model, ok := try(topic.Provider, topic.Model); ok {
			return provider, adapter, model, nil
		}
	}

	if provider, adapter, model, ok := try(o.cfg.DefaultProvider, o.registry.DefaultModel()); ok {
		return provider, adapter, model, nil
	}

	return "", nil, "", ErrNoModelConfigured
}

// discoverTools asks the host for its tool list. Discovery failure falls
// back to the built-in echo tool instead of failing the whole turn.
func (o *Orchestrator) discoverTools(ctx context.Context, acc *Accumulator) ([]llm.ToolSpec, ToolHost) {
	if o.host != nil {
		specs, err := o.host.Tools(ctx)
		if err == nil && len(specs) > 0 {
			return specs, o.host
		}
		if err != nil {
			acc.SetMetadata("tool_discovery_error", err.Error())
		}
	}

	fallback := tools.NewRegistry()
	fallback.Register(tools.NewEchoTool())
	return fallback.AllSpecs(), fallback
}

// run drives request/stream cycles until the model stops requesting
// tools or the turn budget runs out.
func (o *Orchestrator) run(ctx context.Context, gen *generation, acc *Accumulator, history []store.Message, adapter llm.Adapter, model string) error {
	messages := buildConversation(history)
	specs, host := o.discoverTools(ctx, acc)

	gen.emit(SessionStartEvent(gen.messageID))
	gen.emit(ModelResponseWaitingEvent(gen.messageID))

	executor := newToolExecutor(host, gen.ledger, acc, gen.messageID, gen.emit)

	parentID := ""
	chainStarted := false

	for turn := 0; turn < maxToolTurns; turn++ {
		stream, err := adapter.Stream(ctx, llm.Request{
			Model:    model,
			Messages: messages,
			Tools:    specs,
		})
		if err != nil {
			return fmt.Errorf("issue request: %w", err)
		}

		decoder := newStreamDecoder(gen.ledger, acc, gen.messageID, parentID, acc.FullContent(), gen.emit)
		result, err := decoder.run(stream)
		if err != nil {
			return fmt.Errorf("read stream: %w", err)
		}

		if len(result.completed) == 0 {
			break
		}

		if !chainStarted {
			chainStarted = true
			gen.emit(ToolChainStartEvent(gen.messageID))
		}

		var calls []llm.ToolCall
		for _, c := range result.completed {
			calls = append(calls, llm.ToolCall{ID: c.ID, Name: c.Name, Arguments: c.Args})
		}
		messages = append(messages, llm.AssistantTurn(result.text, calls))

		batch, err := executor.execute(ctx, result.completed)
		if err != nil {
			return err
		}
		messages = append(messages, batch.messages...)

		// Each batch settles its calls, so completion is recomputed here
		// and reported before the model's follow-up turn streams. A later
		// batch that grows the tree reports completion again.
		var rootIDs []string
		complete := true
		for _, root := range gen.ledger.RootCalls() {
			rootIDs = append(rootIDs, root.ID)
			if !gen.ledger.ChainCompleted(root.ID) {
				complete = false
			}
		}
		if complete && len(rootIDs) > 0 {
			gen.emit(ToolChainCompleteEvent(gen.messageID, rootIDs))
		}

		// Calls the model makes while reasoning over these results are
		// children of the first successful call in this batch.
		parentID = batch.firstSuccessID
	}

	return ctx.Err()
}

// finalize persists the reply's content, summary and status, and records
// the model used on the topic.
func (o *Orchestrator) finalize(topic *store.Topic, msg *store.Message, acc *Accumulator, providerName, model string) {
	ctx := context.Background()

	msg.Content = acc.FullContent()
	msg.Status = store.StatusSuccess
	msg.ToolSummary = acc.ToolResultSummary()
	if err := o.store.UpdateMessage(ctx, msg); err != nil {
		fmt.Fprintf(os.Stderr, "warning: persist reply %s: %v\n", msg.ID, err)
	}

	if err := o.store.UpdateTopicModel(ctx, topic.ID, providerName, model); err != nil {
		fmt.Fprintf(os.Stderr, "warning: save topic model: %v\n", err)
	}
	if err := o.store.UpdatePreview(ctx, topic.ID, firstLine(msg.Content)); err != nil {
		fmt.Fprintf(os.Stderr, "warning: update preview: %v\n", err)
	}
	if err := o.store.IncrementMessageCount(ctx, topic.ID); err != nil {
		fmt.Fprintf(os.Stderr, "warning: bump message count: %v\n", err)
	}
}

// fail overwrites the placeholder with a human-readable error. Partial
// streamed content is discarded in favor of the error string.
func (o *Orchestrator) fail(gen *generation, msg *store.Message, acc *Accumulator, genErr error) {
	gen.emit(SessionErrorEvent(gen.messageID, genErr))

	acc.MutateDiagnostics(func(d *Diagnostics) {
		d.LastError = genErr.Error()
	})

	msg.Content = fmt.Sprintf("Generation failed: %v", genErr)
	msg.Status = store.StatusError
	msg.ToolSummary = acc.ToolResultSummary()
	if err := o.store.UpdateMessage(context.Background(), msg); err != nil {
		fmt.Fprintf(os.Stderr, "warning: persist error reply %s: %v\n", msg.ID, err)
	}
}

// persistAborted records the abort outcome, keeping whatever content was
// streamed before the user cancelled.
func (o *Orchestrator) persistAborted(msg *store.Message, acc *Accumulator) {
	msg.Content = acc.FullContent()
	msg.Status = store.StatusAborted
	msg.ToolSummary = acc.ToolResultSummary()
	if err := o.store.UpdateMessage(context.Background(), msg); err != nil {
		fmt.Fprintf(os.Stderr, "warning: persist aborted reply %s: %v\n", msg.ID, err)
	}
}

// Abort cancels the in-flight reply on a topic, if any. Cancellation is
// cooperative but real: the context threaded through the HTTP stream and
// the tool race is cancelled, the ledger marks every live call aborted,
// and the consumer sees one Abort and one SessionEnd. Calling Abort again
// is a no-op. The accumulator is retained for inspection.
func (o *Orchestrator) Abort(topicID string) {
	o.mu.Lock()
	gen, ok := o.active[topicID]
	o.mu.Unlock()
	if !ok {
		return
	}

	if !gen.ledger.Abort() {
		return
	}

	gen.emit(AbortEvent(gen.messageID, "user requested abort"))
	gen.cancel()
	gen.emitEnd()
}

// buildConversation converts stored history into provider-agnostic
// messages. Pending placeholders and failed replies are skipped.
func buildConversation(history []store.Message) []llm.Message {
	var messages []llm.Message
	for _, msg := range history {
		if msg.Status == store.StatusPending || msg.Status == store.StatusError {
			continue
		}
		if msg.Content == "" {
			continue
		}
		switch msg.Role {
		case "system":
			messages = append(messages, llm.SystemText(msg.Content))
		case "user":
			messages = append(messages, llm.UserText(msg.Content))
		case "assistant":
			messages = append(messages, llm.AssistantText(msg.Content))
		}
	}
	return messages
}
