// Package orchestrator runs one conversational turn end to end: classify the
// utterance, route it to capabilities, synthesize the reply and commit the
// turn to the store.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xaenox/analyst-bot/internal/capability"
	"github.com/xaenox/analyst-bot/internal/classifier"
	"github.com/xaenox/analyst-bot/internal/memory"
	"github.com/xaenox/analyst-bot/internal/models"
	"github.com/xaenox/analyst-bot/internal/session"
	"github.com/xaenox/analyst-bot/internal/storage"
	"github.com/xaenox/analyst-bot/internal/synth"
)

type State string

const (
	StateIdle         State = "idle"
	StateClassifying  State = "classifying"
	StateRouting      State = "routing"
	StateInvoking     State = "invoking"
	StateSynthesizing State = "synthesizing"
	StatePersisting   State = "persisting"
	StateAborted      State = "aborted"
)

var (
	// ErrFatal wraps every error that aborts a turn.
	ErrFatal        = errors.New("orchestrator: turn aborted")
	ErrNoSession    = errors.New("orchestrator: no session")
	ErrNoConnection = errors.New("orchestrator: no warehouse connection")
)

// Apology is the reply of an aborted turn.
const Apology = "Sorry, something went wrong on my side and your message could not be processed. Please try again."

const defaultCommitTimeout = 10 * time.Second

// Diagnostics describes how a reply was produced.
type Diagnostics struct {
	Turn           int                      `json:"turn"`
	Classification models.Classification    `json:"classification"`
	Uncertain      bool                     `json:"uncertain"`
	Invocations    []models.Invocation      `json:"invocations"`
	Performance    models.PerformanceSample `json:"performance"`
	States         []State                  `json:"states"`
}

type Reply struct {
	Text        string      `json:"text"`
	Diagnostics Diagnostics `json:"diagnostics"`
}

type Config struct {
	WindowSize       int
	MinConfidence    float64
	MaxSearchResults int
	CommitTimeout    time.Duration
}

type Orchestrator struct {
	classifier  classifier.Classifier
	dispatcher  *capability.Dispatcher
	synthesizer *synth.Synthesizer
	store       storage.Storage
	config      Config
	logger      *zap.Logger
}

func New(c classifier.Classifier, d *capability.Dispatcher, s *synth.Synthesizer, store storage.Storage, config Config, logger *zap.Logger) *Orchestrator {
	if config.WindowSize <= 0 {
		config.WindowSize = 10
	}
	if config.CommitTimeout <= 0 {
		config.CommitTimeout = defaultCommitTimeout
	}
	return &Orchestrator{
		classifier:  c,
		dispatcher:  d,
		synthesizer: s,
		store:       store,
		config:      config,
		logger:      logger,
	}
}

type turn struct {
	diag  Diagnostics
	start time.Time
}

func (t *turn) enter(s State) {
	t.diag.States = append(t.diag.States, s)
}

// Handle processes one user utterance. A non-nil error always wraps ErrFatal;
// the returned reply then carries the apology text and the session stays
// usable.
func (o *Orchestrator) Handle(ctx context.Context, sess *session.Session, utterance string) (*Reply, error) {
	t := &turn{start: time.Now()}
	t.enter(StateIdle)

	if sess == nil {
		return o.abort(t, o.logger, ErrNoSession)
	}

	sess.LockTurn()
	defer sess.UnlockTurn()

	if sess.Closed() {
		return o.abort(t, o.logger.With(zap.String("session_id", sess.ID)), ErrNoSession)
	}

	t.diag.Turn = sess.LastTurn() + 1
	logger := o.logger.With(zap.String("session_id", sess.ID))

	recent, err := o.store.GetMessages(ctx, sess.ID, o.config.WindowSize)
	if err != nil {
		return o.abort(t, logger, fmt.Errorf("error loading conversation window: %w", err))
	}
	window := memory.FromMessages(o.config.WindowSize, recent).Messages()
	model := sess.SemanticModel()
	toggles := sess.Toggles()

	t.enter(StateClassifying)
	class := o.classifier.Classify(ctx, utterance, window, model != nil)
	class.Turn = t.diag.Turn
	t.diag.Classification = class
	t.diag.Uncertain = class.Uncertain(o.config.MinConfidence)
	if t.diag.Uncertain {
		logger.Info("Low confidence classification",
			zap.Int("turn", t.diag.Turn),
			zap.String("category", string(class.Category)),
			zap.Float64("confidence", class.Confidence),
			zap.String("source", string(class.Source)))
	}

	t.enter(StateRouting)
	stages := plan(class.Category, routeContext{
		utterance:       utterance,
		toggles:         toggles,
		model:           model,
		searchAvailable: o.dispatcher.SearchAvailable(),
		maxResults:      o.config.MaxSearchResults,
	})

	target := capability.Target{Warehouse: sess.Warehouse(), Tier: toggles.Tier}
	// every data query plan ends in execution
	if class.Category == models.CategoryDataQuery && len(stages) > 0 && target.Warehouse == nil {
		return o.abort(t, logger, ErrNoConnection)
	}

	t.enter(StateInvoking)
	for _, build := range stages {
		reqs := build(t.diag.Invocations)
		for _, req := range reqs {
			if needsWarehouse(req) && target.Warehouse == nil {
				return o.abort(t, logger, ErrNoConnection)
			}
		}
		invs, err := o.runStage(ctx, target, len(t.diag.Invocations)+1, reqs)
		if err != nil {
			return o.abort(t, logger, err)
		}
		t.diag.Invocations = append(t.diag.Invocations, invs...)
	}

	t.enter(StateSynthesizing)
	text := o.synthesizer.Synthesize(ctx, synth.Input{
		Utterance:      utterance,
		Classification: class,
		Invocations:    t.diag.Invocations,
		Window:         window,
		SemanticModel:  model != nil,
		WebSearch:      toggles.WebSearch,
		Tier:           toggles.Tier,
	})

	t.enter(StatePersisting)
	t.diag.Performance = models.NewPerformanceSample(t.diag.Turn, time.Since(t.start), model != nil, t.diag.Invocations)
	rec := &models.TurnRecord{
		SessionID:      sess.ID,
		Turn:           t.diag.Turn,
		UserMessage:    models.Message{Turn: t.diag.Turn, Role: models.RoleUser, Text: utterance, Timestamp: t.start.UTC()},
		Reply:          models.Message{Turn: t.diag.Turn, Role: models.RoleAssistant, Text: text, Timestamp: time.Now().UTC()},
		Classification: class,
		Invocations:    t.diag.Invocations,
		Performance:    t.diag.Performance,
	}

	// the commit must not be torn by the caller going away
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.config.CommitTimeout)
	defer cancel()
	if err := o.store.CommitTurn(commitCtx, rec); err != nil {
		return o.abort(t, logger, fmt.Errorf("error committing turn: %w", err))
	}
	sess.AdvanceTurn(t.diag.Turn)

	t.enter(StateIdle)
	logger.Info("Turn completed",
		zap.Int("turn", t.diag.Turn),
		zap.String("category", string(class.Category)),
		zap.String("mix", mixString(t.diag.Performance.Mix)),
		zap.Bool("success", t.diag.Performance.Success),
		zap.Duration("latency", t.diag.Performance.Total))

	return &Reply{Text: text, Diagnostics: t.diag}, nil
}

// runStage invokes the requests of one stage concurrently and returns their
// invocations in sequence order.
func (o *Orchestrator) runStage(ctx context.Context, target capability.Target, firstSeq int, reqs []models.CapabilityRequest) ([]models.Invocation, error) {
	invs := make([]models.Invocation, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			invs[i] = o.dispatcher.Invoke(gctx, target, firstSeq+i, req)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.SliceStable(invs, func(a, b int) bool { return invs[a].Seq < invs[b].Seq })
	return invs, nil
}

func (o *Orchestrator) abort(t *turn, logger *zap.Logger, cause error) (*Reply, error) {
	t.enter(StateAborted)
	err := fmt.Errorf("%w: %w", ErrFatal, cause)
	logger.Error("Turn aborted",
		zap.Int("turn", t.diag.Turn),
		zap.Error(cause))
	return &Reply{Text: Apology, Diagnostics: t.diag}, err
}

func mixString(mix []models.CapabilityID) string {
	parts := make([]string, len(mix))
	for i, c := range mix {
		parts[i] = string(c)
	}
	return strings.Join(parts, ",")
}
