package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/mail-ledger/internal/domain"
	"github.com/dvloznov/mail-ledger/internal/store"
	"github.com/dvloznov/mail-ledger/internal/textfilter"
)

// PipelineStep is a single gate or transformation applied to one message.
type PipelineStep interface {
	Execute(ctx context.Context, state *MessageState) error
}

// MessageState holds the shared state across all pipeline steps for one message.
// A step that settles the outcome sets Outcome, which stops the pipeline.
type MessageState struct {
	Message       domain.RawMessage
	EffectiveBody string
	Positive      bool
	Candidate     domain.TransactionCandidate
	Stored        *domain.StoredTransaction
	Outcome       Outcome
}

// Done reports whether a step has already decided the message.
func (s *MessageState) Done() bool {
	return s.Outcome != ""
}

// Step 1: DedupStep skips messages the store already holds.
type DedupStep struct {
	Store TransactionStore
}

func (s *DedupStep) Execute(ctx context.Context, state *MessageState) error {
	exists, err := s.Store.Exists(ctx, state.Message.ID)
	if err != nil {
		return fmt.Errorf("DedupStep: checking %s: %w", state.Message.ID, err)
	}
	if exists {
		state.Outcome = OutcomeDuplicate
	}
	return nil
}

// Step 2: LexicalGateStep drops bodies without transaction vocabulary.
type LexicalGateStep struct{}

func (s *LexicalGateStep) Execute(ctx context.Context, state *MessageState) error {
	if !textfilter.IsBankTransaction(state.Message.Body) {
		state.Outcome = OutcomeNotTransaction
	}
	return nil
}

// Step 3: PotentialGateStep asks the model whether subject and sender look transactional.
type PotentialGateStep struct {
	Processor *Processor
}

func (s *PotentialGateStep) Execute(ctx context.Context, state *MessageState) error {
	if !s.Processor.IsPotentialTransaction(ctx, state.Message.Subject, state.Message.Sender) {
		state.Outcome = OutcomeNotPotential
	}
	return nil
}

// Step 4: SummarizeStep compresses the body, keeping the original when summarization fails.
type SummarizeStep struct {
	Processor *Processor
}

func (s *SummarizeStep) Execute(ctx context.Context, state *MessageState) error {
	state.EffectiveBody = state.Message.Body
	summary, err := s.Processor.Summarize(ctx, state.Message.Body)
	if err != nil {
		s.Processor.log.Warn().Err(err).Str("message_id", state.Message.ID).Msg("summarization failed, using original body")
		return nil
	}
	state.EffectiveBody = summary
	return nil
}

// Step 5: PositiveCheckStep records the completed-transaction heuristic. It never rejects.
type PositiveCheckStep struct {
	Processor *Processor
}

func (s *PositiveCheckStep) Execute(ctx context.Context, state *MessageState) error {
	state.Positive = textfilter.IsPositiveTransaction(state.EffectiveBody)
	s.Processor.log.Debug().
		Str("message_id", state.Message.ID).
		Bool("positive", state.Positive).
		Msg("positive transaction heuristic")
	return nil
}

// Step 6: ExtractStep asks the model for a structured candidate.
type ExtractStep struct {
	Processor *Processor
}

func (s *ExtractStep) Execute(ctx context.Context, state *MessageState) error {
	state.Candidate = s.Processor.extract(ctx, state.EffectiveBody, messageDate(state.Message))
	if !state.Candidate.IsTransaction() {
		state.Outcome = OutcomeNoTransaction
	}
	return nil
}

// Step 7: AcceptStep persists the candidate. A lost insert race counts as a duplicate.
type AcceptStep struct {
	Store TransactionStore
	Now   func() time.Time
}

func (s *AcceptStep) Execute(ctx context.Context, state *MessageState) error {
	tx := &domain.StoredTransaction{
		TransactionCandidate: state.Candidate,
		SourceMessageID:      state.Message.ID,
		ProcessedAt:          s.Now(),
	}

	if err := s.Store.Insert(ctx, tx); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			state.Outcome = OutcomeDuplicate
			return nil
		}
		return fmt.Errorf("AcceptStep: inserting %s: %w", state.Message.ID, err)
	}

	state.Stored = tx
	state.Outcome = OutcomeAccepted
	return nil
}

// Pipeline executes a sequence of steps in order until one settles the outcome.
type Pipeline struct {
	steps []PipelineStep
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs the steps sequentially.
func (p *Pipeline) Execute(ctx context.Context, state *MessageState) error {
	for i, step := range p.steps {
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("pipeline step %d failed: %w", i+1, err)
		}
		if state.Done() {
			return nil
		}
	}
	return nil
}

func messageDate(msg domain.RawMessage) civil.Date {
	if msg.Timestamp.IsZero() {
		return civil.DateOf(time.Now())
	}
	return civil.DateOf(msg.Timestamp)
}
