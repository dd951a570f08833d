// Package pipeline classifies inbox messages and extracts financial transactions from them.
//
// Each message passes through ordered gates: dedup against the store, a lexical
// vocabulary check, an optional model pre-check on subject and sender, summarization,
// an advisory completed-transaction heuristic, structured extraction and finally
// persistence. Model failures never abort a batch: they fall back to the original
// body, to "potential" (fail-open) or to the no-transaction sentinel.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"

	"github.com/dvloznov/mail-ledger/internal/domain"
	"github.com/dvloznov/mail-ledger/internal/llm"
	"github.com/dvloznov/mail-ledger/internal/logger"
)

// TransactionStore is the part of store.Store the pipeline needs.
type TransactionStore interface {
	Exists(ctx context.Context, sourceMessageID string) (bool, error)
	Insert(ctx context.Context, tx *domain.StoredTransaction) error
}

// Options tunes the processor.
type Options struct {
	// LLMPrefilter enables the potential-transaction gate after the lexical gate.
	LLMPrefilter bool
	// Now stamps ProcessedAt; defaults to time.Now.
	Now func() time.Time
}

// ProgressFunc is called after each message with the number handled so far.
type ProgressFunc func(processed, total int, msg domain.RawMessage)

// Processor runs messages through the extraction pipeline.
type Processor struct {
	llm      llm.Client
	store    TransactionStore
	log      zerolog.Logger
	now      func() time.Time
	pipeline *Pipeline
}

// NewProcessor wires the gate steps around client and st.
func NewProcessor(client llm.Client, st TransactionStore, opts Options, log zerolog.Logger) *Processor {
	p := &Processor{
		llm:   client,
		store: st,
		log:   logger.Component(log, "pipeline"),
		now:   opts.Now,
	}
	if p.now == nil {
		p.now = time.Now
	}

	steps := []PipelineStep{
		&DedupStep{Store: st},
		&LexicalGateStep{},
	}
	if opts.LLMPrefilter {
		steps = append(steps, &PotentialGateStep{Processor: p})
	}
	steps = append(steps,
		&SummarizeStep{Processor: p},
		&PositiveCheckStep{Processor: p},
		&ExtractStep{Processor: p},
		&AcceptStep{Store: st, Now: p.now},
	)
	p.pipeline = NewPipeline(steps...)
	return p
}

// ProcessMessage runs one message through every gate. The returned error is
// non-nil only when the store fails; model failures are absorbed.
func (p *Processor) ProcessMessage(ctx context.Context, msg domain.RawMessage) (Outcome, *domain.StoredTransaction, error) {
	state := &MessageState{Message: msg}
	if err := p.pipeline.Execute(ctx, state); err != nil {
		return "", nil, fmt.Errorf("ProcessMessage: %w", err)
	}

	evt := p.log.Info()
	if state.Outcome != OutcomeAccepted {
		evt = p.log.Debug()
	}
	evt.Str("message_id", msg.ID).
		Str("subject", msg.Subject).
		Str("outcome", string(state.Outcome)).
		Msg("message processed")

	return state.Outcome, state.Stored, nil
}

// ProcessMessages processes msgs in order and returns the transactions stored.
// Cancellation is checked before each message; a cancelled context returns
// what was stored so far together with ctx.Err().
func (p *Processor) ProcessMessages(ctx context.Context, msgs []domain.RawMessage, progress ProgressFunc) ([]domain.StoredTransaction, error) {
	stored := []domain.StoredTransaction{}
	for i, msg := range msgs {
		if err := ctx.Err(); err != nil {
			return stored, err
		}

		outcome, tx, err := p.ProcessMessage(ctx, msg)
		if err != nil {
			return stored, fmt.Errorf("ProcessMessages: message %d of %d: %w", i+1, len(msgs), err)
		}
		if outcome == OutcomeAccepted && tx != nil {
			stored = append(stored, *tx)
		}
		if progress != nil {
			progress(i+1, len(msgs), msg)
		}
	}
	return stored, nil
}

// Summarize compresses body while keeping transaction details.
func (p *Processor) Summarize(ctx context.Context, body string) (string, error) {
	resp, err := p.llm.Call(ctx, summarizeMessages(body), nil)
	if err != nil {
		return "", fmt.Errorf("Summarize: %w", err)
	}
	text, err := llm.Text(resp)
	if err != nil {
		return "", fmt.Errorf("Summarize: %w", err)
	}
	return text, nil
}

// Extract returns the structured candidate for body, or the sentinel on any failure.
// A missing or malformed date defaults to today.
func (p *Processor) Extract(ctx context.Context, body string) domain.TransactionCandidate {
	return p.extract(ctx, body, civil.DateOf(p.now()))
}

func (p *Processor) extract(ctx context.Context, body string, fallbackDate civil.Date) domain.TransactionCandidate {
	resp, err := p.llm.Call(ctx, extractionMessages(body), transactionSchema())
	if err != nil {
		p.log.Warn().Err(err).Msg("extraction call failed")
		return domain.NoTransaction()
	}

	var raw map[string]interface{}
	if err := llm.DecodeJSON(resp, &raw); err != nil {
		p.log.Warn().Err(err).Msg("extraction output is not valid JSON")
		return domain.NoTransaction()
	}

	candidate, err := transformCandidate(raw, fallbackDate)
	if err != nil {
		p.log.Warn().Err(err).Msg("extraction output failed validation")
		return domain.NoTransaction()
	}
	if err := validateCandidate(candidate); err != nil {
		p.log.Warn().Err(err).Msg("extraction output failed validation")
		return domain.NoTransaction()
	}
	return candidate
}

type transactionCheck struct {
	IsTransaction *bool   `json:"is_transaction"`
	Confidence    float64 `json:"confidence"`
}

// IsPotentialTransaction asks the model whether subject and sender suggest a transaction.
// It fails open: any call or parse failure returns true.
func (p *Processor) IsPotentialTransaction(ctx context.Context, subject, sender string) bool {
	resp, err := p.llm.Call(ctx, detectionMessages(subject, sender), checkSchema())
	if err != nil {
		p.log.Warn().Err(err).Msg("potential transaction check failed, assuming potential")
		return true
	}

	var check transactionCheck
	if err := llm.DecodeJSON(resp, &check); err != nil || check.IsTransaction == nil {
		p.log.Warn().Err(err).Msg("potential transaction check unreadable, assuming potential")
		return true
	}

	p.log.Debug().
		Bool("is_transaction", *check.IsTransaction).
		Float64("confidence", check.Confidence).
		Str("subject", subject).
		Msg("potential transaction check")
	return *check.IsTransaction
}
