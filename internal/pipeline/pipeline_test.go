package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/mail-ledger/internal/domain"
	"github.com/dvloznov/mail-ledger/internal/llm"
	"github.com/dvloznov/mail-ledger/internal/store"
	"github.com/dvloznov/mail-ledger/internal/store/memory"
)

// mockLLM is a mock implementation of llm.Client.
type mockLLM struct {
	CallFunc func(ctx context.Context, messages []llm.Message, schema *llm.Schema) (*llm.Response, error)

	mu    sync.Mutex
	calls []string
}

func (m *mockLLM) Call(ctx context.Context, messages []llm.Message, schema *llm.Schema) (*llm.Response, error) {
	name := "summarize"
	if schema != nil {
		name = schema.Name
	}
	m.mu.Lock()
	m.calls = append(m.calls, name)
	m.mu.Unlock()
	return m.CallFunc(ctx, messages, schema)
}

func (m *mockLLM) callCount(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c == name {
			n++
		}
	}
	return n
}

func chat(content string) *llm.Response {
	return &llm.Response{Choices: []llm.Choice{{Message: &llm.ChoiceMessage{Role: llm.RoleAssistant, Content: content}}}}
}

// scriptedLLM answers each request kind with a fixed reply.
func scriptedLLM(summary, extraction, check string) *mockLLM {
	return &mockLLM{
		CallFunc: func(ctx context.Context, messages []llm.Message, schema *llm.Schema) (*llm.Response, error) {
			switch {
			case schema == nil:
				return chat(summary), nil
			case schema.Name == SchemaFinancialTransaction:
				return chat(extraction), nil
			default:
				return chat(check), nil
			}
		},
	}
}

// mockStore is a mock implementation of TransactionStore.
type mockStore struct {
	ExistsFunc func(ctx context.Context, id string) (bool, error)
	InsertFunc func(ctx context.Context, tx *domain.StoredTransaction) error
}

func (m *mockStore) Exists(ctx context.Context, id string) (bool, error) {
	return m.ExistsFunc(ctx, id)
}

func (m *mockStore) Insert(ctx context.Context, tx *domain.StoredTransaction) error {
	return m.InsertFunc(ctx, tx)
}

var fixedNow = time.Date(2024, 8, 15, 10, 0, 0, 0, time.UTC)

func newTestProcessor(client llm.Client, st TransactionStore, prefilter bool) *Processor {
	return NewProcessor(client, st, Options{
		LLMPrefilter: prefilter,
		Now:          func() time.Time { return fixedNow },
	}, zerolog.Nop())
}

const debitExtraction = `{"amount": 67.53, "type": "debit", "vendor": "ACME Store", "date": "2024-08-15", "ref": "UPI123", "category": "Shopping"}`

func debitMessage(id string) domain.RawMessage {
	return domain.RawMessage{
		ID:        id,
		Subject:   "Transaction alert",
		Sender:    "alerts@bank.example",
		Timestamp: fixedNow,
		Body:      "Your account was debited with INR 67.53 at ACME Store. Ref UPI123.",
	}
}

func TestProcessMessages_ThreeMessageBatch(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	client := scriptedLLM("Debited INR 67.53 at ACME Store on 2024-08-15, ref UPI123.", debitExtraction, "")
	p := newTestProcessor(client, st, false)

	msgs := []domain.RawMessage{
		{ID: "promo", Subject: "Weekend offers", Body: "Big weekend sale on shoes, up to half off!", Timestamp: fixedNow},
		debitMessage("debit"),
		{ID: "news", Subject: "Garden weekly", Body: "This week in gardening: tomatoes and roses.", Timestamp: fixedNow},
	}

	var progress []int
	stored, err := p.ProcessMessages(ctx, msgs, func(processed, total int, msg domain.RawMessage) {
		assert.Equal(t, 3, total)
		progress = append(progress, processed)
	})
	require.NoError(t, err)

	require.Len(t, stored, 1)
	tx := stored[0]
	assert.Equal(t, "debit", tx.SourceMessageID)
	assert.Equal(t, 67.53, tx.Amount)
	assert.Equal(t, domain.TransactionDebit, tx.Type)
	assert.Equal(t, "ACME Store", tx.Vendor)
	assert.Equal(t, civil.Date{Year: 2024, Month: 8, Day: 15}, tx.Date)
	assert.Equal(t, "UPI123", tx.Reference)
	assert.Equal(t, domain.CategoryShopping, tx.Category)
	assert.Equal(t, fixedNow, tx.ProcessedAt)

	assert.Equal(t, []int{1, 2, 3}, progress)
	assert.Equal(t, 1, client.callCount("summarize"), "only the debit message reaches the model")
	assert.Equal(t, 1, client.callCount(SchemaFinancialTransaction))

	all, err := st.QueryTransactions(ctx, domain.SingleDay(tx.Date))
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestProcessMessage_Idempotent(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	client := scriptedLLM("summary", debitExtraction, "")
	p := newTestProcessor(client, st, false)

	outcome, tx, err := p.ProcessMessage(ctx, debitMessage("m1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, outcome)
	require.NotNil(t, tx)

	outcome, tx, err = p.ProcessMessage(ctx, debitMessage("m1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Nil(t, tx)

	assert.Equal(t, 1, client.callCount(SchemaFinancialTransaction), "dedup must short-circuit before any model call")
	assert.Equal(t, 1, client.callCount("summarize"))
}

func TestProcessMessage_LexicalGateRejects(t *testing.T) {
	client := scriptedLLM("summary", debitExtraction, "")
	p := newTestProcessor(client, memory.New(), true)

	outcome, _, err := p.ProcessMessage(context.Background(), domain.RawMessage{
		ID: "m1", Subject: "Hello", Body: "Lunch on Friday?",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotTransaction, outcome)
	assert.Empty(t, client.calls)
}

func TestProcessMessage_Sentinel(t *testing.T) {
	tests := []struct {
		name       string
		extraction string
		err        error
	}{
		{name: "zero amount", extraction: `{"amount": 0, "type": "", "vendor": "", "date": "", "ref": "", "category": "Other"}`},
		{name: "malformed json", extraction: `{"amount": 67.53, "type": "debit"`},
		{name: "unknown type", extraction: `{"amount": 12, "type": "sideways", "vendor": "x", "date": "2024-08-15", "ref": "", "category": "Other"}`},
		{name: "negative amount", extraction: `{"amount": -5, "type": "debit", "vendor": "x", "date": "2024-08-15", "ref": "", "category": "Other"}`},
		{name: "thinking only", extraction: `<think>no idea</think>`},
		{name: "call error", err: errors.New("connection refused")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			st := memory.New()
			client := &mockLLM{
				CallFunc: func(ctx context.Context, messages []llm.Message, schema *llm.Schema) (*llm.Response, error) {
					if schema == nil {
						return chat("summary"), nil
					}
					if tt.err != nil {
						return nil, tt.err
					}
					return chat(tt.extraction), nil
				},
			}
			p := newTestProcessor(client, st, false)

			outcome, tx, err := p.ProcessMessage(ctx, debitMessage("m1"))
			require.NoError(t, err)
			assert.Equal(t, OutcomeNoTransaction, outcome)
			assert.Nil(t, tx)

			exists, err := st.Exists(ctx, "m1")
			require.NoError(t, err)
			assert.False(t, exists, "sentinel must never be persisted")
		})
	}
}

func TestProcessMessage_SummaryFailureUsesOriginalBody(t *testing.T) {
	msg := debitMessage("m1")
	var extractionInput string
	client := &mockLLM{
		CallFunc: func(ctx context.Context, messages []llm.Message, schema *llm.Schema) (*llm.Response, error) {
			if schema == nil {
				return nil, errors.New("timeout")
			}
			extractionInput = messages[len(messages)-1].Content
			return chat(debitExtraction), nil
		},
	}
	p := newTestProcessor(client, memory.New(), false)

	outcome, _, err := p.ProcessMessage(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, outcome)
	assert.Equal(t, "Content: "+msg.Body, extractionInput)
}

func TestProcessMessage_SummaryFeedsExtraction(t *testing.T) {
	var extractionInput string
	client := &mockLLM{
		CallFunc: func(ctx context.Context, messages []llm.Message, schema *llm.Schema) (*llm.Response, error) {
			if schema == nil {
				return chat("<think>short</think>Debited 67.53 at ACME"), nil
			}
			extractionInput = messages[len(messages)-1].Content
			return chat(debitExtraction), nil
		},
	}
	p := newTestProcessor(client, memory.New(), false)

	_, _, err := p.ProcessMessage(context.Background(), debitMessage("m1"))
	require.NoError(t, err)
	assert.Equal(t, "Content: Debited 67.53 at ACME", extractionInput)
}

func TestProcessMessage_PotentialGate(t *testing.T) {
	tests := []struct {
		name        string
		checkReply  string
		checkErr    error
		wantOutcome Outcome
	}{
		{name: "model says yes", checkReply: `{"is_transaction": true, "confidence": 0.9}`, wantOutcome: OutcomeAccepted},
		{name: "model says no", checkReply: `{"is_transaction": false, "confidence": 0.8}`, wantOutcome: OutcomeNotPotential},
		{name: "call fails open", checkErr: errors.New("503"), wantOutcome: OutcomeAccepted},
		{name: "garbage fails open", checkReply: "I think so", wantOutcome: OutcomeAccepted},
		{name: "missing field fails open", checkReply: `{"confidence": 0.1}`, wantOutcome: OutcomeAccepted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &mockLLM{
				CallFunc: func(ctx context.Context, messages []llm.Message, schema *llm.Schema) (*llm.Response, error) {
					switch {
					case schema == nil:
						return chat("summary"), nil
					case schema.Name == SchemaTransactionCheck:
						if tt.checkErr != nil {
							return nil, tt.checkErr
						}
						return chat(tt.checkReply), nil
					default:
						return chat(debitExtraction), nil
					}
				},
			}
			p := newTestProcessor(client, memory.New(), true)

			outcome, _, err := p.ProcessMessage(context.Background(), debitMessage("m1"))
			require.NoError(t, err)
			assert.Equal(t, tt.wantOutcome, outcome)
			assert.Equal(t, 1, client.callCount(SchemaTransactionCheck))
			if tt.wantOutcome == OutcomeNotPotential {
				assert.Zero(t, client.callCount(SchemaFinancialTransaction))
			}
		})
	}
}

func TestProcessMessage_PrefilterDisabledSkipsCheck(t *testing.T) {
	client := scriptedLLM("summary", debitExtraction, `{"is_transaction": false, "confidence": 1}`)
	p := newTestProcessor(client, memory.New(), false)

	outcome, _, err := p.ProcessMessage(context.Background(), debitMessage("m1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, outcome)
	assert.Zero(t, client.callCount(SchemaTransactionCheck))
}

func TestProcessMessage_InsertRaceIsDuplicate(t *testing.T) {
	st := &mockStore{
		ExistsFunc: func(ctx context.Context, id string) (bool, error) { return false, nil },
		InsertFunc: func(ctx context.Context, tx *domain.StoredTransaction) error { return store.ErrDuplicate },
	}
	p := newTestProcessor(scriptedLLM("summary", debitExtraction, ""), st, false)

	outcome, tx, err := p.ProcessMessage(context.Background(), debitMessage("m1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Nil(t, tx)
}

func TestProcessMessages_StoreFailureAborts(t *testing.T) {
	storeErr := errors.New("connection reset")
	st := &mockStore{
		ExistsFunc: func(ctx context.Context, id string) (bool, error) { return false, storeErr },
		InsertFunc: func(ctx context.Context, tx *domain.StoredTransaction) error { return nil },
	}
	p := newTestProcessor(scriptedLLM("summary", debitExtraction, ""), st, false)

	_, err := p.ProcessMessages(context.Background(), []domain.RawMessage{debitMessage("a"), debitMessage("b")}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, storeErr)
	assert.True(t, strings.Contains(err.Error(), "message 1 of 2"))
}

func TestProcessMessages_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := scriptedLLM("summary", debitExtraction, "")
	st := memory.New()
	p := newTestProcessor(client, st, false)

	calls := 0
	msgs := []domain.RawMessage{debitMessage("a"), debitMessage("b"), debitMessage("c")}
	stored, err := p.ProcessMessages(ctx, msgs, func(processed, total int, msg domain.RawMessage) {
		calls++
		cancel()
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, stored, 1)
	assert.Equal(t, 1, calls)
}

func TestExtract_DateFallsBackToToday(t *testing.T) {
	client := scriptedLLM("", `{"amount": 10, "type": "credit", "vendor": "Employer", "date": "yesterday", "ref": "", "category": "bills"}`, "")
	p := newTestProcessor(client, memory.New(), false)

	c := p.Extract(context.Background(), "Salary credited")
	assert.Equal(t, 10.0, c.Amount)
	assert.Equal(t, domain.TransactionCredit, c.Type)
	assert.Equal(t, civil.DateOf(fixedNow), c.Date)
	assert.Equal(t, domain.CategoryBills, c.Category)
}

func TestSummarize_Error(t *testing.T) {
	client := scriptedLLM("<think>nothing useful</think>", "", "")
	p := newTestProcessor(client, memory.New(), false)

	_, err := p.Summarize(context.Background(), "body")
	assert.ErrorIs(t, err, llm.ErrNoContent)
}
