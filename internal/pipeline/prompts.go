package pipeline

import (
	"fmt"
	"strings"

	"github.com/dvloznov/mail-ledger/internal/domain"
	"github.com/dvloznov/mail-ledger/internal/llm"
)

// summarizePrompt compresses a message body ahead of extraction.
const summarizePrompt = "Remove unnecessary text and summarize in less than 100 words. " +
	"Do not miss any transaction details. /no_think"

// detectionPrompt frames the potential-transaction check on subject and sender only.
const detectionPrompt = "You are a financial email classifier. Decide from the subject and sender alone " +
	"whether this email is likely to report a completed bank transaction. Respond only with JSON. /no_think"

// contentTemplate wraps the (summarized) body for the extractor.
const contentTemplate = "Content: %s"

func extractionPrompt() string {
	names := make([]string, 0, len(domain.Categories))
	for _, c := range domain.Categories {
		names = append(names, string(c))
	}

	return fmt.Sprintf(`You are a financial data extractor. Extract the transaction from the email content.

Return a JSON object with exactly these fields:
- amount: number, the transaction amount without currency symbols
- type: "credit" or "debit"
- vendor: string, the merchant, payee or payer
- date: string, the transaction date as YYYY-MM-DD
- ref: string, the transaction reference or UPI/IMPS number, empty if none
- category: one of %s

If not found or failed or unsuccessful set amount to 0 /no_think`, strings.Join(names, ", "))
}

func detectionInput(subject, sender string) string {
	return fmt.Sprintf("Email Subject: %s\nEmail Sender: %s\n\n"+
		`Respond as {"is_transaction": true/false, "confidence": 0.0-1.0}`, subject, sender)
}

func summarizeMessages(body string) []llm.Message {
	return []llm.Message{
		{Role: llm.RoleSystem, Content: summarizePrompt},
		{Role: llm.RoleUser, Content: body},
	}
}

func extractionMessages(body string) []llm.Message {
	return []llm.Message{
		{Role: llm.RoleSystem, Content: extractionPrompt()},
		{Role: llm.RoleUser, Content: fmt.Sprintf(contentTemplate, body)},
	}
}

func detectionMessages(subject, sender string) []llm.Message {
	return []llm.Message{
		{Role: llm.RoleSystem, Content: detectionPrompt},
		{Role: llm.RoleUser, Content: detectionInput(subject, sender)},
	}
}

// transactionSchema constrains the extractor output.
func transactionSchema() *llm.Schema {
	categories := make([]any, 0, len(domain.Categories))
	for _, c := range domain.Categories {
		categories = append(categories, string(c))
	}

	return &llm.Schema{
		Name:   SchemaFinancialTransaction,
		Strict: true,
		Definition: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"amount":   map[string]any{"type": "number"},
				"type":     map[string]any{"type": "string", "enum": []any{"credit", "debit"}},
				"vendor":   map[string]any{"type": "string"},
				"date":     map[string]any{"type": "string"},
				"ref":      map[string]any{"type": "string"},
				"category": map[string]any{"type": "string", "enum": categories},
			},
			"required":             []any{"amount", "type", "vendor", "date", "ref", "category"},
			"additionalProperties": false,
		},
	}
}

// checkSchema constrains the potential-transaction verdict.
func checkSchema() *llm.Schema {
	return &llm.Schema{
		Name:   SchemaTransactionCheck,
		Strict: true,
		Definition: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"is_transaction": map[string]any{"type": "boolean"},
				"confidence":     map[string]any{"type": "number"},
			},
			"required":             []any{"is_transaction", "confidence"},
			"additionalProperties": false,
		},
	}
}
