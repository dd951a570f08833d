package pipeline

// Schema names sent with structured-output requests.
const (
	SchemaFinancialTransaction = "FinancialTransaction"
	SchemaTransactionCheck     = "TransactionCheck"
)

// Outcome is the verdict of the pipeline for one message.
type Outcome string

const (
	// OutcomeDuplicate: the message was already recorded, or lost an insert race.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeNotTransaction: the lexical gate found no transaction vocabulary.
	OutcomeNotTransaction Outcome = "not_transaction"
	// OutcomeNotPotential: the model gate rejected subject and sender.
	OutcomeNotPotential Outcome = "not_potential"
	// OutcomeNoTransaction: extraction produced the sentinel.
	OutcomeNoTransaction Outcome = "no_transaction"
	// OutcomeAccepted: a transaction was stored.
	OutcomeAccepted Outcome = "accepted"
)
