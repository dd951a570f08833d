package textfilter

import "testing"

func TestIsBankTransaction(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"Meeting scheduled for tomorrow at 10 AM.", false},
		{"Your account has been debited with $50.00.", true},
		{"Your account has been debited with $50.00 for a recent transaction.", true},
		{"You received a payment of £150.00.", true},
		{"This is a test email.", false},
		{"A transfer of 200 EUR was made from your account.", true},
		{"WITHDRAWALS at ATM 0042", true},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			if got := IsBankTransaction(tt.text); got != tt.want {
				t.Errorf("IsBankTransaction(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestIsPositiveTransaction(t *testing.T) {
	positive := []string{
		"HDFC BANK Dear Customer, Rs.67.53 has been debited from your HDFC Bank RuPay Credit Card XX123 to APOLLO PHARMACY on 03-06-25. Your UPI transaction reference number is 438453534. If you did not authorize this transaction, © HDFC Bank",
		"You received a payment of £150.00.",
		"Transaction successful: INR 1000 credited to your account.",
		"Payment of $25.50 to Merchant X has been completed.",
	}
	negative := []string{
		"Meeting scheduled for tomorrow at 10 AM.",
		"This is a test email.",
		"Your transaction of $20 has failed.",
		"Payment of Rs. 500 is pending.",
		"Upcoming bill payment of $75 scheduled for next week.",
		"Your request to transfer $100 is currently processing.",
		"Transaction attempt for $99 was unsuccessful.",
		"The payment was cancelled by the user.",
		"Invoice #123 for $200 is due on 2024-12-31.",
		"Your transaction is on hold pending verification.",
		"Your payment of $50 could not be completed successfully at this time.",
	}

	for _, text := range positive {
		if !IsPositiveTransaction(text) {
			t.Errorf("IsPositiveTransaction(%q) = false, want true", text)
		}
	}
	for _, text := range negative {
		if IsPositiveTransaction(text) {
			t.Errorf("IsPositiveTransaction(%q) = true, want false", text)
		}
	}
}

func TestIsPositiveTransaction_NegativePhraseWins(t *testing.T) {
	// Both a financial and a processed term are present, the phrase still wins.
	texts := []string{
		"Payment due: the amount credited last month was completed.",
		"Your credited transfer is completed but on hold for review.",
	}
	for _, text := range texts {
		if IsPositiveTransaction(text) {
			t.Errorf("IsPositiveTransaction(%q) = true, want false", text)
		}
	}
}

func TestIsPositiveTransaction_RequiresProcessedTerm(t *testing.T) {
	if IsPositiveTransaction("A transfer of 200 EUR was made from your account.") {
		t.Error("financial term alone should not be enough")
	}
}

func TestTokenize(t *testing.T) {
	got := Tokenize("Rs.67.53 debited; REF#438")
	want := []string{"rs", "67", "53", "debited", "ref", "438"}
	if len(got) != len(want) {
		t.Fatalf("Tokenize = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token %d = %q, want %q", i, got[i], want[i])
		}
	}
}
