package main

import (
	"bytes"
	"strings"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRange(t *testing.T) {
	r, err := parseRange("2024-08-05", "")
	require.NoError(t, err)
	assert.Equal(t, civil.Date{Year: 2024, Month: 8, Day: 5}, r.Start)
	assert.Equal(t, r.Start, r.End)

	r, err = parseRange("2024-08-05", "2024-08-07")
	require.NoError(t, err)
	assert.Len(t, r.Days(), 3)

	_, err = parseRange("2024-08-07", "2024-08-05")
	assert.Error(t, err)

	_, err = parseRange("yesterday", "")
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		text string
		want Classification
	}{
		{"Payment of $25.50 to Merchant X has been completed.", Classification{BankVocabulary: true, Completed: true}},
		{"A transfer of 200 EUR was made from your account.", Classification{BankVocabulary: true}},
		{"Meeting scheduled for tomorrow at 10 AM.", Classification{}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, classify(tt.text), tt.text)
	}
}

func TestClassifyCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetIn(strings.NewReader("Transaction successful: INR 1000 credited to your account."))
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"classify"})
	t.Cleanup(func() {
		rootCmd.SetIn(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())
	assert.JSONEq(t, `{"bank_vocabulary": true, "completed": true}`, out.String())
}
