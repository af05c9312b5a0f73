package ports

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseToolArgsWellFormed(t *testing.T) {
	args, err := ParseToolArgs(`{"query": "golang", "limit": 3}`)
	require.NoError(t, err)
	assert.Equal(t, "golang", args["query"])
	assert.Equal(t, float64(3), args["limit"])
}

func TestParseToolArgsRepairsMalformedJSON(t *testing.T) {
	cases := []string{
		`{"query": "golang",}`,
		`{'query': 'golang'}`,
		`{query: "golang"}`,
	}
	for _, raw := range cases {
		args, err := ParseToolArgs(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, "golang", args["query"], raw)
	}
}

func TestParseToolArgsRejectsGarbage(t *testing.T) {
	_, err := ParseToolArgs(`not even close [[[`)
	assert.Error(t, err)
}

func TestTokenUsageAdd(t *testing.T) {
	u := TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}
	u.Add(TokenUsage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3})
	assert.Equal(t, TokenUsage{PromptTokens: 11, CompletionTokens: 7, TotalTokens: 18}, u)
}
