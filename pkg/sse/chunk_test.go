package sse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunk_Encode(t *testing.T) {
	tests := []struct {
		name  string
		chunk Chunk
		want  string
	}{
		{"content", Content("Hello "), `data: {"choices":[{"delta":{"content":"Hello "}}]}` + "\n\n"},
		{"finish", Finish(), `data: {"choices":[{"finish_reason":"stop"}]}` + "\n\n"},
		{"error", Error("Pipeline error: boom"), `data: {"error":"Pipeline error: boom"}` + "\n\n"},
		{"done", Done(), "data: [DONE]\n\n"},
		{"empty content keeps delta", Content(""), `data: {"choices":[{"delta":{"content":""}}]}` + "\n\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.chunk.Encode()
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestChunk_UnknownKind(t *testing.T) {
	_, err := Chunk{Kind: Kind(42)}.Encode()
	assert.Error(t, err)
	assert.Equal(t, "kind(42)", Kind(42).String())
}
