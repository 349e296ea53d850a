package model

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/schema"
)

func TestSessionIDColumnsFitMaxLength(t *testing.T) {
	want := fmt.Sprintf("varchar(%d)", MaxSessionIDLength)
	for _, row := range []interface{}{&Conversation{}, &ConversationTurn{}} {
		s, err := schema.Parse(row, &sync.Map{}, schema.NamingStrategy{})
		require.NoError(t, err)
		field := s.LookUpField("session_id")
		require.NotNil(t, field, s.Table)
		assert.Equal(t, want, strings.ToLower(field.TagSettings["TYPE"]), s.Table)
	}
}

func TestNewConversationRow_KeepsLongSessionID(t *testing.T) {
	id := strings.Repeat("s", MaxSessionIDLength)
	r := NewConversationRecord(id, "u-1", time.Now())
	turn := r.AppendTurn(TurnRecord{UserMessage: "q"}, time.Now())

	assert.Equal(t, id, NewConversationRow(r).SessionID)
	assert.Equal(t, id, NewTurnRow(id, turn).SessionID)
}
