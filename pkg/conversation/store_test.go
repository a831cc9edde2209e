package conversation

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/pario-ai/costgate/pkg/config"
	"github.com/pario-ai/costgate/pkg/metrics"
	"github.com/pario-ai/costgate/pkg/models"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tickingClock returns a clock that advances one minute per call.
func tickingClock() func() time.Time {
	t := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Minute)
		return t
	}
}

func newTestStore(maxConvs, maxMsgs, window int) *Store {
	return New(config.ConversationConfig{
		MaxConversations: maxConvs,
		MaxMessages:      maxMsgs,
		ContextWindow:    window,
	}, WithClock(tickingClock()))
}

func TestStartPinsInstructions(t *testing.T) {
	s := newTestStore(5, 10, 20)
	limit := decimal.RequireFromString("1.50")
	id := s.Start("billing", "Answer tersely.", &limit)

	c, err := s.Get(id)
	require.NoError(t, err)
	require.Len(t, c.Messages, 1)
	assert.Equal(t, models.RoleDeveloper, c.Messages[0].Role)
	assert.Equal(t, "billing", c.Metadata.Topic)
	require.NotNil(t, c.Metadata.BudgetLimit)
	assert.True(t, c.Metadata.BudgetLimit.Equal(limit))

	instr, err := s.Instructions(id)
	require.NoError(t, err)
	assert.Equal(t, "Answer tersely.", instr)

	other := s.Start("misc", "", nil)
	assert.NotEqual(t, id, other)
	instr, err = s.Instructions(other)
	require.NoError(t, err)
	assert.Empty(t, instr)
}

func TestEvictsLeastRecentlyActive(t *testing.T) {
	s := newTestStore(5, 10, 20)
	ids := make([]string, 5)
	for i := range ids {
		ids[i] = s.Start(fmt.Sprintf("topic-%d", i), "", nil)
	}
	// Touch the first conversation so the second becomes the oldest.
	require.NoError(t, s.AddMessage(ids[0], models.RoleUser, "still here"))

	before := testutil.ToFloat64(metrics.ConversationEvictionsTotal)
	sixth := s.Start("topic-5", "", nil)

	assert.Equal(t, 5, s.Len())
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.ConversationEvictionsTotal))
	assert.Equal(t, float64(5), testutil.ToFloat64(metrics.ConversationsLive))
	_, err := s.Get(ids[1])
	assert.ErrorIs(t, err, ErrNotFound)
	for _, id := range []string{ids[0], ids[2], ids[3], ids[4], sixth} {
		_, err := s.Get(id)
		assert.NoError(t, err, id)
	}
}

func TestPinnedMessageSurvivesTrimming(t *testing.T) {
	s := newTestStore(5, 4, 20)
	id := s.Start("t", "You are terse.", nil)
	for i := range 25 {
		require.NoError(t, s.AddMessage(id, models.RoleUser, fmt.Sprintf("m%d", i)))

		c, err := s.Get(id)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(c.Messages), 4)
		assert.Equal(t, models.RoleDeveloper, c.Messages[0].Role)
		assert.Equal(t, "You are terse.", c.Messages[0].Content)
	}

	c, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, []string{"You are terse.", "m22", "m23", "m24"}, contents(c.Messages))
}

func TestTrimWithoutPin(t *testing.T) {
	s := newTestStore(5, 3, 20)
	id := s.Start("t", "", nil)
	for i := range 5 {
		require.NoError(t, s.AddMessage(id, models.RoleUser, fmt.Sprintf("m%d", i)))
	}
	c, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, []string{"m2", "m3", "m4"}, contents(c.Messages))
}

func TestFormatForAPIWindow(t *testing.T) {
	s := newTestStore(5, 50, 3)
	id := s.Start("t", "pinned", nil)
	for i := range 6 {
		require.NoError(t, s.AddMessage(id, models.RoleUser, fmt.Sprintf("m%d", i)))
	}
	next := &models.Message{Role: models.RoleUser, Content: "next"}

	msgs, err := s.FormatForAPI(id, next, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"m3", "m4", "m5", "next"}, contents(msgs))

	window := 2
	_, err = s.SetOptions(id, Options{ContextLimit: &window})
	require.NoError(t, err)
	msgs, err = s.FormatForAPI(id, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"m4", "m5"}, contents(msgs))

	msgs, err = s.FormatForAPI(id, nil, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2", "m3", "m4", "m5"}, contents(msgs))
}

func TestUpdateMetadataAccumulates(t *testing.T) {
	s := newTestStore(5, 10, 20)
	id := s.Start("t", "", nil)

	_, err := s.UpdateMetadata(id, decimal.RequireFromString("0.10"), 100)
	require.NoError(t, err)
	meta, err := s.UpdateMetadata(id, decimal.RequireFromString("0.05"), 50)
	require.NoError(t, err)

	assert.True(t, meta.TotalCost.Equal(decimal.RequireFromString("0.15")))
	assert.Equal(t, 150, meta.TokenCount)
}

func TestSetOptionsLeavesUnsetFields(t *testing.T) {
	s := newTestStore(5, 10, 20)
	budget := decimal.RequireFromString("2")
	id := s.Start("t", "", &budget)

	window := 4
	meta, err := s.SetOptions(id, Options{ContextLimit: &window})
	require.NoError(t, err)
	require.NotNil(t, meta.BudgetLimit)
	assert.True(t, meta.BudgetLimit.Equal(budget))
	assert.Equal(t, 4, *meta.ContextLimit)
}

func TestSetOptionsRejectsInvalidValues(t *testing.T) {
	s := newTestStore(5, 10, 20)
	id := s.Start("t", "", nil)

	negative := decimal.RequireFromString("-1")
	_, err := s.SetOptions(id, Options{BudgetLimit: &negative})
	assert.Error(t, err)

	for _, window := range []int{0, -3} {
		_, err := s.SetOptions(id, Options{ContextLimit: &window})
		assert.Error(t, err, "window %d", window)
	}

	meta, err := s.Metadata(id)
	require.NoError(t, err)
	assert.Nil(t, meta.BudgetLimit)
	assert.Nil(t, meta.ContextLimit)
}

func TestAddMessageRejectsDeveloperAndUnknownRoles(t *testing.T) {
	s := newTestStore(5, 10, 20)
	id := s.Start("t", "be terse", nil)

	assert.ErrorIs(t, s.AddMessage(id, models.RoleDeveloper, "new rules"), ErrInvalidRole)
	assert.ErrorIs(t, s.AddMessage(id, models.Role("bogus"), "x"), ErrInvalidRole)
	require.NoError(t, s.AddMessage(id, models.RoleSystem, "note"))

	c, err := s.Get(id)
	require.NoError(t, err)
	require.Len(t, c.Messages, 2)
	assert.Equal(t, models.RoleDeveloper, c.Messages[0].Role)
	assert.Equal(t, models.RoleSystem, c.Messages[1].Role)
}

func TestPinnedTrimStaysWithinMinimumCap(t *testing.T) {
	s := newTestStore(5, 1, 20)
	id := s.Start("t", "pinned", nil)
	for i := range 5 {
		require.NoError(t, s.AddMessage(id, models.RoleUser, fmt.Sprintf("m%d", i)))
	}

	c, err := s.Get(id)
	require.NoError(t, err)
	require.Len(t, c.Messages, minMessages)
	assert.Equal(t, "pinned", c.Messages[0].Content)
	assert.Equal(t, "m4", c.Messages[1].Content)
}

func TestNotFound(t *testing.T) {
	s := newTestStore(5, 10, 20)
	assert.ErrorIs(t, s.AddMessage("nope", models.RoleUser, "x"), ErrNotFound)
	_, err := s.FormatForAPI("nope", nil, 0)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Metadata("nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Export("nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete("nope"), ErrNotFound)
	assert.ErrorIs(t, s.Compact("nope", "x", 1), ErrNotFound)
}

func TestExportImportMintsNewID(t *testing.T) {
	s := newTestStore(5, 10, 20)
	id := s.Start("t", "pinned", nil)
	require.NoError(t, s.AddMessage(id, models.RoleUser, "hello"))
	require.NoError(t, s.AddMessage(id, models.RoleAssistant, "hi"))
	_, err := s.UpdateMetadata(id, decimal.RequireFromString("0.02"), 30)
	require.NoError(t, err)

	data, err := s.Export(id)
	require.NoError(t, err)

	imported, err := s.Import(data)
	require.NoError(t, err)
	assert.NotEqual(t, id, imported)

	orig, _ := s.Get(id)
	copied, err := s.Get(imported)
	require.NoError(t, err)
	assert.Equal(t, contents(orig.Messages), contents(copied.Messages))
	assert.True(t, copied.Metadata.TotalCost.Equal(orig.Metadata.TotalCost))
	assert.Equal(t, orig.Metadata.TokenCount, copied.Metadata.TokenCount)
}

func TestImportRejectsMalformed(t *testing.T) {
	s := newTestStore(5, 10, 20)
	tests := []struct {
		name string
		data string
		want string
	}{
		{"not json", `{"messages": [`, "invalid JSON"},
		{"not an object", `[1,2]`, "expected a JSON object"},
		{"unknown role", `{"messages":[{"role":"robot","content":"x"}]}`, "unknown role"},
		{"late developer", `{"messages":[{"role":"user","content":"x"},{"role":"developer","content":"y"}]}`, "must be first"},
		{"negative cost", `{"messages":[],"metadata":{"total_cost":"-1"}}`, "total_cost"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Import([]byte(tt.data))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
	assert.Equal(t, 0, s.Len())
}

func TestCompactKeepsPinAndRecent(t *testing.T) {
	s := newTestStore(5, 50, 20)
	id := s.Start("t", "pinned", nil)
	for i := range 6 {
		require.NoError(t, s.AddMessage(id, models.RoleUser, fmt.Sprintf("m%d", i)))
	}

	require.NoError(t, s.Compact(id, "talked about m0 to m3", 2))

	c, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, []string{"pinned", SummaryPrefix + "talked about m0 to m3", "m4", "m5"}, contents(c.Messages))
	assert.Equal(t, models.RoleSystem, c.Messages[1].Role)
}

func TestListAndDelete(t *testing.T) {
	s := newTestStore(5, 10, 20)
	a := s.Start("a", "", nil)
	b := s.Start("b", "", nil)

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, b, list[0].ID)

	require.NoError(t, s.Delete(a))
	list = s.List()
	require.Len(t, list, 1)
	assert.Equal(t, "b", list[0].Topic)
	assert.False(t, errors.Is(s.Delete(b), ErrNotFound))
}

func contents(msgs []models.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}
