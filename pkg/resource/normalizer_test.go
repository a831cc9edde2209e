package resource

import (
	"fmt"
	"strings"
	"testing"

	"github.com/pario-ai/costgate/pkg/budget"
	"github.com/pario-ai/costgate/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestNormalizer(maxResources, perResource, maxTotal int) *Normalizer {
	return New(config.ResourceConfig{
		MaxResources:      maxResources,
		PerResourceTokens: perResource,
		MaxTotalTokens:    maxTotal,
	}, nil)
}

// prose returns roughly tokens estimated tokens of plain text.
func prose(tokens int) string {
	return strings.Repeat("word ", tokens*4/5)
}

func TestTruncatesLargeResource(t *testing.T) {
	n := newTestNormalizer(10, 1500, 100000)
	p := &Payload{Resources: []NamedResource{{Name: "big.txt", Text: prose(10000)}}}

	d := n.Normalize(p, 0)
	require.Equal(t, 1, d.Included)
	assert.Contains(t, d.Text, "--- Resource: big.txt ---")
	assert.Contains(t, d.Text, "--- End Resource ---")
	assert.Contains(t, d.Text, TruncationMarker(1500))

	start := strings.Index(d.Text, "\n") + 1
	end := strings.Index(d.Text, "\n"+TruncationMarker(1500))
	body := d.Text[start:end]
	assert.LessOrEqual(t, budget.EstimateTokenCount(body), 1500)
}

func TestCountCeiling(t *testing.T) {
	n := newTestNormalizer(2, 1500, 100000)
	p := &Payload{}
	for i := range 5 {
		p.Resources = append(p.Resources, NamedResource{Name: fmt.Sprintf("f%d", i), Text: "hello"})
	}

	d := n.Normalize(p, 0)
	assert.Equal(t, 2, d.Included)
	assert.Equal(t, 3, d.Omitted)
	assert.Contains(t, d.Text, "3 more resource(s) omitted")
	assert.Contains(t, d.Text, "--- Resource: f0 ---")
	assert.Contains(t, d.Text, "--- Resource: f1 ---")
	assert.NotContains(t, d.Text, "--- Resource: f2 ---")
}

func TestTokenCeiling(t *testing.T) {
	n := newTestNormalizer(20, 1500, 100000)
	p := &Payload{}
	for i := range 10 {
		p.Resources = append(p.Resources, NamedResource{Name: fmt.Sprintf("f%d", i), Text: prose(800)})
	}

	const ceiling = 2000
	d := n.Normalize(p, ceiling)
	assert.Greater(t, d.Truncated, 0)
	assert.Contains(t, d.Text, "truncated: token limit of 2000 reached")
	assert.LessOrEqual(t, d.Tokens, ceiling)
	assert.LessOrEqual(t, d.Included, 3)
	// First come, first served.
	assert.Contains(t, d.Text, "--- Resource: f0 ---")
}

func TestCapInvariantAcrossShapes(t *testing.T) {
	n := newTestNormalizer(4, 300, 700)
	for _, count := range []int{1, 3, 6, 12} {
		p := &Payload{}
		for i := range count {
			p.Resources = append(p.Resources, NamedResource{Name: fmt.Sprintf("r%d", i), Text: prose(50 + i*97)})
		}
		d := n.Normalize(p, 0)
		assert.LessOrEqual(t, d.Included, 4, "count %d", count)
		assert.LessOrEqual(t, d.Tokens, 700, "count %d", count)
		assert.LessOrEqual(t, budget.EstimateTokenCount(d.Text), 700, "count %d", count)
	}

	// One code block switches the whole digest to the denser estimate.
	mixed := &Payload{Resources: []NamedResource{
		{Name: "main.go", Text: "func main() {}"},
		{Name: "notes.txt", Text: strings.Repeat("word ", 4000)},
		{Name: "more.txt", Text: prose(400)},
	}}
	for _, ceiling := range []int{200, 650, 2000} {
		d := newTestNormalizer(10, 0, 0).Normalize(mixed, ceiling)
		assert.Equal(t, budget.EstimateTokenCount(d.Text), d.Tokens, "ceiling %d", ceiling)
		assert.LessOrEqual(t, d.Tokens, ceiling, "ceiling %d", ceiling)
		assert.Contains(t, d.Text, "--- Resource: main.go ---", "ceiling %d", ceiling)
	}
}

func TestPrettyPrintsJSON(t *testing.T) {
	n := newTestNormalizer(10, 1500, 8000)
	p := &Payload{Resources: []NamedResource{{Name: "cfg.json", Text: `{"a":1,"b":[1,2]}`}}}

	d := n.Normalize(p, 0)
	assert.Contains(t, d.Text, "{\n  \"a\": 1,")
}

func TestCollapsesBase64(t *testing.T) {
	n := newTestNormalizer(10, 1500, 8000)
	blob := strings.Repeat("QUJD", 200)
	p := &Payload{Text: "before " + blob + " after"}

	d := n.Normalize(p, 0)
	assert.NotContains(t, d.Text, blob)
	assert.Contains(t, d.Text, "[base64 data omitted: 800 characters]")
	assert.Contains(t, d.Text, "--- Resource: text ---")
}

func TestMalformedItemsSkipped(t *testing.T) {
	n := newTestNormalizer(10, 1500, 8000)
	p := &Payload{Content: []ContentItem{
		{Type: "image"},
		{Type: "text", Text: "kept"},
		{Type: "resource", Resource: &NamedResource{URI: "file:///empty"}},
		{Type: "resource", Resource: &NamedResource{URI: "file:///notes.md", Text: "notes"}},
	}}

	d := n.Normalize(p, 0)
	assert.Equal(t, 2, d.Skipped)
	assert.Equal(t, 2, d.Included)
	assert.Contains(t, d.Text, "kept")
	assert.Contains(t, d.Text, "--- Resource: file:///notes.md ---")
}

func TestParse(t *testing.T) {
	p, err := Parse([]byte(`{"resources":[{"uri":"a.json","content":{"k":"v"}},{"name":"b","content":"plain"}]}`))
	require.NoError(t, err)
	items := p.items()
	require.Len(t, items, 2)
	assert.Equal(t, "a.json", items[0].name)
	assert.JSONEq(t, `{"k":"v"}`, items[0].body)
	assert.Equal(t, "plain", items[1].body)

	p, err = Parse([]byte("just some text"))
	require.NoError(t, err)
	assert.Equal(t, "just some text", p.Text)

	_, err = Parse([]byte(`{"resources": [`))
	assert.Error(t, err)

	p, err = Parse(nil)
	require.NoError(t, err)
	assert.True(t, p.Empty())
}

func TestShapePriority(t *testing.T) {
	p := &Payload{
		Resources: []NamedResource{{Name: "r", Text: "from resources"}},
		Text:      "from text",
	}
	d := newTestNormalizer(10, 1500, 8000).Normalize(p, 0)
	assert.Contains(t, d.Text, "from resources")
	assert.NotContains(t, d.Text, "from text")
}
