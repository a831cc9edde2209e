package resource

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/pario-ai/costgate/pkg/budget"
	"github.com/pario-ai/costgate/pkg/config"
	"go.uber.org/zap"
)

// base64Run matches long runs of base64 alphabet characters.
var base64Run = regexp.MustCompile(`[A-Za-z0-9+/=]{512,}`)

// Digest is the normalized, bounded rendering of a payload.
type Digest struct {
	Text      string
	Tokens    int
	Included  int
	Omitted   int
	Truncated int
	Skipped   int
}

// Normalizer renders payloads within per-resource and per-call token caps.
type Normalizer struct {
	maxResources int
	perResource  int
	maxTotal     int
	logger       *zap.Logger
}

// New creates a Normalizer from cfg.
func New(cfg config.ResourceConfig, logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{
		maxResources: cfg.MaxResources,
		perResource:  cfg.PerResourceTokens,
		maxTotal:     cfg.MaxTotalTokens,
		logger:       logger,
	}
}

// Normalize renders p in arrival order. ceiling further limits the configured
// total when positive. Items that fail to render are logged and skipped.
//
// Sizing is done in runes at the ratio EstimateTokenCount will apply to the
// whole digest, so the estimate of Text never exceeds the effective limit.
func (n *Normalizer) Normalize(p *Payload, ceiling int) Digest {
	limit := n.maxTotal
	if ceiling > 0 && (limit <= 0 || ceiling < limit) {
		limit = ceiling
	}

	items := p.items()
	bodies := make([]string, len(items))
	var sample strings.Builder
	for i, it := range items {
		if it.err != nil {
			continue
		}
		bodies[i] = clean(it.body)
		sample.WriteString(header(it.name))
		sample.WriteString(bodies[i])
	}
	ratio := budget.CharsPerToken(sample.String())

	var d Digest
	var blocks []string
	used := 0
	budgetRunes := (limit - noticeTokens) * ratio

	for i, it := range items {
		if n.maxResources > 0 && d.Included >= n.maxResources {
			d.Omitted = len(items) - i
			blocks = append(blocks, fmt.Sprintf("[... %d more resource(s) omitted: resource limit of %d reached ...]", d.Omitted, n.maxResources))
			break
		}
		if it.err != nil {
			n.logger.Warn("skipping resource", zap.String("resource", it.name), zap.Error(it.err))
			d.Skipped++
			continue
		}

		head, foot := header(it.name), footer()
		frame := runeLen(head) + runeLen(foot) + 2 + markerTokens*ratio
		if len(blocks) > 0 {
			frame += 2
		}
		room := budgetRunes - used - frame
		if limit > 0 && room <= 0 {
			d.Truncated = len(items) - i
			blocks = append(blocks, fmt.Sprintf("[... %d resource(s) truncated: token limit of %d reached ...]", d.Truncated, limit))
			break
		}

		capRunes := n.perResource * ratio
		if limit > 0 && (capRunes <= 0 || room < capRunes) {
			capRunes = room
		}
		block := head + "\n" + truncate(bodies[i], capRunes, ratio) + "\n" + foot
		if len(blocks) > 0 {
			used += 2
		}
		used += runeLen(block)
		blocks = append(blocks, block)
		d.Included++
	}

	d.Text = strings.Join(blocks, "\n\n")
	d.Tokens = budget.EstimateTokenCount(d.Text)
	if d.Included > 0 || d.Omitted > 0 || d.Truncated > 0 {
		n.logger.Debug("resources normalized",
			zap.Int("included", d.Included),
			zap.Int("omitted", d.Omitted),
			zap.Int("truncated", d.Truncated),
			zap.Int("skipped", d.Skipped),
			zap.Int("tokens", d.Tokens))
	}
	return d
}

func header(name string) string { return "--- Resource: " + name + " ---" }

func footer() string { return "--- End Resource ---" }

const (
	// markerTokens is reserved for a truncation marker inside a block.
	markerTokens = 16
	// noticeTokens is reserved for the trailing omitted or truncated notice.
	noticeTokens = 30
)

// TruncationMarker follows content cut to the per-resource cap.
func TruncationMarker(capTokens int) string {
	return fmt.Sprintf("[... content truncated to %d tokens ...]", capTokens)
}

// clean pretty-prints JSON bodies and collapses embedded base64 runs.
func clean(body string) string {
	body = prettyJSON(body)
	return base64Run.ReplaceAllStringFunc(body, func(m string) string {
		return fmt.Sprintf("[base64 data omitted: %d characters]", len(m))
	})
}

// truncate cuts body to capRunes runes and appends a marker naming the cap in
// tokens. A non-positive capRunes leaves body whole.
func truncate(body string, capRunes, ratio int) string {
	runes := []rune(body)
	if capRunes <= 0 || len(runes) <= capRunes {
		return body
	}
	return string(runes[:capRunes]) + "\n" + TruncationMarker(capRunes/ratio)
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }

func prettyJSON(s string) string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" || (trimmed[0] != '{' && trimmed[0] != '[') {
		return s
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(trimmed), "", "  "); err != nil {
		return s
	}
	return buf.String()
}
