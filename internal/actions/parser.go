package actions

import (
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// The model embeds proposed actions in a fenced block anywhere in its reply:
//
//	<actions>[{"id":"a1","type":"createGoal",...}]</actions>
//
// Only the first block counts.
var actionBlockRe = regexp.MustCompile(`(?s)<actions>(.*?)</actions>`)

// Parser extracts action blocks from model output.
type Parser struct {
	logger *slog.Logger
}

func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{logger: logger}
}

// Parse splits model output into clean user-facing text and the proposed
// actions. Text without a fenced block passes through unchanged. Decode is
// permissive: the array form is tried first, then an {"actions": [...]}
// envelope, then a repaired variant of both. Decode failure yields zero
// actions, never an error, so malformed model output degrades to plain text.
func (p *Parser) Parse(text string) (string, []ActionRequest) {
	loc := actionBlockRe.FindStringSubmatchIndex(text)
	if loc == nil {
		return text, nil
	}

	raw := text[loc[2]:loc[3]]
	clean := strings.TrimSpace(text[:loc[0]] + text[loc[1]:])

	parsed, ok := p.decode(raw)
	if !ok {
		repaired, err := jsonrepair.JSONRepair(raw)
		if err == nil {
			parsed, ok = p.decode(repaired)
		}
	}
	if !ok {
		p.logger.Debug("actions: undecodable action block", "block_len", len(raw))
		return clean, nil
	}
	return clean, parsed
}

func (p *Parser) decode(raw string) ([]ActionRequest, bool) {
	raw = strings.TrimSpace(raw)

	var list []ActionRequest
	if err := json.Unmarshal([]byte(raw), &list); err == nil {
		return list, true
	}

	var envelope struct {
		Actions []ActionRequest `json:"actions"`
	}
	if err := json.Unmarshal([]byte(raw), &envelope); err == nil && envelope.Actions != nil {
		return envelope.Actions, true
	}
	return nil, false
}
