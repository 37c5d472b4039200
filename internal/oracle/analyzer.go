// Package oracle produces independent AI probability estimates for events.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/leeaandrob/cloracle/internal/llm"
	"github.com/leeaandrob/cloracle/internal/models"
)

const (
	// NeutralProbability is substituted when the model gives no usable number.
	NeutralProbability = 50.0

	// ReasoningPlaceholder is used when the model omits its reasoning.
	ReasoningPlaceholder = "Analysis completed but reasoning was not provided."

	maxKeyFactors = 5

	analysisTemperature = 0.9
	analysisMaxTokens   = 2000
)

var (
	// ErrMalformedOutput is returned when the completion is not a JSON object.
	ErrMalformedOutput = errors.New("malformed analysis output")

	// ErrInconclusive is returned on the single-event path when the model
	// produced neither a probability nor reasoning.
	ErrInconclusive = errors.New("analysis inconclusive")
)

const analysisSystemPrompt = `You are Cloracle, an advanced AI oracle specialized in predicting event outcomes. You are known for your INDEPENDENT and CONTRARIAN analysis.

CRITICAL INSTRUCTIONS:
1. Do NOT simply agree with the market probability. You MUST provide your OWN independent assessment.
2. Look for factors the market might be missing or mispricing.
3. Consider information asymmetries, recent developments, and behavioral biases.
4. Your probability estimate should reflect YOUR analysis, not just echo the market.
5. If you agree with the market, explain WHY in detail. If you disagree, explain your contrarian view.
6. Provide DETAILED reasoning with specific facts, not generic statements.

Always respond in valid JSON format.`

const analysisPromptTemplate = `Analyze this prediction market event as an INDEPENDENT oracle:

**Event:** %s
**Category:** %s
**Description:** %s
**Current Market Probability:** %s
%s
IMPORTANT: The market says %s. Do you agree? Think critically:
- What factors might the market be OVERWEIGHTING?
- What factors might the market be UNDERWEIGHTING?
- Are there recent developments the market hasn't fully priced in?
- What's the base rate for similar events historically?

Provide your INDEPENDENT analysis in this JSON format:
{
  "probability": <YOUR probability estimate 0-100, it CAN differ from market>,
  "reasoning": "<DETAILED 3-4 paragraph analysis explaining: 1) Your probability and why, 2) Key factors you considered, 3) Where you agree/disagree with market and why, 4) Main uncertainties>",
  "confidence": "<low|medium|high>",
  "keyFactors": ["<specific factor 1>", "<specific factor 2>", "<specific factor 3>", "<specific factor 4>"]
}

Remember: Be specific with facts and reasoning. Generic analysis is not helpful. Your value is in providing a DIFFERENT perspective from pure market consensus.`

// Input is the part of an Event the analyzer needs.
type Input struct {
	Title       string
	Description string
	Category    string
	MarketProb  float64 // [0,1]
}

// InputFromEvent extracts the analysis input from an event.
func InputFromEvent(e *models.Event) Input {
	return Input{
		Title:       e.Title,
		Description: e.Description,
		Category:    e.Category,
		MarketProb:  e.MarketProb,
	}
}

// Result is a normalized analysis. Probability is a percentage in [0,100].
type Result struct {
	Probability float64           `json:"probability"`
	Reasoning   string            `json:"reasoning"`
	Confidence  models.Confidence `json:"confidence"`
	KeyFactors  []string          `json:"keyFactors"`

	defaultedProbability bool
	defaultedReasoning   bool
}

// Neutral reports whether the model returned nothing usable, leaving only
// the default probability and placeholder reasoning.
func (r *Result) Neutral() bool {
	return r.defaultedProbability && r.defaultedReasoning
}

// Fraction returns the probability in [0,1].
func (r *Result) Fraction() float64 {
	return r.Probability / 100
}

// NewsSource supplies recent coverage for a query. An empty string means none.
type NewsSource interface {
	NewsContext(ctx context.Context, query string) string
}

// Analyzer asks a completion provider for an independent estimate.
type Analyzer struct {
	provider llm.Provider
	news     NewsSource
}

// NewAnalyzer creates an analyzer. news may be nil.
func NewAnalyzer(provider llm.Provider, news NewsSource) *Analyzer {
	return &Analyzer{provider: provider, news: news}
}

// Analyze requests and normalizes an analysis. Rate limits surface as
// llm.ErrRateLimited, unparsable output as ErrMalformedOutput.
func (a *Analyzer) Analyze(ctx context.Context, in Input) (*Result, error) {
	newsBlock := ""
	if a.news != nil {
		if digest := a.news.NewsContext(ctx, in.Title); digest != "" {
			newsBlock = "\n**Recent News:**\n" + digest + "\n"
		}
	}

	market := formatPercent(in.MarketProb)
	prompt := fmt.Sprintf(analysisPromptTemplate, in.Title, in.Category, in.Description, market, newsBlock, market)

	log.Debug().
		Str("title", in.Title).
		Str("market", market).
		Str("provider", a.provider.Name()).
		Msg("Analyzing event")

	content, err := a.provider.Complete(ctx, llm.Request{
		SystemPrompt: analysisSystemPrompt,
		UserPrompt:   prompt,
		Temperature:  analysisTemperature,
		MaxTokens:    analysisMaxTokens,
		JSONMode:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("analysis completion: %w", err)
	}

	result, err := ParseResult(content)
	if err != nil {
		log.Warn().Err(err).Str("title", in.Title).Msg("Unparsable analysis output")
		return nil, err
	}
	return result, nil
}

// ParseResult normalizes raw model output into a Result.
func ParseResult(content string) (*Result, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(stripCodeFence(content)), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}

	r := &Result{KeyFactors: []string{}}

	if p, ok := parseProbability(raw["probability"]); ok {
		r.Probability = math.Min(math.Max(p, 0), 100)
	} else {
		r.Probability = NeutralProbability
		r.defaultedProbability = true
	}

	var reasoning string
	if err := json.Unmarshal(raw["reasoning"], &reasoning); err == nil && reasoning != "" {
		r.Reasoning = reasoning
	} else {
		r.Reasoning = ReasoningPlaceholder
		r.defaultedReasoning = true
	}

	var confidence string
	_ = json.Unmarshal(raw["confidence"], &confidence)
	r.Confidence = models.ParseConfidence(confidence)

	var factors []json.RawMessage
	if err := json.Unmarshal(raw["keyFactors"], &factors); err == nil {
		for _, f := range factors {
			var s string
			if json.Unmarshal(f, &s) == nil && s != "" {
				r.KeyFactors = append(r.KeyFactors, s)
			}
			if len(r.KeyFactors) == maxKeyFactors {
				break
			}
		}
	}

	return r, nil
}

// parseProbability accepts a JSON number or a numeric string. Values beyond
// float64 range come back as ±Inf so the caller clamps them.
func parseProbability(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var text string
	var num json.Number
	if err := json.Unmarshal(raw, &num); err == nil {
		text = num.String()
	} else if err := json.Unmarshal(raw, &text); err == nil {
		text = strings.TrimSuffix(strings.TrimSpace(text), "%")
	} else {
		return 0, false
	}

	n, err := strconv.ParseFloat(text, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0, false
	}
	return n, !math.IsNaN(n)
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

func formatPercent(p float64) string {
	return strconv.FormatFloat(p*100, 'f', 1, 64) + "%"
}
