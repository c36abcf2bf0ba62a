package advisor

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/STTM-NSU/trading-sim/internal/config"
	"github.com/STTM-NSU/trading-sim/internal/logger"
	"github.com/STTM-NSU/trading-sim/internal/model"
	"github.com/benbjohnson/clock"
	"go.uber.org/ratelimit"
)

const _defaultTimeframe = "30 days"

type TradeRecord struct {
	Symbol     string     `json:"symbol"`
	Side       string     `json:"side"`
	Quantity   float64    `json:"quantity"`
	Price      float64    `json:"price"`
	ProfitLoss float64    `json:"profitLoss,omitempty"`
	Emotion    string     `json:"emotion,omitempty"`
	Notes      string     `json:"notes,omitempty"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
}

type PsychologyRequest struct {
	Trades             []TradeRecord  `json:"trades"`
	EmotionalBreakdown map[string]int `json:"emotionalBreakdown"`
}

type PsychologyReport struct {
	EmotionalPatterns []string `json:"emotionalPatterns"`
	CommonMistakes    []string `json:"commonMistakes"`
	Strengths         []string `json:"strengths"`
	Insight           string   `json:"insight"`
}

type MarketAsset struct {
	Symbol    string  `json:"symbol"`
	Name      string  `json:"name,omitempty"`
	Type      string  `json:"type,omitempty"`
	Price     float64 `json:"price"`
	Change24h float64 `json:"change24h,omitempty"`
}

type TrendRequest struct {
	Assets    []MarketAsset `json:"assets"`
	Timeframe string        `json:"timeframe"`
}

type Prediction struct {
	Symbol          string  `json:"symbol"`
	DailyVolatility float64 `json:"dailyVolatility"`
	Trend           string  `json:"trend"`
	AnnualReturn    float64 `json:"annualReturn"`
	RiskLevel       string  `json:"riskLevel"`
}

type TrendResponse struct {
	Predictions []Prediction `json:"predictions"`
}

// ChatRequest carries either a single message with context or a whole conversation.
type ChatRequest struct {
	Message   string          `json:"message,omitempty"`
	Portfolio *model.Snapshot `json:"portfolio,omitempty"`
	Assets    []MarketAsset   `json:"assets,omitempty"`
	Messages  []Message       `json:"messages,omitempty"`
}

type Service struct {
	client  Client
	limiter ratelimit.Limiter
	logger  logger.Logger

	snapshot func() model.Snapshot
}

type Option func(*Service)

// WithPortfolio supplies the account snapshot used when a chat request carries none.
func WithPortfolio(snapshot func() model.Snapshot) Option {
	return func(s *Service) {
		s.snapshot = snapshot
	}
}

// NewService wraps client. A nil client makes every call fail with ErrNotConfigured.
func NewService(client Client, limiter ratelimit.Limiter, logger logger.Logger, opts ...Option) *Service {
	if limiter == nil {
		limiter = ratelimit.NewUnlimited()
	}
	s := &Service{
		client:  client,
		limiter: limiter,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// New builds the provider named in cfg. Without an API key no provider is created.
func New(cfg config.AdvisorConfig, clk clock.Clock, logger logger.Logger, opts ...Option) *Service {
	limiter := ratelimit.New(cfg.RequestsPerMinute, ratelimit.Per(time.Minute), ratelimit.WithClock(clk))
	if cfg.APIKey == "" {
		logger.Warnf("%s is not set, AI advisor disabled", config.AdvisorAPIKeyEnv)
		return NewService(nil, limiter, logger, opts...)
	}

	var client Client
	switch cfg.Provider {
	case config.OpenAIProvider:
		client = NewOpenAI(cfg, logger)
	default:
		client = NewGateway(cfg, logger)
	}
	return NewService(client, limiter, logger, opts...)
}

func (s *Service) Configured() bool {
	return s.client != nil
}

func (s *Service) AnalyzePsychology(ctx context.Context, req PsychologyRequest) (PsychologyReport, error) {
	if s.client == nil {
		return PsychologyReport{}, ErrNotConfigured
	}
	prompt, err := render(psychologyTmpl, req)
	if err != nil {
		return PsychologyReport{}, err
	}

	if err := s.wait(ctx); err != nil {
		return PsychologyReport{}, err
	}
	content, err := s.client.Complete(ctx, []Message{
		{Role: RoleSystem, Content: psychologySystemPrompt},
		{Role: RoleUser, Content: prompt},
	})
	if err != nil {
		return PsychologyReport{}, err
	}

	report, err := decodeFirst[PsychologyReport](stripFences(content), '{', '}')
	if err != nil {
		s.logger.Warnf("%s: unparseable psychology response: %.200q", err, content)
		return PsychologyReport{}, err
	}
	report.EmotionalPatterns = nonNil(report.EmotionalPatterns)
	report.CommonMistakes = nonNil(report.CommonMistakes)
	report.Strengths = nonNil(report.Strengths)
	return report, nil
}

// PredictTrends tolerates prose or markdown fences around the answer by parsing the first
// bracketed array in it.
func (s *Service) PredictTrends(ctx context.Context, req TrendRequest) (TrendResponse, error) {
	if s.client == nil {
		return TrendResponse{}, ErrNotConfigured
	}
	if len(req.Assets) == 0 {
		return TrendResponse{}, fmt.Errorf("%w: no assets to analyze", ErrInvalidRequest)
	}
	req.Timeframe = cmp.Or(strings.TrimSpace(req.Timeframe), _defaultTimeframe)

	prompt, err := render(trendsTmpl, req)
	if err != nil {
		return TrendResponse{}, err
	}

	if err := s.wait(ctx); err != nil {
		return TrendResponse{}, err
	}
	content, err := s.client.Complete(ctx, []Message{
		{Role: RoleSystem, Content: trendsSystemPrompt},
		{Role: RoleUser, Content: prompt},
	})
	if err != nil {
		return TrendResponse{}, err
	}

	predictions, err := parsePredictions(content)
	if err != nil {
		s.logger.Warnf("%s: unparseable trends response: %.200q", err, content)
		return TrendResponse{}, err
	}
	return TrendResponse{Predictions: predictions}, nil
}

func parsePredictions(content string) ([]Prediction, error) {
	predictions, err := decodeFirst[[]Prediction](stripFences(content), '[', ']')
	if err != nil {
		return nil, err
	}
	out := predictions[:0]
	for _, p := range predictions {
		if p.Symbol != "" {
			out = append(out, p)
		}
	}
	return out, nil
}

// Chat opens a streamed mentor conversation. The caller owns the returned stream and must
// close it, early if its own client goes away.
func (s *Service) Chat(ctx context.Context, req ChatRequest) (*Stream, error) {
	if s.client == nil {
		return nil, ErrNotConfigured
	}

	msgs, err := s.chatMessages(req)
	if err != nil {
		return nil, err
	}

	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	return s.client.Stream(ctx, msgs)
}

// wait paces upstream calls. A caller that goes away while waiting gets ctx's error and the
// provider is never called.
func (s *Service) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.limiter.Take()
		close(done)
	}()
	select {
	case <-done:
		return ctx.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases the provider's connections, if it holds any.
func (s *Service) Close() error {
	if c, ok := s.client.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (s *Service) chatMessages(req ChatRequest) ([]Message, error) {
	if req.Portfolio == nil && s.snapshot != nil {
		snap := s.snapshot()
		req.Portfolio = &snap
	}
	extra, err := render(mentorContextTmpl, req)
	if err != nil {
		return nil, err
	}
	system := mentorSystemPrompt
	if extra != "" {
		system += "\n\n" + extra
	}
	msgs := []Message{{Role: RoleSystem, Content: system}}

	if len(req.Messages) > 0 {
		for i, m := range req.Messages {
			if m.Role != RoleUser && m.Role != RoleAssistant {
				return nil, fmt.Errorf("%w: message #%d has role %q", ErrInvalidRequest, i, m.Role)
			}
			msgs = append(msgs, m)
		}
		return msgs, nil
	}

	if strings.TrimSpace(req.Message) == "" {
		return nil, fmt.Errorf("%w: empty message", ErrInvalidRequest)
	}
	return append(msgs, Message{Role: RoleUser, Content: req.Message}), nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
