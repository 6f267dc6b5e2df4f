package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Evaluation is the oracle's judgement of one free-text answer. The answer is
// worth up to 70 points, the reasoning up to 30.
type Evaluation struct {
	AnswerCorrect  bool    `json:"answer_correct"`
	AnswerScore    float64 `json:"answer_score"`
	ReasoningScore float64 `json:"reasoning_score"`
	Feedback       string  `json:"feedback"`
}

// Request carries everything the oracle needs to judge an answer.
type Request struct {
	Question      string
	CorrectAnswer string
	StudentAnswer string
	Reasoning     string
}

// UpstreamError marks an oracle failure after all retries; callers may retry
// the whole evaluation later.
type UpstreamError struct {
	Attempts int
	Err      error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("scoring oracle failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// RetryPolicy is an explicit value passed into the client rather than ambient
// retry state: bounded attempts, exponential backoff, and a fallback model
// tried on the final attempts.
type RetryPolicy struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	FallbackModel string
}

func DefaultRetryPolicy(fallbackModel string) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   4,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      8 * time.Second,
		FallbackModel: fallbackModel,
	}
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.InitialDelay << uint(attempt)
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Limiter gates outbound oracle calls. It is constructed explicitly and
// injected, with its own lifecycle, instead of living in package globals.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Client talks to a chat-completions style evaluation service. It must be
// treated as unreliable: timeouts, rate limits and malformed output are all
// normal weather.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	policy  RetryPolicy
	limiter Limiter
	http    *http.Client
	log     *zap.Logger
}

func NewClient(baseURL, apiKey, model string, policy RetryPolicy, limiter Limiter, timeout time.Duration, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		policy:  policy,
		limiter: limiter,
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

const evalPrompt = `You are grading one answer to a learning challenge.

Question: %s
Expected answer: %s
Student answer: %s
Student reasoning: %s

Score the answer out of 70 and the reasoning out of 30. Respond with ONLY a
JSON object: {"answer_correct": bool, "answer_score": number, "reasoning_score": number, "feedback": string}`

// Evaluate asks the oracle to judge one answer, retrying with exponential
// backoff and switching to the fallback model on the final attempts. Any
// terminal failure surfaces as an UpstreamError.
func (c *Client) Evaluate(ctx context.Context, req Request) (Evaluation, error) {
	var lastErr error
	for attempt := 0; attempt < c.policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Evaluation{}, &UpstreamError{Attempts: attempt, Err: ctx.Err()}
			case <-time.After(c.policy.delay(attempt - 1)):
			}
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return Evaluation{}, &UpstreamError{Attempts: attempt + 1, Err: err}
			}
		}

		model := c.model
		// Last attempt falls back to the cheaper model if one is configured.
		if c.policy.FallbackModel != "" && attempt == c.policy.MaxAttempts-1 {
			model = c.policy.FallbackModel
		}

		ev, err := c.evaluateOnce(ctx, model, req)
		if err == nil {
			return ev, nil
		}
		lastErr = err
		c.log.Warn("oracle attempt failed",
			zap.Int("attempt", attempt+1),
			zap.String("model", model),
			zap.Error(err))
	}
	return Evaluation{}, &UpstreamError{Attempts: c.policy.MaxAttempts, Err: lastErr}
}

func (c *Client) evaluateOnce(ctx context.Context, model string, req Request) (Evaluation, error) {
	body, err := json.Marshal(chatRequest{
		Model: model,
		Messages: []chatMessage{{
			Role:    "user",
			Content: fmt.Sprintf(evalPrompt, req.Question, req.CorrectAnswer, req.StudentAnswer, req.Reasoning),
		}},
		Temperature: 0.1,
	})
	if err != nil {
		return Evaluation{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Evaluation{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Evaluation{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return Evaluation{}, fmt.Errorf("rate limited")
	}
	if resp.StatusCode != http.StatusOK {
		return Evaluation{}, fmt.Errorf("status %d", resp.StatusCode)
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return Evaluation{}, fmt.Errorf("decode response: %w", err)
	}
	if len(chat.Choices) == 0 {
		return Evaluation{}, fmt.Errorf("empty response")
	}
	return parseEvaluation(chat.Choices[0].Message.Content)
}

// parseEvaluation extracts the JSON judgement from the model's reply,
// tolerating surrounding prose, and clamps scores into their bands.
func parseEvaluation(content string) (Evaluation, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return Evaluation{}, fmt.Errorf("no JSON object in oracle output")
	}
	var ev Evaluation
	if err := json.Unmarshal([]byte(content[start:end+1]), &ev); err != nil {
		return Evaluation{}, fmt.Errorf("malformed oracle output: %w", err)
	}
	ev.AnswerScore = clampScore(ev.AnswerScore, 70)
	ev.ReasoningScore = clampScore(ev.ReasoningScore, 30)
	return ev, nil
}

func clampScore(v, max float64) float64 {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}
