package trivia

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/url"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/mellowbyte/wa-arcade-bot/internal/obslog"
	"github.com/mellowbyte/wa-arcade-bot/internal/quiz"
)

const defaultBaseURL = "https://opentdb.com"

// responseCode values from the trivia API.
const (
	codeSuccess    = 0
	codeNoResults  = 1
	codeParamError = 2
)

type apiResponse struct {
	ResponseCode int           `json:"response_code"`
	Results      []apiQuestion `json:"results"`
}

type apiQuestion struct {
	Category         string   `json:"category"`
	Difficulty       string   `json:"difficulty"`
	Question         string   `json:"question"`
	CorrectAnswer    string   `json:"correct_answer"`
	IncorrectAnswers []string `json:"incorrect_answers"`
}

// Client fetches multiple-choice questions from the Open Trivia Database.
// It implements quiz.Source.
type Client struct {
	baseURL  string
	http     *fasthttp.Client
	timeout  time.Duration
	retryMax int
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:  defaultBaseURL,
		http:     &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 8},
		timeout:  10 * time.Second,
		retryMax: 3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Questions pulls n random questions. The category argument is ignored; the
// API mixes categories for random pulls. Answers are RFC 3986 encoded on the
// wire so emoji and punctuation survive transport intact.
func (c *Client) Questions(ctx context.Context, _ string, n int) ([]quiz.Question, error) {
	if n <= 0 {
		n = 5
	}
	uri := fmt.Sprintf("%s/api.php?amount=%d&type=multiple&encode=url3986", c.baseURL, n)

	body, err := c.get(ctx, uri)
	if err != nil {
		return nil, err
	}

	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode trivia response: %w", err)
	}
	switch resp.ResponseCode {
	case codeSuccess:
	case codeNoResults:
		return nil, quiz.ErrNoQuestions
	default:
		return nil, fmt.Errorf("trivia api error: response_code=%d", resp.ResponseCode)
	}

	out := make([]quiz.Question, 0, len(resp.Results))
	for _, raw := range resp.Results {
		q, err := decodeQuestion(raw)
		if err != nil {
			obslog.L().Warn("trivia_decode_skip", zap.Error(err))
			continue
		}
		out = append(out, q)
	}
	if len(out) == 0 {
		return nil, quiz.ErrNoQuestions
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, uri string) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(uri)

	attempts := c.retryMax
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		deadline := time.Now().Add(c.timeout)
		if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
			deadline = dl
		}

		err := c.http.DoDeadline(req, resp, deadline)
		if err == nil && resp.StatusCode() == fasthttp.StatusOK {
			body := make([]byte, len(resp.Body()))
			copy(body, resp.Body())
			return body, nil
		}
		if err != nil {
			lastErr = fmt.Errorf("trivia request failed: %w", err)
		} else {
			lastErr = fmt.Errorf("trivia api error: status=%d", resp.StatusCode())
		}
		if attempt == attempts {
			break
		}
		if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
			return nil, lastErr
		}
	}
	return nil, lastErr
}

// decodeQuestion unescapes one API result and shuffles its options while
// tracking where the correct answer lands.
func decodeQuestion(raw apiQuestion) (quiz.Question, error) {
	prompt, err := url.QueryUnescape(raw.Question)
	if err != nil {
		return quiz.Question{}, fmt.Errorf("unescape question: %w", err)
	}
	correct, err := url.QueryUnescape(raw.CorrectAnswer)
	if err != nil {
		return quiz.Question{}, fmt.Errorf("unescape answer: %w", err)
	}
	category, err := url.QueryUnescape(raw.Category)
	if err != nil {
		return quiz.Question{}, fmt.Errorf("unescape category: %w", err)
	}
	difficulty, err := url.QueryUnescape(raw.Difficulty)
	if err != nil {
		return quiz.Question{}, fmt.Errorf("unescape difficulty: %w", err)
	}

	options := make([]string, 0, len(raw.IncorrectAnswers)+1)
	options = append(options, correct)
	for _, enc := range raw.IncorrectAnswers {
		opt, err := url.QueryUnescape(enc)
		if err != nil {
			return quiz.Question{}, fmt.Errorf("unescape option: %w", err)
		}
		options = append(options, opt)
	}

	answer := 0
	rand.Shuffle(len(options), func(i, j int) {
		options[i], options[j] = options[j], options[i]
		switch answer {
		case i:
			answer = j
		case j:
			answer = i
		}
	})

	return quiz.Question{
		Prompt:     prompt,
		Options:    options,
		Answer:     answer,
		Difficulty: difficulty,
		Category:   category,
	}, nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	base := 100 * time.Millisecond
	return time.Duration(1<<uint(attempt-1)) * base
}
