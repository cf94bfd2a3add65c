// Package knowledge provides tools backed by a local research knowledge
// service: arXiv text extraction, graph ingestion and text retrieval.
package knowledge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/tidwall/gjson"
)

const DefaultBaseURL = "http://localhost:8000"

var ErrUnexpectedResponse = errors.New("unexpected response")

// Passage is one retrieved piece of text and the article it came from.
type Passage struct {
	Text         string `json:"text"`
	ArticleTitle string `json:"article_title"`
}

type Option func(*Client)

func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(strings.TrimSpace(url), "/")
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// Client talks JSON over HTTP POST to the knowledge service.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		http: &http.Client{
			Timeout: 120 * time.Second,
		},
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) BaseURL() string { return c.baseURL }

// post sends body to path and returns the raw JSON response.
func (c *Client) post(ctx context.Context, path string, body any) (gjson.Result, error) {
	payload, err := sonic.ConfigStd.Marshal(body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, 16<<20))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("read response: %w", err)
	}
	c.logger.Debug("knowledge request",
		slog.String("path", path),
		slog.Int("status", res.StatusCode),
		slog.Duration("took", time.Since(start)),
	)

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return gjson.Result{}, fmt.Errorf("knowledge %s: http status %d: %s", path, res.StatusCode, truncate(string(data), 512))
	}
	if !gjson.ValidBytes(data) {
		return gjson.Result{}, fmt.Errorf("knowledge %s: %w: invalid json", path, ErrUnexpectedResponse)
	}
	return gjson.ParseBytes(data), nil
}

// postText expects a {"text": "..."} response.
func (c *Client) postText(ctx context.Context, path string, body any) (string, error) {
	res, err := c.post(ctx, path, body)
	if err != nil {
		return "", err
	}
	text := res.Get("text")
	if !text.Exists() {
		return "", fmt.Errorf("knowledge %s: %w: missing text", path, ErrUnexpectedResponse)
	}
	return text.String(), nil
}

// postPassages expects a {"results": [{"text", "article_title"}]} response.
func (c *Client) postPassages(ctx context.Context, path string, body any) ([]Passage, error) {
	res, err := c.post(ctx, path, body)
	if err != nil {
		return nil, err
	}
	results := res.Get("results")
	if !results.IsArray() {
		return nil, fmt.Errorf("knowledge %s: %w: missing results", path, ErrUnexpectedResponse)
	}
	out := make([]Passage, 0, len(results.Array()))
	results.ForEach(func(_, v gjson.Result) bool {
		out = append(out, Passage{
			Text:         v.Get("text").String(),
			ArticleTitle: v.Get("article_title").String(),
		})
		return true
	})
	return out, nil
}

// ExtractArxivText returns the plain text of the paper behind an arXiv
// abstract page.
func (c *Client) ExtractArxivText(ctx context.Context, arxivURL string) (string, error) {
	return c.postText(ctx, "/extract_text/", map[string]any{"url": arxivURL})
}

// ExtractToGraph extracts a paper and stores its key concepts in the graph
// database.
func (c *Client) ExtractToGraph(ctx context.Context, arxivURL string) (string, error) {
	return c.postText(ctx, "/paper_extraction_to_neo4j/", map[string]any{"url": arxivURL})
}

func (c *Client) TextFromRelatedKeyConcepts(ctx context.Context, keyConcept string) ([]Passage, error) {
	return c.postPassages(ctx, "/text_from_related_key_concepts/", map[string]any{"text": keyConcept})
}

func (c *Client) TextFromEmbedding(ctx context.Context, query string) ([]Passage, error) {
	return c.postPassages(ctx, "/text_from_chunk_embedding/", map[string]any{"text": query})
}

func (c *Client) AdditionalTextFromChunks(ctx context.Context, keyConcept string) ([]Passage, error) {
	return c.postPassages(ctx, "/additional_text_from_chunks/", map[string]any{"text": keyConcept})
}

func (c *Client) TextFromKeyConcepts(ctx context.Context, keyConcepts []string) ([]Passage, error) {
	return c.postPassages(ctx, "/text_from_key_concepts/", map[string]any{"texts": keyConcepts})
}

// ResolveKeyConcepts merges duplicate key concepts in the graph.
func (c *Client) ResolveKeyConcepts(ctx context.Context) (string, error) {
	return c.postText(ctx, "/keyconcepts_resolution/", map[string]any{})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
