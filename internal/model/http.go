package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pkot5/kluetune/internal/task"
)

// HTTPBackend talks to a model server over JSON. Requests have no client-side
// timeout since a training epoch can legitimately run for hours; cancellation
// comes from the caller's context.
type HTTPBackend struct {
	baseURL string
	client  *http.Client
}

func NewHTTPBackend(baseURL string) *HTTPBackend {
	return &HTTPBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
	}
}

// Healthy checks the server's health endpoint.
func (b *HTTPBackend) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("model server health check: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("model server health check: status %d", resp.StatusCode)
	}
	return nil
}

type openRequest struct {
	Model     string `json:"model"`
	MaxLength int    `json:"max_length"`
}

type openResponse struct {
	SessionID string `json:"session_id"`
}

func (b *HTTPBackend) Open(ctx context.Context, modelPath string, maxLength int) (Session, error) {
	var resp openResponse
	err := b.post(ctx, "/sessions", openRequest{Model: modelPath, MaxLength: maxLength}, &resp)
	if err != nil {
		return nil, fmt.Errorf("opening session for %s: %w", modelPath, err)
	}
	if resp.SessionID == "" {
		return nil, fmt.Errorf("opening session for %s: empty session id", modelPath)
	}
	return &httpSession{backend: b, id: resp.SessionID}, nil
}

func (b *HTTPBackend) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response from %s: %w", path, err)
	}
	return nil
}

type httpSession struct {
	backend *HTTPBackend
	id      string
}

type example struct {
	Input  string `json:"input"`
	Target string `json:"target"`
}

type trainRequest struct {
	Examples []example `json:"examples"`
}

type generateRequest struct {
	Inputs        []string `json:"inputs"`
	NumBeams      int      `json:"num_beams"`
	MaxLength     int      `json:"max_length"`
	EarlyStopping bool     `json:"early_stopping"`
	WithScores    bool     `json:"with_scores"`
}

type generateResponse struct {
	Generations []struct {
		Output string  `json:"output"`
		Score  float64 `json:"score"`
	} `json:"generations"`
}

type saveRequest struct {
	Dir string `json:"dir"`
}

func (s *httpSession) TrainEpoch(ctx context.Context, examples []task.Entry) error {
	req := trainRequest{Examples: make([]example, len(examples))}
	for i, e := range examples {
		req.Examples[i] = example{Input: e.Input, Target: e.Target}
	}
	if err := s.backend.post(ctx, "/sessions/"+s.id+"/train", req, nil); err != nil {
		return fmt.Errorf("train epoch: %w", err)
	}
	return nil
}

func (s *httpSession) Generate(ctx context.Context, inputs []string, p GenParams) ([]Generation, error) {
	req := generateRequest{
		Inputs:        inputs,
		NumBeams:      p.NumBeams,
		MaxLength:     p.MaxLength,
		EarlyStopping: p.EarlyStopping,
		WithScores:    p.WithScores,
	}
	var resp generateResponse
	if err := s.backend.post(ctx, "/sessions/"+s.id+"/generate", req, &resp); err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	gens := make([]Generation, len(resp.Generations))
	for i, g := range resp.Generations {
		gens[i] = Generation{Output: g.Output, Score: g.Score}
	}
	return gens, nil
}

func (s *httpSession) Save(ctx context.Context, dir string) error {
	if err := s.backend.post(ctx, "/sessions/"+s.id+"/save", saveRequest{Dir: dir}, nil); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

func (s *httpSession) Close() error {
	req, err := http.NewRequest(http.MethodDelete, s.backend.baseURL+"/sessions/"+s.id, nil)
	if err != nil {
		return err
	}
	resp, err := s.backend.client.Do(req)
	if err != nil {
		return fmt.Errorf("closing session: %w", err)
	}
	resp.Body.Close()
	return nil
}
