package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

// Client talks to the remote scoring service. One POST per image carries the
// encoded image and the query; the response holds the clip score and a
// generated caption. The blip score and the decision are computed locally.
type Client struct {
	endpoint string
	http     *http.Client
	stage1   Thresholds
	stage2   Thresholds
}

func NewClient(endpoint string, timeout time.Duration, stage1, stage2 Thresholds) *Client {
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
		stage1:   stage1,
		stage2:   stage2,
	}
}

type scoreResponse struct {
	Clip    float64 `json:"clip"`
	Caption string  `json:"caption"`
}

func (c *Client) score(ctx context.Context, imageData []byte, query string) (scoreResponse, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("image", "image")
	if err != nil {
		return scoreResponse{}, err
	}
	if _, err := part.Write(imageData); err != nil {
		return scoreResponse{}, err
	}
	if err := w.WriteField("query", query); err != nil {
		return scoreResponse{}, err
	}
	if err := w.Close(); err != nil {
		return scoreResponse{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &body)
	if err != nil {
		return scoreResponse{}, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return scoreResponse{}, fmt.Errorf("scoring request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return scoreResponse{}, fmt.Errorf("scoring service status %d: %s", resp.StatusCode, snippet)
	}

	var parsed scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return scoreResponse{}, fmt.Errorf("scoring response: %w", err)
	}
	return parsed, nil
}

func (c *Client) Verify(ctx context.Context, imageData []byte, query string) (Result, error) {
	s, err := c.score(ctx, imageData, query)
	if err != nil {
		return Result{}, err
	}
	r := Decide(s.Clip, OverlapScore(s.Caption, query), c.stage1)
	r.Caption = s.Caption
	log.Debugf("[verify] clip=%.3f blip=%.3f combined=%.3f %s", r.Clip, r.Blip, r.Combined, r.Reason)
	return r, nil
}

func (c *Client) VerifyComposed(ctx context.Context, imageData []byte, query string) (Result, error) {
	s, err := c.score(ctx, imageData, query)
	if err != nil {
		return Result{}, err
	}
	r := DecideComposed(s.Clip, OverlapScore(s.Caption, query), c.stage2)
	r.Caption = s.Caption
	log.Debugf("[verify] composed clip=%.3f combined=%.3f %s", r.Clip, r.Combined, r.Reason)
	return r, nil
}
