package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"torrer/bridgepool/model"
	"torrer/internal/shared/logger"
)

const DefaultMoatURL = "https://bridges.torproject.org/moat/circumvention/bridges"

type moatRequest struct {
	Transport string `json:"transport"`
}

type moatResponse struct {
	Bridges []string `json:"bridges"`
}

// MoatScraper 实现了 Scraper 接口，通过 Tor Project 的 moat JSON 接口获取网桥，
// 该接口无需邮件或验证码。
type MoatScraper struct {
	url    string
	client *http.Client
}

// NewMoatScraper 创建一个新的实例。url 为空时使用官方接口地址。
func NewMoatScraper(url string, client *http.Client) Scraper {
	if url == "" {
		url = DefaultMoatURL
	}
	if client == nil {
		client = &http.Client{Timeout: defaultRequestTimeout}
	}
	return &MoatScraper{url: url, client: client}
}

func (s *MoatScraper) Name() string {
	return "moat"
}

func (s *MoatScraper) Scrape(ctx context.Context, transport string) ([]model.Bridge, error) {
	l := logger.WithComponent("BridgePool/Scraper")
	l.Info().Str("source", s.Name()).Str("transport", transport).Msg("Starting scrape...")

	body, err := json.Marshal(moatRequest{Transport: transport})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request for %s: %w", s.Name(), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request for %s: %w", s.Name(), err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch bridges from %s: %w", s.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("received non-2xx status code (%d) from %s", resp.StatusCode, s.Name())
	}

	var decoded moatResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode response from %s: %w", s.Name(), err)
	}

	bridges := parseLines(s.Name(), decoded.Bridges)
	l.Info().Int("count", len(bridges)).Str("source", s.Name()).Msg("Scrape finished.")
	return bridges, nil
}
