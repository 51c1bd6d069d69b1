package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"torrer/bridgepool/model"
	"torrer/internal/shared/logger"
)

const DefaultBridgeDBURL = "https://bridges.torproject.org/bridges"

// BridgeDBScraper 实现了 Scraper 接口，解析 BridgeDB 网页中 div#bridgelines 的内容。
type BridgeDBScraper struct {
	url    string
	client *http.Client
}

// NewBridgeDBScraper 创建一个新的实例。url 为空时使用官方页面地址。
func NewBridgeDBScraper(pageURL string, client *http.Client) Scraper {
	if pageURL == "" {
		pageURL = DefaultBridgeDBURL
	}
	if client == nil {
		client = &http.Client{Timeout: defaultRequestTimeout}
	}
	return &BridgeDBScraper{url: pageURL, client: client}
}

func (s *BridgeDBScraper) Name() string {
	return "bridgedb"
}

func (s *BridgeDBScraper) Scrape(ctx context.Context, transport string) ([]model.Bridge, error) {
	l := logger.WithComponent("BridgePool/Scraper")
	l.Info().Str("source", s.Name()).Str("transport", transport).Msg("Starting scrape...")

	u, err := url.Parse(s.url)
	if err != nil {
		return nil, fmt.Errorf("invalid URL for %s: %w", s.Name(), err)
	}
	if transport != "" {
		q := u.Query()
		q.Set("transport", transport)
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request for %s: %w", s.Name(), err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch page for %s: %w", s.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("received non-200 status code (%d) from %s", resp.StatusCode, s.Name())
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML for %s: %w", s.Name(), err)
	}

	var lines []string
	doc.Find("#bridgelines").Each(func(_ int, sel *goquery.Selection) {
		lines = append(lines, strings.Split(sel.Text(), "\n")...)
	})
	if len(lines) == 0 {
		l.Warn().Str("source", s.Name()).Msg("No bridgelines element found, the page may require a CAPTCHA.")
	}

	bridges := parseLines(s.Name(), lines)
	l.Info().Int("count", len(bridges)).Str("source", s.Name()).Msg("Scrape finished.")
	return bridges, nil
}
