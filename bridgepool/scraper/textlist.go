package scraper

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gocolly/colly/v2"

	"torrer/bridgepool/model"
	"torrer/internal/shared/logger"
)

// TextListScraper 实现了 Scraper 接口，抓取每行一个网桥的公开纯文本列表。
// 列表中不属于请求传输类型的网桥会被过滤掉。
type TextListScraper struct {
	url    string
	client *http.Client
}

// NewTextListScraper 创建一个新的实例。
func NewTextListScraper(listURL string, client *http.Client) Scraper {
	if client == nil {
		client = &http.Client{Timeout: defaultRequestTimeout}
	}
	return &TextListScraper{url: listURL, client: client}
}

func (s *TextListScraper) Name() string {
	return "list:" + s.url
}

func (s *TextListScraper) Scrape(ctx context.Context, transport string) ([]model.Bridge, error) {
	l := logger.WithComponent("BridgePool/Scraper")
	l.Info().Str("source", s.Name()).Str("transport", transport).Msg("Starting scrape...")

	// A fresh collector per call keeps the visited-URL set from blocking
	// the next collection run.
	c := colly.NewCollector(
		colly.UserAgent(userAgent),
		colly.StdlibContext(ctx),
		colly.AllowURLRevisit(),
	)
	if s.client.Transport != nil {
		c.WithTransport(s.client.Transport)
	}
	if s.client.Timeout > 0 {
		c.SetRequestTimeout(s.client.Timeout)
	}

	var lines []string
	var scrapeErr error

	c.OnResponse(func(r *colly.Response) {
		lines = strings.Split(string(r.Body), "\n")
	})
	c.OnError(func(r *colly.Response, err error) {
		scrapeErr = fmt.Errorf("request to %s failed with status %d: %w", s.Name(), r.StatusCode, err)
	})

	if err := c.Visit(s.url); err != nil && scrapeErr == nil {
		scrapeErr = fmt.Errorf("failed to fetch %s: %w", s.Name(), err)
	}
	c.Wait()

	if scrapeErr != nil {
		return nil, scrapeErr
	}

	var bridges []model.Bridge
	for _, b := range parseLines(s.Name(), lines) {
		if transport == "" || b.Transport == "" || strings.EqualFold(b.Transport, transport) {
			bridges = append(bridges, b)
		}
	}

	l.Info().Int("count", len(bridges)).Str("source", s.Name()).Msg("Scrape finished.")
	return bridges, nil
}
