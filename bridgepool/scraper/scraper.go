package scraper

import (
	"context"
	"strings"

	"torrer/bridgepool/model"
	"torrer/internal/shared/logger"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Scraper 接口定义了从网桥发现源获取网桥的行为。
type Scraper interface {
	// Scrape 获取指定传输类型的候选网桥。
	// 实现者只负责抓取和解析，不进行可达性测试。
	Scrape(ctx context.Context, transport string) ([]model.Bridge, error)

	// Name 返回发现源的名称，用于日志记录。
	Name() string
}

// ParseBridgeLine accepts both the stored form "<addr>:<port> [fp] [transport]"
// and the torrc transport form "<transport> <addr>:<port> [fp] [args...]".
// Transport arguments such as cert= are dropped.
func ParseBridgeLine(line string) (model.Bridge, error) {
	line = strings.TrimSpace(line)
	if len(line) > 7 && strings.EqualFold(line[:7], "bridge ") {
		line = strings.TrimSpace(line[7:])
	}

	fields := strings.Fields(line)
	if len(fields) >= 2 && !strings.Contains(fields[0], ":") && strings.Contains(fields[1], ":") {
		transport := fields[0]
		fp := ""
		if len(fields) > 2 && !strings.Contains(fields[2], "=") {
			fp = fields[2]
		}
		parts := []string{fields[1]}
		if fp != "" {
			parts = append(parts, fp)
		}
		parts = append(parts, transport)
		line = strings.Join(parts, " ")
	}
	return model.ParseBridge(line)
}

// parseLines decodes one bridge per non-empty line, logging and skipping the
// lines that do not parse.
func parseLines(source string, lines []string) []model.Bridge {
	l := logger.WithComponent("BridgePool/Scraper")
	bridges := make([]model.Bridge, 0, len(lines))
	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		b, err := ParseBridgeLine(line)
		if err != nil {
			l.Debug().Str("source", source).Str("line", line).Err(err).Msg("Failed to parse bridge, skipping.")
			continue
		}
		bridges = append(bridges, b)
	}
	return bridges
}
