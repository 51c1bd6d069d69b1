package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"torrer/bridgepool"
	"torrer/bridgepool/model"
	"torrer/bridgepool/scraper"
	"torrer/bridgepool/storage"
	"torrer/bridgepool/validator"
	"torrer/internal/core/fallback"
	"torrer/internal/core/health"
	"torrer/internal/service/web"
	"torrer/internal/shared/logger"
	"torrer/internal/shared/types"
	"torrer/internal/tor/circuit"
	"torrer/internal/tor/control"
)

const discoveryTimeout = 30 * time.Second

// AppServer 持有所有组件并负责它们的生命周期。
type AppServer struct {
	cfg *types.Config

	storage       *storage.FileStorage
	bridgeManager *bridgepool.Manager
	healthChecker *health.Checker
	engine        *fallback.Engine
	hub           *web.Hub
}

// New wires the control client, bridge pool, fallback engine and status API
// from cfg. Nothing is started until Run.
func New(cfg *types.Config) (*AppServer, error) {
	s := &AppServer{cfg: cfg}

	s.storage = storage.NewFileStorage(cfg.BridgeConf.StorePath)

	probeTimeout := time.Duration(cfg.BridgeConf.ProbeTimeoutSeconds) * time.Second
	collectValidator := validator.NewValidator(probeTimeout, cfg.BridgeConf.ProbeConcurrency)
	s.bridgeManager = bridgepool.NewManager(s.storage, collectValidator, cfg.BridgeConf.Transport)

	client, err := scraper.NewHTTPClient(scraper.ClientOptions{
		SocksProxy:      cfg.BridgeConf.SocksProxy,
		MimicBrowserTLS: cfg.BridgeConf.MimicBrowserTLS,
		Timeout:         discoveryTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build discovery client: %w", err)
	}
	for _, sc := range discoverySources(cfg.BridgeConf, client) {
		s.bridgeManager.AddScraper(sc)
	}

	s.healthChecker = health.New(func() health.Session {
		return s.NewSession()
	}, time.Duration(cfg.FallbackConf.HealthCheckTimeoutSeconds)*time.Second)

	// 回退探测使用单独的超时，一次只测一个网桥
	bridgeTimeout := time.Duration(cfg.FallbackConf.BridgeTimeoutSeconds) * time.Second
	fallbackProber := validator.NewValidator(bridgeTimeout, 1)
	s.engine = fallback.NewEngine(s.storage, fallbackProber, s.healthChecker, s.bridgeManager, fallback.Config{
		BridgeTimeout:  bridgeTimeout,
		MaxRetries:     cfg.FallbackConf.MaxRetries,
		InitialBackoff: time.Duration(cfg.FallbackConf.InitialBackoffSeconds) * time.Second,
	})

	s.hub = web.NewHub()
	s.engine.Subscribe(s.hub.BroadcastFallbackEvent)

	return s, nil
}

// discoverySources builds one scraper per configured source, in the order
// moat, BridgeDB, public lists.
func discoverySources(cfg types.BridgeConf, client *http.Client) []scraper.Scraper {
	var sources []scraper.Scraper
	if cfg.MoatURL != "" {
		sources = append(sources, scraper.NewMoatScraper(cfg.MoatURL, client))
	}
	if cfg.BridgeDBURL != "" {
		sources = append(sources, scraper.NewBridgeDBScraper(cfg.BridgeDBURL, client))
	}
	for _, u := range strings.Split(cfg.PublicListURLs, ",") {
		if u = strings.TrimSpace(u); u != "" {
			sources = append(sources, scraper.NewTextListScraper(u, client))
		}
	}
	return sources
}

// Run starts the fallback monitor, the optional bridge auto-collector and
// the status API, and blocks until ctx is cancelled or one of them fails.
func (s *AppServer) Run(ctx context.Context) error {
	logger.Info().Int("control_port", s.cfg.ControlConf.Port).Str("store", s.storage.Path()).Msg("Starting torrer...")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.hub.Run(ctx)
		return nil
	})

	g.Go(func() error {
		interval := time.Duration(s.cfg.FallbackConf.CheckIntervalSeconds) * time.Second
		return ignoreCancel(s.engine.Run(ctx, interval))
	})

	if s.cfg.BridgeConf.AutoCollect {
		g.Go(func() error {
			interval := time.Duration(s.cfg.BridgeConf.CollectIntervalHours) * time.Hour
			return ignoreCancel(s.bridgeManager.AutoCollect(ctx, interval))
		})
	} else {
		logger.Info().Msg("Automatic bridge collection is disabled.")
	}

	g.Go(func() error {
		return web.Serve(ctx, s.cfg.WebConf, s, s.hub)
	})

	err := g.Wait()
	logger.Info().Msg("Torrer stopped.")
	return err
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// NewSession returns an unconnected control session built from the config.
func (s *AppServer) NewSession() *control.Session {
	return control.NewSession(s.cfg.ControlConf.Port,
		control.WithCookiePath(s.cfg.ControlConf.CookiePath),
		control.WithTimeout(time.Duration(s.cfg.ControlConf.TimeoutSeconds)*time.Second),
	)
}

// OpenSession connects and authenticates a new control session. The caller
// closes it.
func (s *AppServer) OpenSession(ctx context.Context) (*control.Session, error) {
	session := s.NewSession()
	if err := session.Connect(ctx); err != nil {
		return nil, err
	}
	if err := session.Authenticate(ctx); err != nil {
		session.Close()
		return nil, err
	}
	return session, nil
}

func (s *AppServer) Engine() *fallback.Engine          { return s.engine }
func (s *AppServer) BridgeManager() *bridgepool.Manager { return s.bridgeManager }
func (s *AppServer) HealthChecker() *health.Checker     { return s.healthChecker }

// ImportTorrc copies the Bridge lines of a torrc into the bridge store.
func (s *AppServer) ImportTorrc(path string) (int, error) {
	bridges, err := storage.ReadFromTorrc(path)
	if err != nil {
		return 0, err
	}
	return s.bridgeManager.CacheBridges(bridges)
}

// The methods below implement web.Controller.

func (s *AppServer) FallbackSnapshot() fallback.Snapshot {
	return s.engine.Snapshot()
}

func (s *AppServer) ListBridges() ([]model.Bridge, error) {
	return s.storage.List()
}

func (s *AppServer) AddBridge(b model.Bridge) error {
	return s.storage.Add(b)
}

func (s *AppServer) RemoveBridge(address string, port int) error {
	return s.storage.Remove(address, port)
}

func (s *AppServer) PrioritizedBridges() []bridgepool.Priority {
	return s.bridgeManager.GetPrioritizedBridges()
}

// Circuits opens a short-lived session and lists the daemon's circuits.
func (s *AppServer) Circuits(ctx context.Context) ([]circuit.Info, error) {
	session, err := s.OpenSession(ctx)
	if err != nil {
		return nil, err
	}
	defer session.Close()
	return circuit.GetCircuits(ctx, session)
}
