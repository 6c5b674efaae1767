package app

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/pixied/internal/config"
	"github.com/dokzlo13/pixied/internal/eventbus"
	"github.com/dokzlo13/pixied/internal/ledger"
	"github.com/dokzlo13/pixied/internal/pixie/cloud"
	"github.com/dokzlo13/pixied/internal/pixie/coordinator"
	"github.com/dokzlo13/pixied/internal/pixie/device"
	"github.com/dokzlo13/pixied/internal/pixie/discovery"
	"github.com/dokzlo13/pixied/internal/pixie/spec"
	"github.com/dokzlo13/pixied/internal/storage"
)

// PixieService wraps all cloud-related components: client, live query and
// the update coordinator.
type PixieService struct {
	cfg *config.Config

	Registry    *spec.Registry
	Client      *cloud.Client
	Live        *cloud.LiveQuery
	Coordinator *coordinator.Coordinator
	Bus         *eventbus.Bus

	sessions *storage.SessionStore
	ledger   *ledger.Ledger
	started  atomic.Pointer[coordinator.Coordinator]
}

// NewPixieService creates the cloud client from stored or configured
// credentials. Nothing is contacted until Start.
func NewPixieService(cfg *config.Config, sessions *storage.SessionStore, l *ledger.Ledger) (*PixieService, error) {
	registry, err := spec.LoadFile(cfg.Devices)
	if err != nil {
		return nil, err
	}

	creds, found, err := sessions.LoadCredentials(cfg.Pixie.Username)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load stored session, starting fresh")
	}
	if found {
		log.Debug().Interface("credentials", creds.Redacted()).Msg("Restored cloud session")
	}
	creds.Username = cfg.Pixie.Username
	if creds.Password != cfg.Pixie.Password {
		// Stored ids may belong to another account state; keep only the installation id
		creds = cloud.Credentials{
			Username:       cfg.Pixie.Username,
			Password:       cfg.Pixie.Password,
			InstallationID: creds.InstallationID,
		}
	}

	s := &PixieService{
		cfg:      cfg,
		Registry: registry,
		Bus:      eventbus.NewWithConfig(cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize()),
		sessions: sessions,
		ledger:   l,
	}
	s.connect(creds)
	return s, nil
}

func (s *PixieService) connect(creds cloud.Credentials) {
	s.Client = cloud.NewClient(s.cfg.Pixie.CloudConfig(), creds, nil)
	s.Live = cloud.NewLiveQuery(s.Client, s.cfg.Pixie.LiveQueryConfig())
}

// ResetSession forgets the stored session and device snapshot and replaces
// the client with one holding only the configured credentials. Must be
// called before Start.
func (s *PixieService) ResetSession() error {
	if s.running() != nil {
		return fmt.Errorf("cannot reset session while running")
	}
	if err := s.sessions.Reset(s.cfg.Pixie.Username); err != nil {
		return err
	}

	installationID := s.Client.Credentials().InstallationID
	s.Live.Close()
	s.Client.Close()
	s.connect(cloud.Credentials{
		Username:       s.cfg.Pixie.Username,
		Password:       s.cfg.Pixie.Password,
		InstallationID: installationID,
	})
	return nil
}

// Start loads the device snapshot (running discovery when there is none),
// logs in and starts the coordinator.
func (s *PixieService) Start(ctx context.Context) error {
	devices, gateway, err := s.sessions.LoadDevices()
	if err != nil {
		return fmt.Errorf("load devices: %w", err)
	}
	if len(devices) == 0 {
		log.Info().Msg("No stored devices, running discovery")
		entry, err := s.Discover(ctx)
		if err != nil {
			return err
		}
		devices, gateway = entry.Devices, entry.Gateway
	}

	s.Coordinator = coordinator.New(
		s.Client,
		s.Live,
		s.Registry,
		devices,
		gateway,
		coordinator.Config{PollInterval: s.cfg.Poll.Interval.Duration()},
		coordinator.WithPublisher(s.Bus),
		coordinator.WithRecorder(s.ledger),
	)
	if err := s.Coordinator.Start(ctx); err != nil {
		return err
	}
	s.started.Store(s.Coordinator)
	s.persistCredentials()

	log.Info().
		Str("user", s.cfg.Pixie.Username).
		Int("devices", len(devices)).
		Msg("Connected to Pixie cloud")
	return nil
}

// Discover runs the setup flow and persists its result.
func (s *PixieService) Discover(ctx context.Context) (*discovery.Entry, error) {
	entry, err := discovery.Setup(ctx, s.Client, s.Registry)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.SaveDevices(entry.Devices, entry.Gateway); err != nil {
		return nil, fmt.Errorf("save devices: %w", err)
	}
	if err := s.sessions.SaveCredentials(entry.Credentials); err != nil {
		log.Warn().Err(err).Msg("Failed to persist cloud session")
	}

	payload := map[string]any{"devices": deviceIDs(entry.Devices)}
	if entry.Gateway != nil {
		payload["gateway"] = entry.Gateway.ID
	}
	if err := s.ledger.Append(ledger.EventDiscovery, "setup", 0, payload); err != nil {
		log.Warn().Err(err).Msg("Failed to record discovery")
	}
	return entry, nil
}

// running returns the coordinator once it has started. Safe for concurrent use.
func (s *PixieService) running() *coordinator.Coordinator {
	return s.started.Load()
}

func deviceIDs(devices []device.Device) []int {
	ids := make([]int, len(devices))
	for i, d := range devices {
		ids[i] = d.ID
	}
	return ids
}

func (s *PixieService) persistCredentials() {
	if err := s.sessions.SaveCredentials(s.Client.Credentials()); err != nil {
		log.Warn().Err(err).Msg("Failed to persist cloud session")
	}
}

// StartBackground starts the ledger retention loop and persists the session
// once the live query has resolved its ids.
func (s *PixieService) StartBackground(ctx context.Context) {
	s.Live.OnConnection(func(connected bool) {
		if connected {
			s.persistCredentials()
		}
	})

	go s.runLedgerCleanup(ctx)
}

func (s *PixieService) runLedgerCleanup(ctx context.Context) {
	retention := time.Duration(s.cfg.Ledger.RetentionDays) * 24 * time.Hour
	ticker := time.NewTicker(s.cfg.Ledger.CleanupInterval.Duration())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.ledger.DeleteOlderThan(retention)
			if err != nil {
				log.Warn().Err(err).Msg("Ledger cleanup failed")
				continue
			}
			if n > 0 {
				log.Info().Int64("deleted", n).Msg("Ledger cleanup")
			}
		}
	}
}

// Close stops the coordinator, saves the session and releases resources.
func (s *PixieService) Close() {
	if s.Coordinator != nil {
		s.Coordinator.Stop()
		s.persistCredentials()
	} else {
		s.Live.Close()
	}
	if s.Bus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
		defer cancel()
		s.Bus.Close(ctx)
	}
	s.Client.Close()
}
