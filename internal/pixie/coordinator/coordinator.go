// Package coordinator owns the in-memory device list: it polls the cloud,
// merges pushed status updates and routes device commands.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/pixied/internal/eventbus"
	"github.com/dokzlo13/pixied/internal/ledger"
	"github.com/dokzlo13/pixied/internal/pixie/cloud"
	"github.com/dokzlo13/pixied/internal/pixie/device"
	"github.com/dokzlo13/pixied/internal/pixie/spec"
)

// ErrUnknownDevice is returned for commands addressed to a device that is not managed.
var ErrUnknownDevice = errors.New("unknown device")

// Session is the cloud client surface used by the coordinator.
type Session interface {
	State() cloud.State
	Login(ctx context.Context) error
	Home(ctx context.Context) (*cloud.Home, error)
	SendCommand(ctx context.Context, payload string) (string, error)
}

// LiveChannel is the push-update connection.
type LiveChannel interface {
	OnUpdate(className string, fn cloud.UpdateFunc)
	OnConnection(fn cloud.ConnectionFunc)
	Start(ctx context.Context)
	Close()
	Healthy() bool
}

// Publisher receives coordinator events.
type Publisher interface {
	Publish(event eventbus.Event)
}

// Recorder keeps a history of sent commands.
type Recorder interface {
	Append(eventType ledger.EventType, source string, deviceID int, payload map[string]any) error
}

// Config contains coordinator settings.
type Config struct {
	PollInterval time.Duration // 0 disables periodic polling
}

// Coordinator is the single owner of the device list.
type Coordinator struct {
	session  Session
	live     LiveChannel
	registry *spec.Registry
	bus      Publisher
	recorder Recorder
	config   Config

	mu          sync.RWMutex
	devices     []device.Device
	index       map[int]int
	gateway     *device.Gateway
	lastRefresh time.Time

	trigger   chan struct{}
	loggedIn  atomic.Bool
	stopping  atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithPublisher publishes device and channel events to p.
func WithPublisher(p Publisher) Option {
	return func(c *Coordinator) { c.bus = p }
}

// WithRecorder records every command outcome to r.
func WithRecorder(r Recorder) Option {
	return func(c *Coordinator) { c.recorder = r }
}

// New creates a coordinator for the given devices.
func New(session Session, live LiveChannel, registry *spec.Registry, devices []device.Device, gateway *device.Gateway, config Config, opts ...Option) *Coordinator {
	c := &Coordinator{
		session:  session,
		live:     live,
		registry: registry,
		config:   config,
		devices:  make([]device.Device, len(devices)),
		index:    make(map[int]int, len(devices)),
		gateway:  gateway,
		trigger:  make(chan struct{}, 1),
	}
	copy(c.devices, devices)
	for i, d := range c.devices {
		c.index[d.ID] = i
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start logs in, registers the push listeners and starts the push
// connection and poll loop in the background. It does not wait for the push
// connection.
func (c *Coordinator) Start(ctx context.Context) error {
	// Discovery may already have logged in
	if !c.session.State().LoggedIn() {
		if err := c.session.Login(ctx); err != nil {
			return fmt.Errorf("login: %w", err)
		}
	}
	c.loggedIn.Store(true)

	c.startOnce.Do(func() {
		c.live.OnUpdate(cloud.ClassHome, c.onHomeUpdate)
		c.live.OnUpdate(cloud.ClassLiveGroup, c.onLiveGroupUpdate)
		c.live.OnUpdate(cloud.ClassPresence, c.onPresenceUpdate)
		c.live.OnConnection(c.onConnection)

		runCtx, cancel := context.WithCancel(context.Background())
		c.cancel = cancel

		c.live.Start(runCtx)

		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.pollLoop(runCtx)
		}()
	})

	log.Info().
		Int("devices", len(c.devices)).
		Dur("poll_interval", c.config.PollInterval).
		Msg("Coordinator started")
	return nil
}

// Stop closes the push connection and stops background work. No listener
// fires once Stop has begun. Safe to call multiple times.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		c.stopping.Store(true)
		if c.cancel != nil {
			c.cancel()
		}
		c.live.Close()
		c.wg.Wait()
		log.Info().Msg("Coordinator stopped")
	})
}

// Ready reports whether the session is logged in and the push channel healthy.
func (c *Coordinator) Ready() bool {
	return c.loggedIn.Load() && !c.stopping.Load() && c.live.Healthy()
}

// TriggerRefresh requests an asynchronous refresh. Non-blocking.
func (c *Coordinator) TriggerRefresh() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

func (c *Coordinator) pollLoop(ctx context.Context) {
	var tick <-chan time.Time
	if c.config.PollInterval > 0 {
		ticker := time.NewTicker(c.config.PollInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	c.refreshLogged(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			c.refreshLogged(ctx)
		case <-c.trigger:
			c.refreshLogged(ctx)
		}
	}
}

func (c *Coordinator) refreshLogged(ctx context.Context) {
	if _, err := c.Refresh(ctx); err != nil && ctx.Err() == nil {
		log.Warn().Err(err).Msg("Device refresh failed")
	}
}

// Refresh fetches the home object and merges its status map.
// Home and device data are never cached.
func (c *Coordinator) Refresh(ctx context.Context) ([]device.Device, error) {
	home, err := c.session.Home(ctx)
	if err != nil {
		return nil, err
	}
	devices := c.Merge(home.OnlineList)

	c.mu.Lock()
	c.lastRefresh = time.Now()
	c.mu.Unlock()

	return devices, nil
}

// Merge applies a status map keyed by device id. Devices absent from the
// map keep their prior status; unknown ids are ignored. It returns the
// updated device list.
func (c *Coordinator) Merge(statuses map[string]device.Status) []device.Device {
	var changed []device.Device

	c.mu.Lock()
	for key, status := range statuses {
		id, err := strconv.Atoi(key)
		if err != nil {
			continue
		}
		i, ok := c.index[id]
		if !ok {
			log.Trace().Int("device_id", id).Msg("Ignoring status for unknown device")
			continue
		}
		c.devices[i].Status = status.Clone()
		changed = append(changed, c.devices[i])
	}
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	for _, d := range changed {
		c.publishDeviceState(d)
	}
	return snapshot
}

// PublishStates republishes the current state of every device.
func (c *Coordinator) PublishStates() {
	for _, d := range c.Devices() {
		c.publishDeviceState(d)
	}
}

func (c *Coordinator) snapshotLocked() []device.Device {
	out := make([]device.Device, len(c.devices))
	for i, d := range c.devices {
		d.Status = d.Status.Clone()
		out[i] = d
	}
	return out
}

// Devices returns a copy of the device list.
func (c *Coordinator) Devices() []device.Device {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

// Device returns a copy of one device.
func (c *Coordinator) Device(id int) (device.Device, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.index[id]
	if !ok {
		return device.Device{}, false
	}
	d := c.devices[i]
	d.Status = d.Status.Clone()
	return d, true
}

// Gateway returns the home gateway, if known.
func (c *Coordinator) Gateway() *device.Gateway {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.gateway == nil {
		return nil
	}
	gw := *c.gateway
	return &gw
}

// LastRefresh returns the time of the last successful refresh.
func (c *Coordinator) LastRefresh() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastRefresh
}

// Spec returns the device spec for a managed device.
func (c *Coordinator) Spec(id int) (spec.DeviceSpec, error) {
	d, ok := c.Device(id)
	if !ok {
		return spec.DeviceSpec{}, fmt.Errorf("%w: %d", ErrUnknownDevice, id)
	}
	return c.registry.Spec(d.Type, d.SType)
}

// LightState derives the current light state of a device.
func (c *Coordinator) LightState(id int) (device.LightState, error) {
	d, ok := c.Device(id)
	if !ok {
		return device.LightState{}, fmt.Errorf("%w: %d", ErrUnknownDevice, id)
	}
	s, err := c.registry.Spec(d.Type, d.SType)
	if err != nil {
		return device.LightState{}, err
	}
	return device.DeriveLightState(s, d.Status), nil
}

func (c *Coordinator) publish(t eventbus.EventType, data map[string]any) {
	if c.bus == nil || c.stopping.Load() {
		return
	}
	c.bus.Publish(eventbus.Event{Type: t, Data: data})
}

func (c *Coordinator) publishDeviceState(d device.Device) {
	data := map[string]any{
		"device_id": d.ID,
		"name":      d.Name,
		"status":    map[string]any(d.Status.Clone()),
	}
	if s, err := c.registry.Spec(d.Type, d.SType); err == nil && s.IsLight() {
		data["light"] = device.DeriveLightState(s, d.Status)
	}
	c.publish(eventbus.EventTypeDeviceState, data)
}

func (c *Coordinator) onHomeUpdate(obj cloud.Object) {
	if c.stopping.Load() {
		return
	}
	log.Debug().Str("home_id", obj.ObjectID()).Msg("Home update received, refreshing")
	c.TriggerRefresh()
}

func (c *Coordinator) onLiveGroupUpdate(obj cloud.Object) {
	if c.stopping.Load() {
		return
	}
	c.publish(eventbus.EventTypeLiveGroup, map[string]any(obj))
}

func (c *Coordinator) onPresenceUpdate(obj cloud.Object) {
	if c.stopping.Load() {
		return
	}
	c.publish(eventbus.EventTypePresence, map[string]any(obj))
}

func (c *Coordinator) onConnection(connected bool) {
	if c.stopping.Load() {
		return
	}
	c.publish(eventbus.EventTypeConnection, map[string]any{"connected": connected})
	if connected {
		// State may have changed while disconnected.
		c.TriggerRefresh()
	}
}
