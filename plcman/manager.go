// Package plcman provides PLC connection management with background polling.
package plcman

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"s7link/config"
	"s7link/logging"
	"s7link/s7"
)

// ConnectionStatus represents the state of a PLC connection.
type ConnectionStatus int

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusError
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "Disconnected"
	case StatusConnecting:
		return "Connecting"
	case StatusConnected:
		return "Connected"
	case StatusError:
		return "Error"
	default:
		return "Unknown"
	}
}

// HealthStatus represents the health state of a PLC for publishing.
type HealthStatus struct {
	Driver    string    `json:"driver"`
	Online    bool      `json:"online"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// MaxConnectRetries is the number of consecutive failed connection attempts
// after which a PLC is flagged RetryLimited. Reconnection does not stop there:
// scheduled reconnects and the watchdog reset the count and try again.
const MaxConnectRetries = 5

// ManagedPLC represents an S7 PLC under management.
type ManagedPLC struct {
	Config       *config.PLCConfig
	Client       *s7.Client // nil when disconnected
	DeviceInfo   *DeviceInfo
	ManualTags   []TagInfo // tags built from config.Tags
	ManualTagGen uint64    // incremented when ManualTags are rebuilt
	Values       map[string]*TagValue
	Status       ConnectionStatus
	LastError    error
	LastPoll     time.Time
	ConnRetries  int  // consecutive failed connection attempts
	RetryLimited bool // true once the retry limit is reached; cleared by the next reconnect attempt
	mu           sync.RWMutex
}

// GetStatus returns the current connection status thread-safely.
func (m *ManagedPLC) GetStatus() ConnectionStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Status
}

// IsTagWritable returns whether a tag is configured as writable.
func (m *ManagedPLC) IsTagWritable(tagName string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Config == nil {
		return false
	}
	for _, tag := range m.Config.Tags {
		if tag.Name == tagName {
			return tag.Writable
		}
	}
	return false
}

// GetManualTagGen returns the manual tag generation counter. This increments
// whenever ManualTags are rebuilt (connect, config change, type resolution).
func (m *ManagedPLC) GetManualTagGen() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ManualTagGen
}

// GetTagInfo returns whether a tag exists and if it's writable, thread-safely.
func (m *ManagedPLC) GetTagInfo(tagName string) (bool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Config == nil {
		return false, false
	}
	for _, tag := range m.Config.Tags {
		if tag.Name == tagName {
			return true, tag.Writable
		}
	}
	return false, false
}

// GetError returns the last error thread-safely.
func (m *ManagedPLC) GetError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastError
}

// GetHealthStatus returns the current health status for publishing.
func (m *ManagedPLC) GetHealthStatus() HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	health := HealthStatus{
		Driver:    "s7",
		Timestamp: time.Now().UTC(),
	}

	if m.Config != nil && !m.Config.Enabled {
		health.Online = false
		health.Status = "disabled"
		return health
	}

	switch m.Status {
	case StatusConnected:
		health.Online = true
		health.Status = "connected"
	case StatusConnecting:
		health.Online = false
		health.Status = "connecting"
	case StatusDisconnected:
		health.Online = false
		health.Status = "disconnected"
	case StatusError:
		health.Online = false
		health.Status = "error"
	default:
		health.Online = false
		health.Status = "unknown"
	}

	if m.LastError != nil {
		health.Error = m.LastError.Error()
	} else if !health.Online && health.Status != "disabled" && health.Status != "connecting" {
		health.Error = "unknown error"
	}

	return health
}

// GetValues returns a copy of the current tag values.
func (m *ManagedPLC) GetValues() map[string]*TagValue {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make(map[string]*TagValue, len(m.Values))
	for k, v := range m.Values {
		result[k] = v
	}
	return result
}

// GetTags returns the manual tags built from config. S7 has no online tag
// discovery, so this is the full tag list for the PLC.
func (m *ManagedPLC) GetTags() []TagInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ManualTags
}

// BuildManualTags creates TagInfo entries from config.Tags. Preserves
// previously resolved type codes so that array types don't get reset to
// the default on every rebuild.
func (m *ManagedPLC) BuildManualTags() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Config == nil {
		m.ManualTags = nil
		m.ManualTagGen++
		return
	}

	oldTypes := make(map[string]TagInfo, len(m.ManualTags))
	for _, t := range m.ManualTags {
		oldTypes[t.Name] = t
	}

	newTags := make([]TagInfo, 0, len(m.Config.Tags))
	for _, sel := range m.Config.Tags {
		typeCode, ok := s7.TypeCodeFromName(sel.DataType)
		if !ok {
			typeCode = s7.TypeDInt
		}
		typeName := s7.TypeName(typeCode)

		var dimensions []uint32
		if parsed, err := s7.ParseAddress(sel.Name); err == nil && parsed.Count > 1 {
			dimensions = []uint32{uint32(parsed.Count)}
			typeCode = s7.MakeArrayType(typeCode)
		}

		// Carry forward a previously resolved type if config didn't specify one.
		if old, exists := oldTypes[sel.Name]; exists && !ok && old.TypeCode != typeCode {
			typeCode = old.TypeCode
			typeName = old.TypeName
		}

		newTags = append(newTags, TagInfo{
			Name:       sel.Name,
			TypeCode:   typeCode,
			TypeName:   typeName,
			Writable:   sel.Writable,
			Dimensions: dimensions,
		})
	}

	changed := len(newTags) != len(m.ManualTags)
	if !changed {
		for i := range newTags {
			if newTags[i].Name != m.ManualTags[i].Name || newTags[i].TypeCode != m.ManualTags[i].TypeCode {
				changed = true
				break
			}
		}
	}

	m.ManualTags = newTags
	if changed {
		m.ManualTagGen++
	}
}

// GetDeviceInfo returns the device information.
func (m *ManagedPLC) GetDeviceInfo() *DeviceInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.DeviceInfo
}

// GetClient returns the underlying S7 client.
func (m *ManagedPLC) GetClient() *s7.Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Client
}

// GetConnectionMode returns a human-readable string describing the connection mode.
func (m *ManagedPLC) GetConnectionMode() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Client != nil {
		return m.Client.ConnectionMode()
	}
	return "Not connected"
}

// ValueChange represents a tag value that has changed.
type ValueChange struct {
	PLCName  string
	TagName  string // the S7 address, e.g. "DB1.DBD0"
	Alias    string // user-defined alias/name
	Address  string // uppercased address, for troubleshooting
	TypeName string
	Value    interface{}
	Writable bool
	// Service inhibit flags - when true, don't publish to that service
	NoREST   bool
	NoMQTT   bool
	NoKafka  bool
	NoValkey bool
}

// PollStats tracks polling statistics for debugging.
type PollStats struct {
	LastPollTime time.Time
	TagsPolled   int
	ChangesFound int
	LastError    error
}

// PLCWorker manages polling for a single PLC in its own goroutine.
type PLCWorker struct {
	plc      *ManagedPLC
	manager  *Manager
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	pollRate time.Duration

	// Per-worker stats
	tagsPolled   int
	changesFound int
	lastError    error
	statsMu      sync.RWMutex
}

// newPLCWorker creates a new worker for a PLC.
func newPLCWorker(plc *ManagedPLC, manager *Manager, pollRate time.Duration) *PLCWorker {
	ctx, cancel := context.WithCancel(context.Background())
	return &PLCWorker{
		plc:      plc,
		manager:  manager,
		ctx:      ctx,
		cancel:   cancel,
		pollRate: pollRate,
	}
}

// Start begins the worker's poll loop.
func (w *PLCWorker) Start() {
	w.wg.Add(1)
	go w.pollLoop()
}

// Stop halts the worker and waits for it to finish.
func (w *PLCWorker) Stop() {
	w.cancel()
	w.wg.Wait()
}

// GetStats returns the worker's current stats.
func (w *PLCWorker) GetStats() (tagsPolled, changesFound int, lastError error) {
	w.statsMu.RLock()
	defer w.statsMu.RUnlock()
	return w.tagsPolled, w.changesFound, w.lastError
}

func (w *PLCWorker) pollLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.pollRate)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.poll()
		}
	}
}

func (w *PLCWorker) poll() {
	plc := w.plc

	plc.mu.RLock()
	client := plc.Client
	status := plc.Status
	cfg := plc.Config
	plcName := cfg.Name

	tagsToRead := make([]string, 0)
	writableMap := make(map[string]bool)
	aliasMap := make(map[string]string)
	typeMap := make(map[string]string)
	ignoreMap := make(map[string][]string)
	noRESTMap := make(map[string]bool)
	noMQTTMap := make(map[string]bool)
	noKafkaMap := make(map[string]bool)
	noValkeyMap := make(map[string]bool)

	// S7 addresses are case-insensitive, so map keys are normalized to uppercase.
	normalizeKey := strings.ToUpper

	for _, sel := range cfg.Tags {
		if sel.Enabled {
			tagsToRead = append(tagsToRead, sel.Name)
		}
		key := normalizeKey(sel.Name)
		writableMap[key] = sel.Writable
		aliasMap[key] = sel.Alias
		noRESTMap[key] = sel.NoREST
		noMQTTMap[key] = sel.NoMQTT
		noKafkaMap[key] = sel.NoKafka
		noValkeyMap[key] = sel.NoValkey
		if sel.DataType != "" {
			typeMap[sel.Name] = sel.DataType
		}
		if len(sel.IgnoreChanges) > 0 {
			ignoreMap[key] = sel.IgnoreChanges
		}
	}
	oldStableValues := make(map[string]interface{})
	for k, v := range plc.Values {
		if v != nil && v.Error == nil {
			oldStableValues[k] = v.StableValue
		}
	}
	plc.mu.RUnlock()

	hasConnection := client != nil && client.IsConnected()

	if status != StatusConnected || !hasConnection {
		plc.mu.RLock()
		autoConnect := plc.Config.Enabled
		plc.mu.RUnlock()

		needsReconnect := autoConnect && (status == StatusDisconnected || status == StatusError)

		if needsReconnect || (client != nil && !client.IsConnected()) {
			plc.mu.Lock()
			plc.Status = StatusDisconnected
			if plc.Client != nil {
				plc.Client.Close()
				plc.Client = nil
			}
			plc.mu.Unlock()
			w.manager.markStatusDirty()
			go w.manager.scheduleReconnect(plcName)
		}
		w.statsMu.Lock()
		w.tagsPolled = 0
		w.changesFound = 0
		w.lastError = nil
		w.statsMu.Unlock()
		return
	}

	if len(tagsToRead) == 0 {
		w.statsMu.Lock()
		w.tagsPolled = 0
		w.changesFound = 0
		w.lastError = nil
		w.statsMu.Unlock()
		return
	}

	requests := make([]s7.TagRequest, len(tagsToRead))
	for i, name := range tagsToRead {
		requests[i] = s7.TagRequest{Address: name, TypeHint: typeMap[name]}
	}

	rawValues, err := client.ReadWithTypes(requests)

	var values []*TagValue
	if err == nil {
		values = make([]*TagValue, len(rawValues))
		for i, rv := range rawValues {
			values[i] = FromS7TagValue(rv)
			if ignoreList, ok := ignoreMap[normalizeKey(rv.Name)]; ok {
				values[i].SetIgnoreList(ignoreList)
			}
		}
	}

	if err != nil {
		plc.mu.Lock()
		plc.LastError = err
		autoConnect := plc.Config.Enabled

		clientDisconnected := client != nil && !client.IsConnected()
		if clientDisconnected {
			plc.Status = StatusDisconnected
			if plc.Client != nil {
				plc.Client.Close()
				plc.Client = nil
			}
			logging.DebugLog("plcman", "POLL %s: read error, client disconnected: %v", plcName, err)
		} else {
			plc.Status = StatusError
			logging.DebugLog("plcman", "POLL %s: read error (client still connected): %v", plcName, err)
		}

		plcNameForLog := plc.Config.Name
		plc.mu.Unlock()

		w.statsMu.Lock()
		w.tagsPolled = len(tagsToRead)
		w.changesFound = 0
		w.lastError = err
		w.statsMu.Unlock()

		w.manager.markStatusDirty()

		if autoConnect && clientDisconnected {
			logging.DebugLog("plcman", "POLL %s: scheduling reconnect after error", plcNameForLog)
			w.manager.log("[yellow]PLC %s connection lost, scheduling reconnect[-]", plcNameForLog)
			go w.manager.scheduleReconnect(plcNameForLog)
		}

		return
	}

	var changes []ValueChange
	plc.mu.Lock()
	for _, v := range values {
		if v.Error == nil {
			newVal := v.GoValue()
			newStableVal := v.StableValue
			oldStableVal, existed := oldStableValues[v.Name]
			if !existed || fmt.Sprintf("%v", oldStableVal) != fmt.Sprintf("%v", newStableVal) {
				lookupKey := normalizeKey(v.Name)
				vc := ValueChange{
					PLCName:  plcName,
					TagName:  v.Name,
					Alias:    aliasMap[lookupKey],
					Address:  strings.ToUpper(v.Name),
					TypeName: v.TypeName(),
					Value:    newVal,
					Writable: writableMap[lookupKey],
					NoREST:   noRESTMap[lookupKey],
					NoMQTT:   noMQTTMap[lookupKey],
					NoKafka:  noKafkaMap[lookupKey],
					NoValkey: noValkeyMap[lookupKey],
				}
				changes = append(changes, vc)
			}
		}
		plc.Values[v.Name] = v

		// Persist the resolved type code back into ManualTags/config once the
		// first successful read reveals the real type behind a default DINT.
		if v.Error == nil && len(plc.ManualTags) > 0 {
			for i := range plc.ManualTags {
				if plc.ManualTags[i].Name == v.Name && plc.ManualTags[i].TypeCode != v.DataType {
					plc.ManualTags[i].TypeCode = v.DataType
					plc.ManualTagGen++
					resolvedName := s7.TypeName(v.DataType)
					plc.ManualTags[i].TypeName = resolvedName
					for j := range cfg.Tags {
						if cfg.Tags[j].Name == v.Name {
							if _, canPersist := s7.TypeCodeFromName(resolvedName); canPersist {
								cfg.Tags[j].DataType = resolvedName
							}
							break
						}
					}
					break
				}
			}
		}
	}
	plc.LastPoll = time.Now()
	plc.mu.Unlock()

	w.statsMu.Lock()
	w.tagsPolled = len(tagsToRead)
	w.changesFound = len(changes)
	w.lastError = nil
	w.statsMu.Unlock()

	if len(changes) > 0 {
		w.manager.sendChanges(changes)
	}
	w.manager.markStatusDirty()
}

// ListenerID identifies a registered change/value-change callback.
type ListenerID string

// Manager coordinates a set of managed PLCs and their background pollers.
type Manager struct {
	plcs    map[string]*ManagedPLC
	workers map[string]*PLCWorker
	mu      sync.RWMutex

	pollRate      time.Duration
	batchInterval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Legacy single callbacks (for backward compatibility)
	onChange      func()
	onValueChange func(changes []ValueChange)
	onLog         func(format string, args ...interface{})

	// Multi-listener support
	changeListeners      map[ListenerID]func()
	valueChangeListeners map[ListenerID]func([]ValueChange)
	listenersMu          sync.RWMutex
	listenerCounter      uint64

	// Batched update channels
	changeChan  chan []ValueChange
	statusDirty int32

	lastPollStats PollStats
	statsMu       sync.RWMutex

	// Track in-progress reconnections to prevent duplicates
	reconnecting   map[string]bool
	reconnectingMu sync.Mutex
}

// NewManager creates a new PLC manager.
func NewManager(pollRate time.Duration) *Manager {
	if pollRate <= 0 {
		pollRate = time.Second
	}
	return &Manager{
		plcs:                 make(map[string]*ManagedPLC),
		workers:              make(map[string]*PLCWorker),
		pollRate:             pollRate,
		batchInterval:        100 * time.Millisecond,
		changeChan:           make(chan []ValueChange, 100),
		reconnecting:         make(map[string]bool),
		changeListeners:      make(map[ListenerID]func()),
		valueChangeListeners: make(map[ListenerID]func([]ValueChange)),
	}
}

// SetOnChange sets a callback that fires when PLC status changes.
func (m *Manager) SetOnChange(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

// SetOnValueChange sets a callback that fires when tag values change.
func (m *Manager) SetOnValueChange(fn func(changes []ValueChange)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onValueChange = fn
}

// SetOnLog sets a callback for logging messages (for TUI integration).
func (m *Manager) SetOnLog(fn func(format string, args ...interface{})) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onLog = fn
}

// AddOnChangeListener registers a callback for PLC status changes.
func (m *Manager) AddOnChangeListener(cb func()) ListenerID {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	id := ListenerID(fmt.Sprintf("change-%d", atomic.AddUint64(&m.listenerCounter, 1)))
	m.changeListeners[id] = cb
	return id
}

// RemoveOnChangeListener removes a previously registered change listener.
func (m *Manager) RemoveOnChangeListener(id ListenerID) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	delete(m.changeListeners, id)
}

// AddOnValueChangeListener registers a callback for tag value changes.
func (m *Manager) AddOnValueChangeListener(cb func([]ValueChange)) ListenerID {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	id := ListenerID(fmt.Sprintf("value-%d", atomic.AddUint64(&m.listenerCounter, 1)))
	m.valueChangeListeners[id] = cb
	return id
}

// RemoveOnValueChangeListener removes a previously registered value change listener.
func (m *Manager) RemoveOnValueChangeListener(id ListenerID) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	delete(m.valueChangeListeners, id)
}

func (m *Manager) log(format string, args ...interface{}) {
	m.mu.RLock()
	fn := m.onLog
	m.mu.RUnlock()
	if fn != nil {
		fn(format, args...)
	}
}

func (m *Manager) markStatusDirty() {
	atomic.StoreInt32(&m.statusDirty, 1)
}

func (m *Manager) sendChanges(changes []ValueChange) {
	select {
	case m.changeChan <- changes:
	default:
		select {
		case <-m.changeChan:
		default:
		}
		select {
		case m.changeChan <- changes:
		default:
		}
	}
}

// AddPLC adds a PLC to management.
func (m *Manager) AddPLC(cfg *config.PLCConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.plcs[cfg.Name]; exists {
		return nil
	}

	plc := &ManagedPLC{
		Config: cfg,
		Status: StatusDisconnected,
		Values: make(map[string]*TagValue),
	}
	m.plcs[cfg.Name] = plc

	plc.BuildManualTags()

	if m.ctx != nil {
		pollRate := m.getEffectivePollRate(cfg)
		worker := newPLCWorker(plc, m, pollRate)
		m.workers[cfg.Name] = worker
		worker.Start()
	}

	return nil
}

// Polling rate limits.
const (
	MinPollRate = 250 * time.Millisecond
	MaxPollRate = 10000 * time.Millisecond
)

// getEffectivePollRate returns the poll rate for a PLC, enforcing MinPollRate.
func (m *Manager) getEffectivePollRate(cfg *config.PLCConfig) time.Duration {
	rate := m.pollRate
	if cfg.PollRate > 0 {
		rate = cfg.PollRate
	}
	if rate < MinPollRate {
		rate = MinPollRate
	}
	return rate
}

// RemovePLC removes a PLC from management and disconnects it.
func (m *Manager) RemovePLC(name string) error {
	m.mu.Lock()
	plc, exists := m.plcs[name]
	worker := m.workers[name]
	if exists {
		delete(m.plcs, name)
		delete(m.workers, name)
	}
	m.mu.Unlock()

	if worker != nil {
		worker.Stop()
	}

	if exists && plc.Client != nil {
		plc.Client.Close()
	}

	m.markStatusDirty()
	return nil
}

// connectPLC establishes an S7 connection for the PLC.
func (m *Manager) connectPLC(plc *ManagedPLC) error {
	plc.mu.Lock()
	plc.Status = StatusConnecting
	plc.LastError = nil
	cfg := plc.Config
	plcName := cfg.Name
	plc.mu.Unlock()
	m.markStatusDirty()

	logging.DebugLog("plcman", "CONNECT %s: starting connection (address=%s rack=%d slot=%d)",
		plcName, cfg.Address, cfg.Rack, cfg.Slot)

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client, err := s7.Connect(cfg.Address, s7.WithRackSlot(int(cfg.Rack), int(cfg.Slot)), s7.WithTimeout(timeout))
	if err != nil {
		plc.mu.Lock()
		plc.ConnRetries++
		retryCount := plc.ConnRetries
		if plc.ConnRetries >= MaxConnectRetries {
			plc.RetryLimited = true
			plc.Status = StatusDisconnected
			plc.LastError = fmt.Errorf("retry limit reached (%d attempts): %w", MaxConnectRetries, err)
			logging.DebugLog("plcman", "CONNECT %s: FAILED - retry limit reached (%d/%d): %v",
				plcName, retryCount, MaxConnectRetries, err)
		} else {
			plc.Status = StatusError
			plc.LastError = err
			logging.DebugLog("plcman", "CONNECT %s: FAILED attempt %d/%d: %v",
				plcName, retryCount, MaxConnectRetries, err)
		}
		name := plc.Config.Name
		lastErr := plc.LastError
		plc.mu.Unlock()
		m.markStatusDirty()
		m.log("[red]PLC %s connection failed:[-] %v", name, lastErr)
		return err
	}

	logging.DebugLog("plcman", "CONNECT %s: connection established, mode=%s", plcName, client.ConnectionMode())

	var deviceInfo *DeviceInfo
	if info, err := client.GetCPUInfo(); err == nil {
		deviceInfo = &DeviceInfo{
			Vendor:       "Siemens",
			Model:        info.ModuleTypeName,
			Version:      info.ASName,
			SerialNumber: info.SerialNumber,
			Description:  info.ModuleName,
		}
		logging.DebugLog("plcman", "CONNECT %s: device info - model=%s serial=%s",
			plcName, deviceInfo.Model, deviceInfo.SerialNumber)
	} else {
		logging.DebugLog("plcman", "CONNECT %s: GetCPUInfo failed: %v", plcName, err)
	}

	plc.mu.Lock()
	plc.Client = client
	plc.DeviceInfo = deviceInfo
	plc.Status = StatusConnected
	plc.ConnRetries = 0
	plc.RetryLimited = false
	name := plc.Config.Name
	plc.mu.Unlock()

	plc.BuildManualTags()

	m.markStatusDirty()
	m.log("[green]PLC %s connected:[-] %s, %d tags", name, client.ConnectionMode(), len(plc.GetTags()))

	return nil
}

// Connect establishes a connection to the named PLC.
func (m *Manager) Connect(name string) error {
	m.mu.RLock()
	plc, exists := m.plcs[name]
	m.mu.RUnlock()

	if !exists {
		return fmt.Errorf("PLC not found: %s", name)
	}

	plc.mu.Lock()
	plc.ConnRetries = 0
	plc.RetryLimited = false
	plc.mu.Unlock()

	go m.connectPLC(plc)
	return nil
}

// Disconnect closes the connection to the named PLC.
func (m *Manager) Disconnect(name string) error {
	m.mu.RLock()
	plc, exists := m.plcs[name]
	m.mu.RUnlock()

	if !exists {
		logging.DebugLog("plcman", "DISCONNECT %s: PLC not found", name)
		return nil
	}

	logging.DebugLog("plcman", "DISCONNECT %s: closing connection", name)

	plc.mu.Lock()
	if plc.Client != nil {
		plc.Client.Close()
		plc.Client = nil
	}
	plc.Status = StatusDisconnected
	plc.LastError = nil
	plc.DeviceInfo = nil
	plc.mu.Unlock()
	m.markStatusDirty()

	logging.DebugLog("plcman", "DISCONNECT %s: connection closed", name)
	return nil
}

// GetPLC returns the managed PLC with the given name.
func (m *Manager) GetPLC(name string) *ManagedPLC {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.plcs[name]
}

// ListPLCs returns all managed PLCs.
func (m *Manager) ListPLCs() []*ManagedPLC {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*ManagedPLC, 0, len(m.plcs))
	for _, plc := range m.plcs {
		result = append(result, plc)
	}
	return result
}

// Start begins background polling for all PLCs.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.ctx != nil {
		m.mu.Unlock()
		logging.DebugLog("plcman", "START: already running, ignoring")
		return
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())

	logging.DebugLog("plcman", "START: initializing manager with %d PLCs", len(m.plcs))

	for name, plc := range m.plcs {
		pollRate := m.getEffectivePollRate(plc.Config)
		worker := newPLCWorker(plc, m, pollRate)
		m.workers[name] = worker
		worker.Start()
		logging.DebugLog("plcman", "START: started worker for %s (poll_rate=%v)", name, pollRate)
	}
	m.mu.Unlock()

	m.wg.Add(1)
	go m.batchedUpdateLoop()

	m.wg.Add(1)
	go m.statsAggregatorLoop()

	m.wg.Add(1)
	go m.watchdogLoop()

	logging.DebugLog("plcman", "START: manager started successfully")
}

// Stop halts all background polling.
func (m *Manager) Stop() {
	logging.DebugLog("plcman", "STOP: shutting down manager")

	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
	}

	workers := make([]*PLCWorker, 0, len(m.workers))
	for _, w := range m.workers {
		workers = append(workers, w)
	}
	m.workers = make(map[string]*PLCWorker)
	m.mu.Unlock()

	logging.DebugLog("plcman", "STOP: stopping %d workers", len(workers))

	workersDone := make(chan struct{})
	go func() {
		for _, w := range workers {
			w.Stop()
		}
		close(workersDone)
	}()
	select {
	case <-workersDone:
		logging.DebugLog("plcman", "STOP: all workers stopped")
	case <-time.After(500 * time.Millisecond):
		logging.DebugLog("plcman", "STOP: worker shutdown timeout, proceeding")
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logging.DebugLog("plcman", "STOP: manager goroutines completed")
	case <-time.After(500 * time.Millisecond):
		logging.DebugLog("plcman", "STOP: manager goroutine timeout, proceeding")
	}

	m.mu.Lock()
	m.ctx = nil
	m.cancel = nil
	m.mu.Unlock()

	logging.DebugLog("plcman", "STOP: manager stopped")
}

// batchedUpdateLoop aggregates changes and triggers UI updates at a controlled rate.
func (m *Manager) batchedUpdateLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.batchInterval)
	defer ticker.Stop()

	var pendingChanges []ValueChange

	for {
		select {
		case <-m.ctx.Done():
			if len(pendingChanges) > 0 {
				m.flushValueChanges(pendingChanges)
			}
			return

		case changes := <-m.changeChan:
			pendingChanges = append(pendingChanges, changes...)

		case <-ticker.C:
			if atomic.CompareAndSwapInt32(&m.statusDirty, 1, 0) {
				m.fireOnChange()
			}

			if len(pendingChanges) > 0 {
				m.flushValueChanges(pendingChanges)
				pendingChanges = nil
			}
		}
	}
}

// fireOnChange calls all registered change listeners in goroutines.
func (m *Manager) fireOnChange() {
	m.mu.RLock()
	fn := m.onChange
	m.mu.RUnlock()
	if fn != nil {
		fn()
	}

	m.listenersMu.RLock()
	listeners := make([]func(), 0, len(m.changeListeners))
	for _, cb := range m.changeListeners {
		listeners = append(listeners, cb)
	}
	m.listenersMu.RUnlock()

	for _, cb := range listeners {
		go cb()
	}
}

// flushValueChanges calls all value change callbacks with accumulated changes.
func (m *Manager) flushValueChanges(changes []ValueChange) {
	if len(changes) == 0 {
		return
	}

	m.mu.RLock()
	fn := m.onValueChange
	m.mu.RUnlock()
	if fn != nil {
		fn(changes)
	}

	m.listenersMu.RLock()
	listeners := make([]func([]ValueChange), 0, len(m.valueChangeListeners))
	for _, cb := range m.valueChangeListeners {
		listeners = append(listeners, cb)
	}
	m.listenersMu.RUnlock()

	for _, cb := range listeners {
		changesCopy := make([]ValueChange, len(changes))
		copy(changesCopy, changes)
		go cb(changesCopy)
	}
}

// statsAggregatorLoop periodically aggregates stats from all workers.
func (m *Manager) statsAggregatorLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.aggregateStats()
		}
	}
}

func (m *Manager) aggregateStats() {
	m.mu.RLock()
	workers := make([]*PLCWorker, 0, len(m.workers))
	for _, w := range m.workers {
		workers = append(workers, w)
	}
	m.mu.RUnlock()

	totalTags := 0
	totalChanges := 0
	var lastErr error

	for _, w := range workers {
		tags, changes, err := w.GetStats()
		totalTags += tags
		totalChanges += changes
		if err != nil {
			lastErr = err
		}
	}

	m.statsMu.Lock()
	m.lastPollStats = PollStats{
		LastPollTime: time.Now(),
		TagsPolled:   totalTags,
		ChangesFound: totalChanges,
		LastError:    lastErr,
	}
	m.statsMu.Unlock()
}

// watchdogLoop periodically checks for disconnected PLCs and attempts reconnection.
func (m *Manager) watchdogLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.checkReconnections()
		}
	}
}

// checkReconnections attempts to reconnect PLCs that are disconnected and have auto-connect enabled.
func (m *Manager) checkReconnections() {
	m.mu.RLock()
	plcs := make([]*ManagedPLC, 0, len(m.plcs))
	for _, plc := range m.plcs {
		plcs = append(plcs, plc)
	}
	m.mu.RUnlock()

	logging.DebugLog("plcman", "WATCHDOG: checking %d PLCs for reconnection", len(plcs))

	for _, plc := range plcs {
		plc.mu.RLock()
		status := plc.Status
		enabled := plc.Config.Enabled
		name := plc.Config.Name
		plc.mu.RUnlock()

		if !enabled {
			continue
		}
		if status == StatusConnected || status == StatusConnecting {
			continue
		}

		m.reconnectingMu.Lock()
		if m.reconnecting[name] {
			m.reconnectingMu.Unlock()
			logging.DebugLog("plcman", "WATCHDOG %s: skipped - reconnection already in progress", name)
			continue
		}
		m.reconnecting[name] = true
		m.reconnectingMu.Unlock()

		logging.DebugLog("plcman", "WATCHDOG %s: scheduling reconnection (status=%s)", name, status)

		go func(p *ManagedPLC, n string) {
			defer func() {
				m.reconnectingMu.Lock()
				delete(m.reconnecting, n)
				m.reconnectingMu.Unlock()
			}()

			p.mu.Lock()
			p.ConnRetries = 0
			p.RetryLimited = false
			p.mu.Unlock()

			m.connectPLC(p)
		}(plc, name)
	}
}

// scheduleReconnect schedules a reconnection attempt for a PLC after a short delay.
func (m *Manager) scheduleReconnect(name string) {
	logging.DebugLog("plcman", "RECONNECT %s: scheduled, waiting 2s before attempt", name)
	time.Sleep(2 * time.Second)

	m.mu.RLock()
	plc, exists := m.plcs[name]
	m.mu.RUnlock()

	if !exists {
		logging.DebugLog("plcman", "RECONNECT %s: cancelled - PLC no longer exists", name)
		return
	}

	plc.mu.RLock()
	status := plc.Status
	enabled := plc.Config.Enabled
	plc.mu.RUnlock()

	if !enabled || status == StatusConnected || status == StatusConnecting {
		logging.DebugLog("plcman", "RECONNECT %s: skipped - enabled=%v status=%s", name, enabled, status)
		return
	}

	m.reconnectingMu.Lock()
	if m.reconnecting[name] {
		m.reconnectingMu.Unlock()
		logging.DebugLog("plcman", "RECONNECT %s: skipped - already in progress", name)
		return
	}
	m.reconnecting[name] = true
	m.reconnectingMu.Unlock()

	defer func() {
		m.reconnectingMu.Lock()
		delete(m.reconnecting, name)
		m.reconnectingMu.Unlock()
	}()

	plc.mu.Lock()
	plc.ConnRetries = 0
	plc.RetryLimited = false
	plc.mu.Unlock()

	logging.DebugLog("plcman", "RECONNECT %s: attempting reconnection", name)
	m.connectPLC(plc)
}

// ReadTag reads a single tag from a connected PLC.
func (m *Manager) ReadTag(plcName, tagName string) (*TagValue, error) {
	m.mu.RLock()
	plc, exists := m.plcs[plcName]
	m.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("PLC not found: %s", plcName)
	}

	plc.mu.RLock()
	client := plc.Client
	status := plc.Status
	var typeHint string
	for _, sel := range plc.Config.Tags {
		if sel.Name == tagName && sel.DataType != "" {
			typeHint = sel.DataType
			break
		}
	}
	plc.mu.RUnlock()

	if status != StatusConnected || client == nil {
		return nil, fmt.Errorf("PLC not connected: %s (status: %s)", plcName, status)
	}

	values, err := client.ReadWithTypes([]s7.TagRequest{{Address: tagName, TypeHint: typeHint}})
	if err != nil {
		if !client.IsConnected() {
			m.handleConnectionError(plcName, plc, err)
		}
		return nil, err
	}
	if len(values) > 0 && values[0] != nil {
		return FromS7TagValue(values[0]), nil
	}
	return nil, fmt.Errorf("no data returned for tag: %s", tagName)
}

// handleConnectionError marks a PLC as disconnected and schedules reconnection.
func (m *Manager) handleConnectionError(plcName string, plc *ManagedPLC, err error) {
	plc.mu.Lock()
	wasConnected := plc.Status == StatusConnected
	plc.Status = StatusDisconnected
	autoConnect := plc.Config.Enabled
	plc.mu.Unlock()

	logging.DebugLog("plcman", "ERROR %s: connection error (wasConnected=%v autoConnect=%v): %v",
		plcName, wasConnected, autoConnect, err)

	if wasConnected {
		m.log("[yellow]PLC %s connection error: %v[-]", plcName, err)
		m.markStatusDirty()

		if autoConnect {
			logging.DebugLog("plcman", "ERROR %s: scheduling reconnection", plcName)
			go m.scheduleReconnect(plcName)
		}
	}
}

// WriteTag writes a value to a tag on a connected PLC.
func (m *Manager) WriteTag(plcName, tagName string, value interface{}) error {
	m.mu.RLock()
	plc, exists := m.plcs[plcName]
	m.mu.RUnlock()

	if !exists {
		return fmt.Errorf("PLC not found: %s", plcName)
	}

	plc.mu.RLock()
	client := plc.Client
	status := plc.Status
	plc.mu.RUnlock()

	if status != StatusConnected || client == nil {
		return fmt.Errorf("PLC not connected: %s", plcName)
	}

	return client.Write(tagName, value)
}

// LoadFromConfig adds all PLCs from configuration.
func (m *Manager) LoadFromConfig(cfg *config.Config) {
	for i := range cfg.PLCs {
		m.AddPLC(&cfg.PLCs[i])
	}
}

// ConnectEnabled connects all PLCs marked as enabled.
func (m *Manager) ConnectEnabled() {
	m.mu.RLock()
	plcs := make([]*ManagedPLC, 0)
	for _, plc := range m.plcs {
		if plc.Config.Enabled {
			plcs = append(plcs, plc)
		}
	}
	m.mu.RUnlock()

	for _, plc := range plcs {
		go m.connectPLC(plc)
	}
}

// DisconnectAll disconnects all PLCs.
func (m *Manager) DisconnectAll() {
	m.mu.RLock()
	names := make([]string, 0, len(m.plcs))
	for name := range m.plcs {
		names = append(names, name)
	}
	m.mu.RUnlock()

	for _, name := range names {
		m.Disconnect(name)
	}
}

// GetPollStats returns the aggregated stats from all workers.
func (m *Manager) GetPollStats() PollStats {
	m.statsMu.RLock()
	defer m.statsMu.RUnlock()
	return m.lastPollStats
}

// GetTagValueChange returns a single tag's current value as a ValueChange.
func (m *Manager) GetTagValueChange(plcName, tagName string) *ValueChange {
	m.mu.RLock()
	plc, exists := m.plcs[plcName]
	m.mu.RUnlock()

	if !exists || plc == nil {
		return nil
	}

	plc.mu.RLock()
	defer plc.mu.RUnlock()

	val, ok := plc.Values[tagName]
	if !ok || val == nil || val.Error != nil {
		return nil
	}

	var writable bool
	var alias string
	var noREST, noMQTT, noKafka, noValkey bool
	for _, tag := range plc.Config.Tags {
		if tag.Name == tagName {
			writable = tag.Writable
			alias = tag.Alias
			noREST = tag.NoREST
			noMQTT = tag.NoMQTT
			noKafka = tag.NoKafka
			noValkey = tag.NoValkey
			break
		}
	}

	return &ValueChange{
		PLCName:  plcName,
		TagName:  tagName,
		Alias:    alias,
		Address:  strings.ToUpper(tagName),
		TypeName: val.TypeName(),
		Value:    val.GoValue(),
		Writable: writable,
		NoREST:   noREST,
		NoMQTT:   noMQTT,
		NoKafka:  noKafka,
		NoValkey: noValkey,
	}
}

// GetAllCurrentValues returns all currently cached tag values for all PLCs.
func (m *Manager) GetAllCurrentValues() []ValueChange {
	m.mu.RLock()
	plcs := make([]*ManagedPLC, 0, len(m.plcs))
	for _, plc := range m.plcs {
		plcs = append(plcs, plc)
	}
	m.mu.RUnlock()

	var results []ValueChange
	for _, plc := range plcs {
		plc.mu.RLock()
		plcName := plc.Config.Name

		writableMap := make(map[string]bool)
		aliasMap := make(map[string]string)
		noRESTMap := make(map[string]bool)
		noMQTTMap := make(map[string]bool)
		noKafkaMap := make(map[string]bool)
		noValkeyMap := make(map[string]bool)
		for _, tag := range plc.Config.Tags {
			key := strings.ToUpper(tag.Name)
			writableMap[key] = tag.Writable
			aliasMap[key] = tag.Alias
			noRESTMap[key] = tag.NoREST
			noMQTTMap[key] = tag.NoMQTT
			noKafkaMap[key] = tag.NoKafka
			noValkeyMap[key] = tag.NoValkey
		}
		for tagName, val := range plc.Values {
			if val != nil && val.Error == nil {
				lookupKey := strings.ToUpper(tagName)
				results = append(results, ValueChange{
					PLCName:  plcName,
					TagName:  tagName,
					Alias:    aliasMap[lookupKey],
					Address:  strings.ToUpper(tagName),
					TypeName: val.TypeName(),
					Value:    val.GoValue(),
					Writable: writableMap[lookupKey],
					NoREST:   noRESTMap[lookupKey],
					NoMQTT:   noMQTTMap[lookupKey],
					NoKafka:  noKafkaMap[lookupKey],
					NoValkey: noValkeyMap[lookupKey],
				})
			}
		}
		plc.mu.RUnlock()
	}
	return results
}

// RefreshManualTags rebuilds manual tags from config for a specific PLC.
func (m *Manager) RefreshManualTags(name string) {
	m.mu.RLock()
	plc, exists := m.plcs[name]
	m.mu.RUnlock()

	if !exists || plc == nil {
		return
	}

	plc.BuildManualTags()
	m.markStatusDirty()
}

// GetTagType returns the data type code for a tag. Returns 0 if unknown.
func (m *Manager) GetTagType(plcName, tagName string) uint16 {
	m.mu.RLock()
	plc, exists := m.plcs[plcName]
	m.mu.RUnlock()

	if !exists {
		return 0
	}

	plc.mu.RLock()
	if val, ok := plc.Values[tagName]; ok && val != nil {
		dataType := val.DataType
		plc.mu.RUnlock()
		return dataType
	}
	client := plc.Client
	status := plc.Status
	plc.mu.RUnlock()

	if client == nil || status != StatusConnected {
		return 0
	}

	values, err := client.ReadWithTypes([]s7.TagRequest{{Address: tagName}})
	if err != nil || len(values) == 0 || values[0] == nil {
		return 0
	}

	return values[0].DataType
}

// ReadTagValue reads a single tag and returns its Go value. Implements
// rule.TagReader.
func (m *Manager) ReadTagValue(plcName, tagName string) (interface{}, error) {
	val, err := m.ReadTag(plcName, tagName)
	if err != nil {
		return nil, err
	}
	if val == nil {
		return nil, fmt.Errorf("tag not found: %s", tagName)
	}
	if val.Error != nil {
		return nil, val.Error
	}
	return val.GoValue(), nil
}

// ReadTagValues reads multiple tags and returns their Go values. Implements
// rule.TagReader.
func (m *Manager) ReadTagValues(plcName string, tagNames []string) (map[string]interface{}, error) {
	m.mu.RLock()
	plc, exists := m.plcs[plcName]
	m.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("PLC not found: %s", plcName)
	}

	plc.mu.RLock()
	client := plc.Client
	status := plc.Status
	typeMap := make(map[string]string)
	for _, sel := range plc.Config.Tags {
		if sel.DataType != "" {
			typeMap[sel.Name] = sel.DataType
		}
	}
	plc.mu.RUnlock()

	if status != StatusConnected || client == nil {
		return nil, fmt.Errorf("PLC not connected: %s", plcName)
	}

	requests := make([]s7.TagRequest, len(tagNames))
	for i, name := range tagNames {
		requests[i] = s7.TagRequest{Address: name, TypeHint: typeMap[name]}
	}

	values, err := client.ReadWithTypes(requests)
	if err != nil {
		return nil, err
	}

	result := make(map[string]interface{})
	for _, v := range values {
		if v != nil && v.Error == nil {
			result[v.Name] = v.GoValue()
		} else if v != nil {
			result[v.Name] = nil
		}
	}
	return result, nil
}

// RuleTagReader wraps the Manager to implement rule.TagReader.
type RuleTagReader struct {
	Manager *Manager
}

// ReadTag implements rule.TagReader.
func (r *RuleTagReader) ReadTag(plcName, tagName string) (interface{}, error) {
	return r.Manager.ReadTagValue(plcName, tagName)
}

// ReadTags implements rule.TagReader.
func (r *RuleTagReader) ReadTags(plcName string, tagNames []string) (map[string]interface{}, error) {
	return r.Manager.ReadTagValues(plcName, tagNames)
}

// RuleTagWriter wraps the Manager to implement rule.TagWriter.
type RuleTagWriter struct {
	Manager *Manager
}

// WriteTag implements rule.TagWriter.
func (w *RuleTagWriter) WriteTag(plcName, tagName string, value interface{}) error {
	return w.Manager.WriteTag(plcName, tagName, value)
}
