package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/radio-control/apd/internal/config"
)

// Event is one telemetry record, written to SSE clients as
// "id/event/data" frames.
type Event struct {
	ID        int64                  `json:"id,omitempty"`
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Interface string                 `json:"interface,omitempty"`
}

// SnapshotFunc returns the state sent to a client in its ready event.
type SnapshotFunc func(ctx context.Context) interface{}

// Client is one SSE connection. An empty Interface receives the events
// of every interface.
type Client struct {
	ID        string
	Writer    http.ResponseWriter
	Request   *http.Request
	Context   context.Context
	Cancel    context.CancelFunc
	LastID    int64
	Interface string
	Events    chan Event
	once      sync.Once
	mu        sync.Mutex // guards Writer
}

// Hub fans telemetry out to SSE clients and keeps a bounded replay buffer
// per interface.
//
// Lock order: h.mu, then EventBuffer.mu. Client channels are closed
// through Client.once.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*Client
	eventIDs map[string]*int64 // per-interface monotonic ids

	// Buffers are never removed once created.
	buffers map[string]*EventBuffer

	config   *config.TimingConfig
	snapshot SnapshotFunc
	now      func() time.Time

	heartbeatTicker *time.Ticker
	stopHeartbeat   chan bool

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// EventBuffer is a ring of recent events for one interface. Events older
// than the retention are dropped on insert.
type EventBuffer struct {
	mu        sync.RWMutex
	events    []Event
	at        []time.Time
	capacity  int
	retention time.Duration
	nextID    int64
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithSnapshot sets the ready-event snapshot source.
func WithSnapshot(fn SnapshotFunc) HubOption {
	return func(h *Hub) { h.snapshot = fn }
}

// WithHubClock replaces time.Now for buffer retention and heartbeat
// timestamps.
func WithHubClock(now func() time.Time) HubOption {
	return func(h *Hub) { h.now = now }
}

// NewHub creates a telemetry hub sized by timingConfig.
func NewHub(timingConfig *config.TimingConfig, opts ...HubOption) *Hub {
	hub := &Hub{
		clients:  make(map[string]*Client),
		eventIDs: make(map[string]*int64),
		buffers:  make(map[string]*EventBuffer),
		config:   timingConfig,
		now:      time.Now,
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(hub)
	}
	return hub
}

// Subscribe serves one SSE client until ctx ends or the hub stops. The
// optional "interface" query parameter filters the stream; Last-Event-ID
// resumes that interface's stream from the replay buffer.
func (h *Hub) Subscribe(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	clientCtx, cancel := context.WithCancel(ctx)

	lastEventID := int64(0)
	if lastIDStr := r.Header.Get("Last-Event-ID"); lastIDStr != "" {
		if id, err := strconv.ParseInt(lastIDStr, 10, 64); err == nil {
			lastEventID = id
		}
	}

	client := &Client{
		ID:        uuid.NewString(),
		Writer:    w,
		Request:   r,
		Context:   clientCtx,
		Cancel:    cancel,
		LastID:    lastEventID,
		Interface: r.URL.Query().Get("interface"),
		Events:    make(chan Event, 100),
	}

	h.mu.Lock()
	h.clients[client.ID] = client
	h.mu.Unlock()
	klog.V(2).Infof("telemetry: client %s subscribed (interface=%q, last-event-id=%d)", client.ID, client.Interface, lastEventID)

	if err := h.sendReadyEvent(client); err != nil {
		h.unregisterClient(client.ID)
		return fmt.Errorf("failed to send ready event: %w", err)
	}

	if lastEventID > 0 && client.Interface != "" {
		if err := h.replayEvents(client, lastEventID); err != nil {
			h.unregisterClient(client.ID)
			return fmt.Errorf("failed to replay events: %w", err)
		}
	}

	h.mu.Lock()
	if len(h.clients) == 1 && h.heartbeatTicker == nil {
		h.startHeartbeat()
	}
	h.mu.Unlock()

	h.handleClient(client)
	return nil
}

// Publish assigns the next id of the event's interface, buffers it and
// delivers it to every matching client. Slow clients drop the event.
func (h *Hub) Publish(event Event) error {
	select {
	case <-h.done:
		return nil
	default:
	}

	if event.ID == 0 {
		event.ID = h.getNextEventID(event.Interface)
	}
	if event.Interface != "" {
		h.bufferEvent(event)
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		if client.wants(event) {
			clients = append(clients, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range clients {
		select {
		case <-client.Context.Done():
			continue
		case <-h.done:
			return nil
		case client.Events <- event:
		case <-time.After(100 * time.Millisecond):
			klog.V(4).Infof("telemetry: dropped %s event %d for slow client %s", event.Type, event.ID, client.ID)
		}
	}
	return nil
}

// PublishInterface publishes an event on the stream of iface.
func (h *Hub) PublishInterface(iface string, event Event) error {
	event.Interface = iface
	return h.Publish(event)
}

// Buffer returns the replay buffer of iface, or nil.
func (h *Hub) Buffer(iface string) *EventBuffer {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.buffers[iface]
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *Client) wants(event Event) bool {
	return c.Interface == "" || event.Interface == "" || c.Interface == event.Interface
}

func (h *Hub) sendReadyEvent(client *Client) error {
	data := map[string]interface{}{}
	if h.snapshot != nil {
		data["snapshot"] = h.snapshot(client.Context)
	}
	// The ready event carries no id so it never moves Last-Event-ID.
	readyEvent := Event{
		Type:      TypeReady,
		Data:      data,
		Interface: client.Interface,
	}
	return h.sendEventToClient(client, readyEvent)
}

func (h *Hub) replayEvents(client *Client, lastEventID int64) error {
	h.mu.RLock()
	buffer, exists := h.buffers[client.Interface]
	h.mu.RUnlock()
	if !exists {
		return nil
	}

	for _, event := range buffer.GetEventsAfter(lastEventID, h.now()) {
		if err := h.sendEventToClient(client, event); err != nil {
			return err
		}
	}
	return nil
}

func (h *Hub) sendEventToClient(client *Client, event Event) error {
	client.mu.Lock()
	defer client.mu.Unlock()

	if event.ID > 0 {
		if _, err := fmt.Fprintf(client.Writer, "id: %d\n", event.ID); err != nil {
			return fmt.Errorf("failed to write event ID: %w", err)
		}
	}
	if _, err := fmt.Fprintf(client.Writer, "event: %s\n", event.Type); err != nil {
		return fmt.Errorf("failed to write event type: %w", err)
	}

	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}
	if _, err := fmt.Fprintf(client.Writer, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("failed to write event data: %w", err)
	}

	if flusher, ok := client.Writer.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}

func (h *Hub) handleClient(client *Client) {
	defer func() {
		client.once.Do(func() {
			close(client.Events)
		})
		h.unregisterClient(client.ID)
	}()

	for {
		select {
		case <-client.Context.Done():
			return
		case <-h.done:
			return
		case event, ok := <-client.Events:
			if !ok {
				return
			}
			if err := h.sendEventToClient(client, event); err != nil {
				klog.V(2).Infof("telemetry: client %s write failed: %v", client.ID, err)
				return
			}
		}
	}
}

func (h *Hub) unregisterClient(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, exists := h.clients[clientID]
	if !exists {
		return
	}
	client.Cancel()
	// The channel is closed by the client goroutine.
	delete(h.clients, clientID)
	klog.V(2).Infof("telemetry: client %s disconnected", clientID)

	if len(h.clients) == 0 && h.heartbeatTicker != nil {
		h.heartbeatTicker.Stop()
		h.heartbeatTicker = nil
		if h.stopHeartbeat != nil {
			close(h.stopHeartbeat)
			h.stopHeartbeat = nil
		}
	}
}

// getNextEventID returns the next id of the interface stream; the empty
// name selects the global stream.
func (h *Hub) getNextEventID(iface string) int64 {
	if iface == "" {
		iface = "global"
	}

	h.mu.RLock()
	counter, exists := h.eventIDs[iface]
	h.mu.RUnlock()
	if exists {
		return atomic.AddInt64(counter, 1)
	}

	h.mu.Lock()
	counter, exists = h.eventIDs[iface]
	if !exists {
		counter = new(int64)
		h.eventIDs[iface] = counter
	}
	h.mu.Unlock()

	return atomic.AddInt64(counter, 1)
}

func (h *Hub) bufferEvent(event Event) {
	h.mu.Lock()
	buffer, exists := h.buffers[event.Interface]
	if !exists {
		buffer = NewEventBuffer(h.config.EventBufferSize, h.config.EventBufferRetention)
		h.buffers[event.Interface] = buffer
	}
	h.mu.Unlock()

	buffer.AddEvent(event, h.now())
}

// startHeartbeat must be called with h.mu held and no ticker running.
func (h *Hub) startHeartbeat() {
	interval := h.config.HeartbeatInterval + time.Duration(float64(h.config.HeartbeatJitter)*0.5)

	h.heartbeatTicker = time.NewTicker(interval)
	h.stopHeartbeat = make(chan bool)

	ticker := h.heartbeatTicker
	stopChan := h.stopHeartbeat

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for {
			select {
			case <-ticker.C:
				h.sendHeartbeat()
			case <-stopChan:
				return
			case <-h.done:
				return
			}
		}
	}()
}

func (h *Hub) sendHeartbeat() {
	_ = h.Publish(Event{
		Type: "heartbeat",
		Data: map[string]interface{}{
			"ts": h.now().UTC().Format(time.RFC3339),
		},
	})
}

// Stop disconnects every client and stops the heartbeat. Safe to call
// more than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(h.stop)
}

func (h *Hub) stop() {
	close(h.done)

	h.mu.Lock()
	for _, client := range h.clients {
		client.Cancel()
	}
	if h.heartbeatTicker != nil {
		h.heartbeatTicker.Stop()
		h.heartbeatTicker = nil
	}
	if h.stopHeartbeat != nil {
		close(h.stopHeartbeat)
		h.stopHeartbeat = nil
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		klog.Warning("telemetry: heartbeat goroutine did not stop within 5s")
	}

	h.mu.Lock()
	h.clients = make(map[string]*Client)
	h.mu.Unlock()
}

// NewEventBuffer creates a buffer holding up to capacity events for at
// most retention. A zero retention keeps events until they are pushed out.
func NewEventBuffer(capacity int, retention time.Duration) *EventBuffer {
	return &EventBuffer{
		events:    make([]Event, 0, capacity),
		at:        make([]time.Time, 0, capacity),
		capacity:  capacity,
		retention: retention,
		nextID:    1,
	}
}

// AddEvent appends event, stamped with now.
func (b *EventBuffer) AddEvent(event Event, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if event.ID == 0 {
		event.ID = b.nextID
		b.nextID++
	}
	b.events = append(b.events, event)
	b.at = append(b.at, now)

	drop := 0
	if len(b.events) > b.capacity {
		drop = len(b.events) - b.capacity
	}
	if b.retention > 0 {
		for drop < len(b.at) && now.Sub(b.at[drop]) > b.retention {
			drop++
		}
	}
	if drop > 0 {
		b.events = append(b.events[:0], b.events[drop:]...)
		b.at = append(b.at[:0], b.at[drop:]...)
	}
}

// GetEventsAfter returns the retained events with an id above lastID.
func (b *EventBuffer) GetEventsAfter(lastID int64, now time.Time) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var result []Event
	for n, event := range b.events {
		if b.retention > 0 && now.Sub(b.at[n]) > b.retention {
			continue
		}
		if event.ID > lastID {
			result = append(result, event)
		}
	}
	return result
}

// GetCapacity returns the buffer capacity.
func (b *EventBuffer) GetCapacity() int {
	return b.capacity
}

// GetSize returns the number of buffered events.
func (b *EventBuffer) GetSize() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.events)
}
