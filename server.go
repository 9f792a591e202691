package iec61850

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"gopkg.in/validator.v2"
	"gopkg.in/yaml.v3"
)

// ServerConfig carries the tunables of an IedServer.
type ServerConfig struct {
	// ReportBufferSize is the maximum number of buffered entries a BRCB
	// retains before dropping the oldest.
	ReportBufferSize int `yaml:"reportBufferSize" validate:"min=1"`
	// MaxConnections limits concurrent client associations.
	MaxConnections int `yaml:"maxConnections" validate:"min=1"`
	// Edition of the standard presented by the server (1 means edition 2).
	Edition int `yaml:"edition" validate:"min=0,max=2"`

	// MaxDataSetEntries caps the member count of any data set served.
	MaxDataSetEntries int `yaml:"maxDataSetEntries" validate:"min=1"`
	// MaxAssociationDatasets and MaxDomainDatasets bound non-persistent and
	// domain-scoped data sets created by clients. Recognized for dynamic
	// data set creation; declared data sets are not counted against them.
	MaxAssociationDatasets int `yaml:"maxAssociationDatasets" validate:"min=0"`
	MaxDomainDatasets      int `yaml:"maxDomainDatasets" validate:"min=0"`

	// ReportSegmentSize is the maximum number of dataset members carried in
	// one report message; larger reports are split into sub-sequence
	// segments when the RCB opts into segmentation.
	ReportSegmentSize int `yaml:"reportSegmentSize" validate:"min=1"`

	// EnableResvTmsForBRCB exposes the ResvTms element on buffered RCBs.
	EnableResvTmsForBRCB bool `yaml:"enableResvTmsForBRCB"`
	// EnableOwnerForRCB exposes the Owner element on RCBs.
	EnableOwnerForRCB bool `yaml:"enableOwnerForRCB"`
	// EnableEditSG permits clients to edit setting groups via EditSG/CnfEdit.
	EnableEditSG bool `yaml:"enableEditSG"`
	// SyncIntegrityReportTimes aligns integrity report emission with
	// multiples of the integrity period.
	SyncIntegrityReportTimes bool `yaml:"syncIntegrityReportTimes"`

	// EnableDynamicDataSetService lets clients create and delete data sets
	// at runtime, bounded by MaxAssociationDatasets and MaxDomainDatasets.
	EnableDynamicDataSetService bool `yaml:"enableDynamicDataSetService"`
}

// NewServerConfig returns a config with the defaults used by a stock server.
func NewServerConfig() *ServerConfig {
	return &ServerConfig{
		ReportBufferSize:       65536,
		MaxConnections:         10,
		Edition:                1,
		MaxDataSetEntries:      100,
		MaxAssociationDatasets: 10,
		MaxDomainDatasets:      10,
		ReportSegmentSize:      64,
		EnableEditSG:           true,
	}
}

// LoadServerConfigFile reads a YAML server config. Absent fields keep their
// defaults.
func LoadServerConfigFile(path string) (*ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("LoadServerConfigFile %s: %w", path, err)
	}
	cfg := NewServerConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("LoadServerConfigFile %s: %w", path, err)
	}
	if err := validator.Validate(cfg); err != nil {
		return nil, fmt.Errorf("LoadServerConfigFile %s: %w", path, err)
	}
	return cfg, nil
}

// ClientID identifies one client association for the lifetime of the server.
type ClientID uint32

// ClientConnection is the server side state of one client association.
type ClientConnection struct {
	id     ClientID
	peer   string
	server *IedServer

	queue  chan Notification
	closed chan struct{}

	mu       sync.Mutex
	handlers map[NotificationKind]NotificationHandler

	// dynDatasets holds the "@name" data sets created by this association.
	// They die with it.
	dynDatasets map[string]*DataSet
}

// ID returns the server-unique identifier of the association.
func (cc *ClientConnection) ID() ClientID { return cc.id }

// GetPeerAddress returns the peer address the client presented on Accept.
func (cc *ClientConnection) GetPeerAddress() string { return cc.peer }

// notify queues a notification for delivery to the client. Delivery order is
// FIFO per connection. A slow client that fills the queue loses the
// notification.
func (cc *ClientConnection) notify(n Notification) {
	select {
	case <-cc.closed:
	case cc.queue <- n:
	default:
		cc.server.log.Warnw("notification queue full, dropping", "client", cc.id, "kind", n.Kind())
	}
}

func (cc *ClientConnection) deliverLoop() {
	for {
		select {
		case <-cc.closed:
			// drain pending, then signal closure
			for {
				select {
				case n := <-cc.queue:
					cc.dispatch(n)
				default:
					cc.dispatch(ConnectionClosedNotification{})
					return
				}
			}
		case n := <-cc.queue:
			cc.dispatch(n)
		}
	}
}

func (cc *ClientConnection) dispatch(n Notification) {
	cc.mu.Lock()
	h := cc.handlers[n.Kind()]
	cc.mu.Unlock()
	if h != nil {
		h(n)
	}
}

// ConnectionIndicationHandler is called when a client association is opened
// or closed.
type ConnectionIndicationHandler func(server *IedServer, connection *ClientConnection, connected bool)

// WriteAccessHandler vets a client write to one data attribute. Return
// DATA_ACCESS_ERROR_SUCCESS to accept the value.
type WriteAccessHandler func(da *ModelNode, value *MmsValue, connection *ClientConnection) MmsDataAccessError

// IedServer serves a data model to client associations: data access,
// control, reporting and setting groups.
type IedServer struct {
	cfg   *ServerConfig
	model *IedModel
	log   *zap.SugaredLogger

	mu      sync.Mutex
	running bool

	nextClientID ClientID
	connections  map[ClientID]*ClientConnection

	writePolicies map[FC]AccessPolicy
	writeHandlers map[*ModelNode]WriteAccessHandler

	connectionHandler ConnectionIndicationHandler
	rcbEventHandler   RCBEventHandler

	controls map[string]*controlPipeline        // data object reference -> pipeline
	rcbs     map[string]*ReportControlBlock     // RCB reference -> runtime
	sgcbs    map[string]*settingGroupControl    // logical node reference -> runtime

	batch      *triggerBatch
	batchDepth int

	entryIDSource *ulid.MonotonicEntropy

	vendor    string
	modelName string
	revision  string
}

// NewServer creates a server for the given model with default configuration.
func NewServer(model *IedModel) (*IedServer, error) {
	return NewServerWithConfig(NewServerConfig(), model)
}

// NewServerWithConfig creates a server for the given model. The config is
// validated; invalid configurations are rejected.
func NewServerWithConfig(cfg *ServerConfig, model *IedModel) (*IedServer, error) {
	if model == nil {
		return nil, fmt.Errorf("NewServerWithConfig: model is required")
	}
	if cfg == nil {
		cfg = NewServerConfig()
	}
	if err := validator.Validate(cfg); err != nil {
		return nil, fmt.Errorf("NewServerWithConfig: invalid config: %w", err)
	}

	s := &IedServer{
		cfg:           cfg,
		model:         model,
		log:           zap.NewNop().Sugar(),
		connections:   make(map[ClientID]*ClientConnection),
		writePolicies: make(map[FC]AccessPolicy),
		writeHandlers: make(map[*ModelNode]WriteAccessHandler),
		controls:      make(map[string]*controlPipeline),
		rcbs:          make(map[string]*ReportControlBlock),
		sgcbs:         make(map[string]*settingGroupControl),
		entryIDSource: ulid.Monotonic(rand.Reader, 0),
	}
	// Setting values and setpoints are writable out of the box; everything
	// else needs an explicit policy.
	s.writePolicies[SP] = ACCESS_POLICY_ALLOW
	s.writePolicies[SE] = ACCESS_POLICY_ALLOW

	for _, ds := range model.datasets {
		if len(ds.members) > cfg.MaxDataSetEntries {
			return nil, fmt.Errorf("NewServerWithConfig: data set %s.%s has %d members, limit %d",
				ds.ln.GetObjectReference(), ds.name, len(ds.members), cfg.MaxDataSetEntries)
		}
	}
	for _, decl := range model.rcbs {
		rcb, err := newReportControlBlock(s, decl)
		if err != nil {
			return nil, fmt.Errorf("NewServerWithConfig: %w", err)
		}
		s.rcbs[rcb.ref] = rcb
	}
	for _, decl := range model.sgcbs {
		sg := newSettingGroupControl(s, decl)
		s.sgcbs[sg.lnRef] = sg
	}
	for _, node := range model.index {
		if node.nodeType == MODEL_NODE_DATA_OBJECT && node.GetChild("ctlModel") != nil {
			s.controls[node.GetObjectReference()] = newControlPipeline(s, node)
		}
	}
	return s, nil
}

// SetLogger replaces the no-op default logger.
func (s *IedServer) SetLogger(log *zap.SugaredLogger) {
	if log != nil {
		s.log = log
	}
}

// SetServerIdentity sets the vendor, model and revision reported to clients.
func (s *IedServer) SetServerIdentity(vendor, model, revision string) {
	s.mu.Lock()
	s.vendor, s.modelName, s.revision = vendor, model, revision
	s.mu.Unlock()
}

// GetServerIdentity returns vendor, model and revision.
func (s *IedServer) GetServerIdentity() (vendor, model, revision string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vendor, s.modelName, s.revision
}

// Start makes the server accept associations. The port is informational for
// in-process transports.
func (s *IedServer) Start(port int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	for _, rcb := range s.rcbs {
		rcb.onServerStart()
	}
	s.log.Infow("server started", "port", port, "model", s.model.name)
}

// IsRunning reports whether Start has been called and Stop has not.
func (s *IedServer) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Stop closes all client associations and stops report processing.
func (s *IedServer) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	conns := make([]*ClientConnection, 0, len(s.connections))
	for _, cc := range s.connections {
		conns = append(conns, cc)
	}
	s.mu.Unlock()

	for _, cc := range conns {
		s.closeConnection(cc)
	}
	s.mu.Lock()
	for _, rcb := range s.rcbs {
		rcb.onServerStop()
	}
	s.mu.Unlock()
	s.log.Infow("server stopped")
}

// Destroy releases the server. Present for API symmetry.
func (s *IedServer) Destroy() {
	s.Stop()
}

// Accept opens a new client association and returns the transport for a
// Client to talk over. peer is the client's address for Owner and identity
// reporting.
func (s *IedServer) Accept(peer string) (Transport, error) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil, fmt.Errorf("Accept: server not running")
	}
	if len(s.connections) >= s.cfg.MaxConnections {
		s.mu.Unlock()
		return nil, fmt.Errorf("Accept: connection limit %d reached", s.cfg.MaxConnections)
	}
	s.nextClientID++
	cc := &ClientConnection{
		id:          s.nextClientID,
		peer:        peer,
		server:      s,
		queue:       make(chan Notification, 256),
		closed:      make(chan struct{}),
		handlers:    make(map[NotificationKind]NotificationHandler),
		dynDatasets: make(map[string]*DataSet),
	}
	s.connections[cc.id] = cc
	handler := s.connectionHandler
	s.mu.Unlock()

	go cc.deliverLoop()
	if handler != nil {
		handler(s, cc, true)
	}
	s.log.Infow("client connected", "client", cc.id, "peer", peer)
	return &loopbackTransport{conn: cc}, nil
}

// closeConnection tears down one association: control selections are
// released, unbuffered RCBs are disabled and their reservation cleared,
// buffered RCBs stop delivering but keep buffering.
func (s *IedServer) closeConnection(cc *ClientConnection) {
	s.mu.Lock()
	if _, ok := s.connections[cc.id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.connections, cc.id)

	s.beginBatchLocked()
	for _, cp := range s.controls {
		cp.onDisconnect(cc.id)
	}
	for _, rcb := range s.rcbs {
		rcb.onDisconnect(cc.id)
	}
	for _, sg := range s.sgcbs {
		sg.onDisconnect(cc.id)
	}
	s.commitBatchLocked()
	handler := s.connectionHandler
	s.mu.Unlock()

	close(cc.closed)
	if handler != nil {
		handler(s, cc, false)
	}
	s.log.Infow("client disconnected", "client", cc.id, "peer", cc.peer)
}

// SetConnectionIndicationHandler registers a callback for association open
// and close events.
func (s *IedServer) SetConnectionIndicationHandler(handler ConnectionIndicationHandler) {
	s.mu.Lock()
	s.connectionHandler = handler
	s.mu.Unlock()
}

// SetWriteAccessPolicy sets the default write policy for all data
// attributes with the given functional constraint.
func (s *IedServer) SetWriteAccessPolicy(fc FC, policy AccessPolicy) {
	s.mu.Lock()
	s.writePolicies[fc] = policy
	s.mu.Unlock()
}

// HandleWriteAccess installs a write vet callback for one data attribute.
// The handler decides instead of the FC policy.
func (s *IedServer) HandleWriteAccess(node *ModelNode, handler WriteAccessHandler) {
	s.mu.Lock()
	s.writeHandlers[node] = handler
	s.mu.Unlock()
}

// triggerBatch collects the attribute changes of one lock/unlock window.
// Triggers are evaluated once, at commit, so a batch produces at most one
// report per RCB.
type triggerBatch struct {
	changes map[*ModelNode]ReasonForInclusion
}

func (s *IedServer) beginBatchLocked() {
	s.batchDepth++
	if s.batch == nil {
		s.batch = &triggerBatch{changes: make(map[*ModelNode]ReasonForInclusion)}
	}
}

func (s *IedServer) commitBatchLocked() {
	s.batchDepth--
	if s.batchDepth > 0 {
		return
	}
	batch := s.batch
	s.batch = nil
	if batch == nil || len(batch.changes) == 0 {
		return
	}
	for _, rcb := range s.rcbs {
		rcb.processBatch(batch)
	}
}

// LockDataModel takes the data model lock and opens a trigger batch. All
// Update* calls until UnlockDataModel are reported as one event.
func (s *IedServer) LockDataModel() {
	s.mu.Lock()
	s.beginBatchLocked()
}

// UnlockDataModel commits the trigger batch opened by LockDataModel and
// releases the lock.
func (s *IedServer) UnlockDataModel() {
	s.commitBatchLocked()
	s.mu.Unlock()
}

// recordChange notes an attribute change in the active batch according to
// the attribute's trigger options.
func (s *IedServer) recordChange(node *ModelNode, valueChanged bool) {
	if s.batch == nil {
		// Updates outside LockDataModel are committed immediately as a
		// batch of one.
		s.beginBatchLocked()
		defer s.commitBatchLocked()
	}
	var reason ReasonForInclusion
	if node.trgOps&TRG_OPT_DATA_CHANGED != 0 && valueChanged {
		reason |= IEC61850_REASON_DATA_CHANGE
	}
	if node.trgOps&TRG_OPT_QUALITY_CHANGED != 0 && valueChanged {
		reason |= IEC61850_REASON_QUALITY_CHANGE
	}
	if node.trgOps&TRG_OPT_DATA_UPDATE != 0 {
		reason |= IEC61850_REASON_DATA_UPDATE
	}
	if reason == IEC61850_REASON_NOT_INCLUDED {
		return
	}
	s.batch.changes[node] |= reason
}

// UpdateAttributeValue sets a data attribute to the given value. The data
// model lock must be held (LockDataModel) unless called from a handler that
// already runs under it.
func (s *IedServer) UpdateAttributeValue(node *ModelNode, value *MmsValue) {
	if node == nil || value == nil {
		return
	}
	changed := node.value == nil || !node.value.Equal(value)
	node.value = value.Clone()
	s.recordChange(node, changed)
}

// UpdateBooleanAttributeValue sets a boolean data attribute.
func (s *IedServer) UpdateBooleanAttributeValue(node *ModelNode, value bool) {
	s.UpdateAttributeValue(node, NewBooleanMmsValue(value))
}

// UpdateInt32AttributeValue sets an integer data attribute.
func (s *IedServer) UpdateInt32AttributeValue(node *ModelNode, value int32) {
	s.UpdateAttributeValue(node, NewInt32MmsValue(value))
}

// UpdateFloatAttributeValue sets a float data attribute.
func (s *IedServer) UpdateFloatAttributeValue(node *ModelNode, value float32) {
	s.UpdateAttributeValue(node, NewFloatMmsValue(float64(value)))
}

// UpdateUTCTimeAttributeValue sets a UTC time attribute (ms since epoch).
func (s *IedServer) UpdateUTCTimeAttributeValue(node *ModelNode, ms int64) {
	s.UpdateAttributeValue(node, &MmsValue{Type: UTCTime, Value: ms})
}

// UpdateVisibleStringAttributeValue sets a visible string attribute.
func (s *IedServer) UpdateVisibleStringAttributeValue(node *ModelNode, value string) {
	s.UpdateAttributeValue(node, NewVisibleStringMmsValue(value))
}

// UpdateQuality sets a quality attribute (bit string).
func (s *IedServer) UpdateQuality(node *ModelNode, value uint32) {
	s.UpdateAttributeValue(node, NewBitStringMmsValue(value))
}

// GetAttributeValue reads the current value of a data attribute.
func (s *IedServer) GetAttributeValue(node *ModelNode) *MmsValue {
	s.mu.Lock()
	defer s.mu.Unlock()
	if node == nil || node.value == nil {
		return nil
	}
	return node.value.Clone()
}

func nowMs() int64 { return time.Now().UnixMilli() }

// loopbackTransport is the client end of an in-process association. Requests
// are dispatched on the caller's goroutine; notifications arrive from the
// connection's delivery goroutine.
type loopbackTransport struct {
	conn *ClientConnection

	mu     sync.Mutex
	closed bool
}

func (t *loopbackTransport) Invoke(ctx context.Context, req ServiceRequest) (ServiceResponse, error) {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("Invoke: %w", GetIedClientError(IED_ERROR_NOT_CONNECTED))
	}
	select {
	case <-t.conn.closed:
		return nil, fmt.Errorf("Invoke: %w", GetIedClientError(IED_ERROR_CONNECTION_LOST))
	default:
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return t.conn.server.dispatchRequest(t.conn, req)
}

func (t *loopbackTransport) Subscribe(kind NotificationKind, handler NotificationHandler) {
	t.conn.mu.Lock()
	t.conn.handlers[kind] = handler
	t.conn.mu.Unlock()
}

func (t *loopbackTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	t.conn.server.closeConnection(t.conn)
	return nil
}
