package opcua

import (
	"context"
	"fmt"
	"sync"

	uaid "github.com/gopcua/opcua/id"
	"github.com/gopcua/opcua/server"
	"github.com/gopcua/opcua/server/attrs"
	"github.com/gopcua/opcua/ua"
	"github.com/rs/zerolog"

	"github.com/nexus-edge/fieldbridge/internal/domain"
	"github.com/nexus-edge/fieldbridge/internal/metrics"
)

const namespaceName = "ModbusDevices"

// ReadFunc fetches the current value for a tag from the tag store.
type ReadFunc func(deviceID, tagName string) (domain.Value, bool)

// WriteFunc runs the engine's shared write path for a tag.
type WriteFunc func(ctx context.Context, deviceID, tagName string, value domain.Value) error

// Config holds the server endpoint settings.
type Config struct {
	Host string
	Port int
}

// Bridge registers devices as OPC UA variables and keeps their samples
// fresh. It implements domain.AddressSpace. The bridge is stateless beyond
// its node-id mapping: getters and setters capture (device-id, tag-name)
// identifiers and resolve them through the engine callbacks on every access,
// never cached values or pointers into the store.
type Bridge struct {
	srv     *server.Server
	ns      *server.NodeNameSpace
	read    ReadFunc
	write   WriteFunc
	logger  zerolog.Logger
	metrics *metrics.Registry

	mu      sync.Mutex
	folders map[string]*server.Node            // device id -> folder node
	vars    map[string]map[string]*server.Node // device id -> tag name -> variable
	setters map[string]setter                  // node id string form -> write target
}

// setter records the identifier-keyed write target behind one variable node.
type setter struct {
	deviceID string
	tagName  string
	dataType domain.DataType
	writable bool
}

// NewBridge builds the OPC UA server and its device namespace. The endpoint
// is anonymous with security disabled; the bridge serves plant-floor reads
// and writes, not the open internet.
func NewBridge(cfg Config, read ReadFunc, write WriteFunc, logger zerolog.Logger, metricsReg *metrics.Registry) (*Bridge, error) {
	b := &Bridge{
		read:    read,
		write:   write,
		logger:  logger.With().Str("component", "opcua-bridge").Logger(),
		metrics: metricsReg,
		folders: make(map[string]*server.Node),
		vars:    make(map[string]map[string]*server.Node),
		setters: make(map[string]setter),
	}

	b.srv = server.New(
		server.EndPoint(cfg.Host, cfg.Port),
		server.EnableSecurity("None", ua.MessageSecurityModeNone),
		server.EnableAuthMode(ua.UserTokenTypeAnonymous),
	)

	b.ns = server.NewNodeNameSpace(b.srv, namespaceName)
	b.srv.AddNamespace(&writeInterceptNameSpace{NodeNameSpace: b.ns, bridge: b})

	// Hang the device folder off Objects so clients browse
	// Objects/ModbusDevices/<device>/<tag>.
	if rootNS, err := b.srv.Namespace(0); err == nil {
		rootNS.Objects().AddRef(b.ns.Objects(), uaid.HasComponent, true)
	}

	return b, nil
}

// Start binds the endpoint. A bind failure here is fatal to the process.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.srv.Start(ctx); err != nil {
		return fmt.Errorf("%w: opcua endpoint: %v", domain.ErrConnectFailed, err)
	}
	b.logger.Info().Msg("opcua server started")
	return nil
}

// Close shuts the server down.
func (b *Bridge) Close() error {
	return b.srv.Close()
}

// AddDevice creates the device folder and one variable per tag.
func (b *Bridge) AddDevice(device *domain.Device) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.folders[device.ID]; exists {
		return fmt.Errorf("%w: device %q already mapped", domain.ErrDeviceExists, device.ID)
	}

	folder := server.NewNode(
		ua.NewStringNodeID(b.ns.ID(), device.ID),
		map[ua.AttributeID]*ua.DataValue{
			ua.AttributeIDNodeClass:   server.DataValueFromValue(uint32(ua.NodeClassObject)),
			ua.AttributeIDBrowseName:  server.DataValueFromValue(attrs.BrowseName(device.Name)),
			ua.AttributeIDDisplayName: server.DataValueFromValue(attrs.DisplayName(device.Name, device.Name)),
		},
		nil,
		nil,
	)
	b.ns.AddNode(folder)
	b.ns.Objects().AddRef(folder, uaid.HasComponent, true)

	vars := make(map[string]*server.Node, len(device.Tags))
	for i := range device.Tags {
		tag := device.Tags[i]
		node := b.newVariableNode(device, tag)
		b.ns.AddNode(node)
		folder.AddRef(node, uaid.HasComponent, true)
		vars[tag.Name] = node
	}

	b.folders[device.ID] = folder
	b.vars[device.ID] = vars
	b.logger.Info().Str("device_id", device.ID).Int("tags", len(device.Tags)).Msg("device mapped into address space")
	return nil
}

// newVariableNode builds one tag variable. The value getter fetches from the
// tag store on every request via the identifier-keyed read callback.
func (b *Bridge) newVariableNode(device *domain.Device, tag domain.Tag) *server.Node {
	nodeID := ua.NewStringNodeID(b.ns.ID(), variableID(device.ID, tag.Name))
	deviceID, tagName := device.ID, tag.Name

	node := server.NewNode(
		nodeID,
		map[ua.AttributeID]*ua.DataValue{
			ua.AttributeIDNodeClass:               server.DataValueFromValue(uint32(ua.NodeClassVariable)),
			ua.AttributeIDBrowseName:              server.DataValueFromValue(attrs.BrowseName(tag.Name)),
			ua.AttributeIDDisplayName:             server.DataValueFromValue(attrs.DisplayName(tag.Name, tag.Name)),
			ua.AttributeIDAccessLevel:             server.DataValueFromValue(accessLevel(!device.IsModem() && tag.RegisterType.IsWritable())),
			ua.AttributeIDMinimumSamplingInterval: server.DataValueFromValue(float64(device.PollInterval.Milliseconds())),
		},
		nil,
		func() *ua.DataValue {
			if v, ok := b.read(deviceID, tagName); ok {
				return dataValueFromValue(v)
			}
			return &ua.DataValue{EncodingMask: ua.DataValueStatusCode, Status: ua.StatusBadNodeIDUnknown}
		},
	)

	b.setters[nodeID.String()] = setter{
		deviceID: deviceID,
		tagName:  tagName,
		dataType: tag.DataType,
		writable: !device.IsModem() && tag.RegisterType.IsWritable(),
	}
	return node
}

// RemoveDevice disposes the device folder and its variables.
func (b *Bridge) RemoveDevice(deviceID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	folder, ok := b.folders[deviceID]
	if !ok {
		return fmt.Errorf("%w: device %q is not mapped", domain.ErrNotFound, deviceID)
	}

	for tagName, node := range b.vars[deviceID] {
		b.ns.DeleteNode(node)
		delete(b.setters, ua.NewStringNodeID(b.ns.ID(), variableID(deviceID, tagName)).String())
	}
	b.ns.DeleteNode(folder)

	delete(b.folders, deviceID)
	delete(b.vars, deviceID)
	b.logger.Info().Str("device_id", deviceID).Msg("device removed from address space")
	return nil
}

// Publish pushes a fresh sample onto the variable so subscriptions observe
// the new value.
func (b *Bridge) Publish(deviceID, tagName string, value domain.Value) {
	b.mu.Lock()
	node := b.vars[deviceID][tagName]
	b.mu.Unlock()

	if node == nil {
		return
	}
	node.SetAttribute(ua.AttributeIDValue, dataValueFromValue(value))
	if b.metrics != nil {
		b.metrics.RecordRepublish()
	}
}

// handleWrite routes one client write through the engine's write path.
func (b *Bridge) handleWrite(wv *ua.WriteValue) ua.StatusCode {
	if wv == nil || wv.Value == nil {
		return ua.StatusBadNothingToDo
	}
	if wv.AttributeID != ua.AttributeIDValue {
		return ua.StatusBadNotSupported
	}

	b.mu.Lock()
	target, ok := b.setters[wv.NodeID.String()]
	b.mu.Unlock()
	if !ok {
		return ua.StatusBadNodeIDUnknown
	}
	if !target.writable {
		return ua.StatusBadNotWritable
	}

	value, err := valueFromVariant(wv.Value.Value, target.dataType)
	if err != nil {
		return statusFromError(err)
	}

	if err := b.write(context.Background(), target.deviceID, target.tagName, value); err != nil {
		b.logger.Warn().Err(err).
			Str("device_id", target.deviceID).
			Str("tag", target.tagName).
			Msg("opcua write failed")
		return statusFromError(err)
	}
	return ua.StatusOK
}

// variableID forms the string node id for a tag variable.
func variableID(deviceID, tagName string) string {
	return deviceID + "_" + tagName
}

// writeInterceptNameSpace routes Write service calls for variable nodes
// through the engine before they reach the attribute cache, so an OPC UA
// write becomes: Modbus write, then store update, then republish.
type writeInterceptNameSpace struct {
	*server.NodeNameSpace
	bridge *Bridge
}

func (ns *writeInterceptNameSpace) Write(req *ua.WriteRequest) *ua.WriteResponse {
	results := make([]ua.StatusCode, len(req.NodesToWrite))
	for i, wv := range req.NodesToWrite {
		results[i] = ns.bridge.handleWrite(wv)
	}
	return &ua.WriteResponse{
		ResponseHeader: &ua.ResponseHeader{ServiceResult: ua.StatusOK},
		Results:        results,
	}
}
