// Package gwbridge is a virtual LoRaWAN gateway: the node talks to a
// network server over MQTT using gateway bridge protobuf messages,
// no radio involved.
package gwbridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/brocaar/chirpstack-api/go/v3/common"
	"github.com/brocaar/chirpstack-api/go/v3/gw"
	"github.com/brocaar/lorawan"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/protobuf/proto"
	"github.com/juju/errors"
	"github.com/temoto/lorasense/internal/network"
	"github.com/temoto/lorasense/log2"
)

const (
	DefaultJoinTimeout    = 10 * time.Second
	DefaultAckTimeout     = 5 * time.Second
	DefaultConnectTimeout = 10 * time.Second
	downlinkBuffer        = 8
)

type Config struct {
	Broker   string
	Username string
	Password string
	ClientID string
	QOS      byte

	GatewayID lorawan.EUI64
	DevEUI    lorawan.EUI64
	JoinEUI   lorawan.EUI64
	AppKey    lorawan.AES128Key

	Frequency       uint32
	SpreadingFactor uint32
	Bandwidth       uint32 // kHz

	JoinTimeout    time.Duration
	AckTimeout     time.Duration
	ConnectTimeout time.Duration
}

// NonceSource hands out never repeating DevNonce values.
type NonceSource interface {
	Next() (uint32, error)
}

type Bridge struct {
	log    *log2.Log
	config Config
	nonces NonceSource
	client paho.Client
	downCh chan *gw.DownlinkFrame
	ready  chan struct{}

	topicUp   string
	topicDown string
	topicAck  string

	mu        sync.Mutex
	session   *Session
	readyOnce sync.Once

	// replaced by tests
	newClient func(*paho.ClientOptions) paho.Client
}

var _ network.Network = &Bridge{}

func New(log *log2.Log, c Config, nonces NonceSource) *Bridge {
	if nonces == nil {
		panic("code error gwbridge.New nonces=nil")
	}
	if c.JoinTimeout == 0 {
		c.JoinTimeout = DefaultJoinTimeout
	}
	if c.AckTimeout == 0 {
		c.AckTimeout = DefaultAckTimeout
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.ClientID == "" {
		c.ClientID = "lorasense-" + c.DevEUI.String()
	}
	gwid := c.GatewayID.String()
	return &Bridge{
		log:       log,
		config:    c,
		nonces:    nonces,
		downCh:    make(chan *gw.DownlinkFrame, downlinkBuffer),
		ready:     make(chan struct{}),
		topicUp:   fmt.Sprintf("gateway/%s/event/up", gwid),
		topicDown: fmt.Sprintf("gateway/%s/command/down", gwid),
		topicAck:  fmt.Sprintf("gateway/%s/event/ack", gwid),
		newClient: paho.NewClient,
	}
}

// Connect starts MQTT client. Broker unavailability is not an error here:
// client keeps retrying in background, Join/Send report transport errors meanwhile.
func (self *Bridge) Connect(ctx context.Context) error {
	opts := paho.NewClientOptions().
		AddBroker(self.config.Broker).
		SetClientID(self.config.ClientID).
		SetUsername(self.config.Username).
		SetPassword(self.config.Password).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(false).
		SetOnConnectHandler(self.onConnect).
		SetConnectionLostHandler(self.onConnectionLost)
	self.client = self.newClient(opts)
	self.log.Infof("gwbridge connecting broker=%s gateway=%s", self.config.Broker, self.config.GatewayID)
	if err := waitToken(ctx, self.client.Connect(), self.config.ConnectTimeout); err != nil {
		self.log.Errorf("gwbridge connect broker=%s err=%v, will keep retrying", self.config.Broker, err)
		return nil
	}
	select {
	case <-self.ready:
	case <-time.After(self.config.ConnectTimeout):
		self.log.Errorf("gwbridge subscribe topic=%s not confirmed in %v", self.topicDown, self.config.ConnectTimeout)
	case <-ctx.Done():
		return errors.Trace(ctx.Err())
	}
	return nil
}

func (self *Bridge) Close() error {
	if self.client == nil {
		return nil
	}
	if self.client.IsConnected() {
		_ = waitToken(context.Background(), self.client.Unsubscribe(self.topicDown), time.Second)
	}
	self.client.Disconnect(250)
	return nil
}

func (self *Bridge) Joined() bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.session != nil
}

func (self *Bridge) Join(ctx context.Context) error {
	if !self.connected() {
		return network.JoinError(network.CodeTransport, errors.New("mqtt not connected"))
	}
	n, err := self.nonces.Next()
	if err != nil {
		return network.JoinError(network.CodeUnknown, errors.Annotate(err, "devnonce"))
	}
	devNonce := lorawan.DevNonce(n)
	phy, err := buildJoinRequest(self.config.JoinEUI, self.config.DevEUI, devNonce, self.config.AppKey)
	if err != nil {
		return network.JoinError(network.CodeUnknown, err)
	}
	self.drainDownlinks()
	if err = self.publishUplink(ctx, phy); err != nil {
		return network.JoinError(network.CodeTransport, err)
	}
	self.log.Debugf("gwbridge join-request deveui=%s devnonce=%d", self.config.DevEUI, devNonce)

	timeout := time.NewTimer(self.config.JoinTimeout)
	defer timeout.Stop()
	for {
		select {
		case frame := <-self.downCh:
			s, err := parseJoinAccept(downlinkPHY(frame), self.config.JoinEUI, devNonce, self.config.AppKey)
			if err != nil {
				self.log.Debugf("gwbridge ignore downlink while joining: %v", err)
				continue
			}
			self.mu.Lock()
			self.session = s
			self.mu.Unlock()
			self.log.Infof("gwbridge joined devaddr=%s", s.DevAddr)
			return nil
		case <-timeout.C:
			return network.JoinError(network.CodeTimeout, errors.Errorf("no join-accept in %v", self.config.JoinTimeout))
		case <-ctx.Done():
			return network.JoinError(network.CodeTimeout, ctx.Err())
		}
	}
}

func (self *Bridge) Send(ctx context.Context, port uint8, payload []byte, confirmed bool) error {
	self.mu.Lock()
	s := self.session
	var phy []byte
	var err error
	var fcnt uint32
	if s != nil {
		fcnt = s.FCntUp
		phy, err = buildDataUp(s, port, payload, confirmed)
		if err == nil {
			s.FCntUp++
		}
	}
	self.mu.Unlock()
	if s == nil {
		return network.SendError(network.CodeNotJoined, nil)
	}
	if err != nil {
		return network.SendError(network.CodeUnknown, err)
	}
	if !self.connected() {
		return network.SendError(network.CodeTransport, errors.New("mqtt not connected"))
	}
	self.drainDownlinks()
	if err = self.publishUplink(ctx, phy); err != nil {
		return network.SendError(network.CodeTransport, err)
	}
	self.log.Debugf("gwbridge data-up devaddr=%s fcnt=%d port=%d confirmed=%t len=%d", s.DevAddr, fcnt, port, confirmed, len(payload))
	if !confirmed {
		return nil
	}

	timeout := time.NewTimer(self.config.AckTimeout)
	defer timeout.Stop()
	for {
		select {
		case frame := <-self.downCh:
			self.mu.Lock()
			ack, err := parseDataDown(s, downlinkPHY(frame))
			self.mu.Unlock()
			if err != nil {
				self.log.Debugf("gwbridge ignore downlink while waiting ack: %v", err)
				continue
			}
			if ack {
				return nil
			}
		case <-timeout.C:
			return network.SendError(network.CodeNoAck, errors.Errorf("no ack in %v fcnt=%d", self.config.AckTimeout, fcnt))
		case <-ctx.Done():
			return network.SendError(network.CodeTimeout, ctx.Err())
		}
	}
}

func (self *Bridge) connected() bool {
	return self.client != nil && self.client.IsConnected()
}

func (self *Bridge) publishUplink(ctx context.Context, phy []byte) error {
	up := &gw.UplinkFrame{
		PhyPayload: phy,
		TxInfo: &gw.UplinkTXInfo{
			Frequency:  self.config.Frequency,
			Modulation: common.Modulation_LORA,
			ModulationInfo: &gw.UplinkTXInfo_LoraModulationInfo{
				LoraModulationInfo: &gw.LoRaModulationInfo{
					Bandwidth:       self.config.Bandwidth,
					SpreadingFactor: self.config.SpreadingFactor,
					CodeRate:        "4/5",
				},
			},
		},
		RxInfo: &gw.UplinkRXInfo{
			GatewayId: self.config.GatewayID[:],
			Rssi:      -60,
			LoraSnr:   7,
		},
	}
	b, err := proto.Marshal(up)
	if err != nil {
		return errors.Annotate(err, "uplink frame marshal")
	}
	return errors.Annotatef(waitToken(ctx, self.client.Publish(self.topicUp, self.config.QOS, false, b), self.config.ConnectTimeout),
		"publish topic=%s", self.topicUp)
}

func (self *Bridge) onConnect(c paho.Client) {
	self.log.Infof("gwbridge mqtt connected, subscribe topic=%s", self.topicDown)
	tok := c.Subscribe(self.topicDown, self.config.QOS, self.onDownlink)
	go func() {
		if tok.Wait() && tok.Error() != nil {
			self.log.Errorf("gwbridge subscribe topic=%s err=%v", self.topicDown, tok.Error())
			return
		}
		self.readyOnce.Do(func() { close(self.ready) })
	}()
}

func (self *Bridge) onConnectionLost(c paho.Client, err error) {
	self.log.Errorf("gwbridge mqtt connection lost: %v", err)
}

func (self *Bridge) onDownlink(c paho.Client, msg paho.Message) {
	frame := &gw.DownlinkFrame{}
	if err := proto.Unmarshal(msg.Payload(), frame); err != nil {
		self.log.Errorf("gwbridge downlink unmarshal err=%v", err)
		return
	}
	self.ack(c, frame)
	select {
	case self.downCh <- frame:
	default:
		self.log.Errorf("gwbridge downlink buffer full, drop id=%x", frame.GetDownlinkId())
	}
}

// ack reports downlink as transmitted, the way a real gateway bridge does.
func (self *Bridge) ack(c paho.Client, frame *gw.DownlinkFrame) {
	ack := &gw.DownlinkTXAck{
		GatewayId:  self.config.GatewayID[:],
		Token:      frame.GetToken(),
		DownlinkId: frame.GetDownlinkId(),
		Items:      []*gw.DownlinkTXAckItem{{Status: gw.TxAckStatus_OK}},
	}
	b, err := proto.Marshal(ack)
	if err != nil {
		self.log.Errorf("gwbridge ack marshal err=%v", err)
		return
	}
	// handler must not wait for token
	c.Publish(self.topicAck, self.config.QOS, false, b)
}

func (self *Bridge) drainDownlinks() {
	for {
		select {
		case <-self.downCh:
		default:
			return
		}
	}
}

func downlinkPHY(frame *gw.DownlinkFrame) []byte {
	if items := frame.GetItems(); len(items) != 0 {
		return items[0].GetPhyPayload()
	}
	return frame.GetPhyPayload()
}

func waitToken(ctx context.Context, tok paho.Token, timeout time.Duration) error {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-tok.Done():
		return tok.Error()
	case <-t.C:
		return errors.Timeoutf("mqtt token after %v", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
