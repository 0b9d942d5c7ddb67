package gwbridge

import (
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// mqttMock delivers publishes synchronously: OnPublish sees every outgoing message,
// TestPublish feeds incoming message to matching subscription.
type mqttMock struct {
	paho.Client // unused methods panic via nil interface

	Opt       *paho.ClientOptions
	OnPublish func(topic string, payload []byte)

	mu        sync.Mutex
	subs      []mockSub
	connected bool
}

type mockSub struct {
	Pattern string
	Qos     byte
	Handler paho.MessageHandler
}

func newMqttMock() *mqttMock { return &mqttMock{connected: true} }

func (self *mqttMock) MockNew(opt *paho.ClientOptions) paho.Client {
	self.Opt = opt
	return self
}

func (self *mqttMock) TestPublish(t testing.TB, topic string, payload []byte) {
	self.mu.Lock()
	subs := append([]mockSub(nil), self.subs...)
	self.mu.Unlock()
	for _, sub := range subs {
		if topic == sub.Pattern {
			sub.Handler(self, mockMsg{T: topic, P: payload})
			return
		}
	}
	t.Errorf("not subscribed for topic=%s", topic)
}

func (self *mqttMock) IsConnected() bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.connected
}
func (self *mqttMock) IsConnectionOpen() bool { return self.IsConnected() }
func (self *mqttMock) Disconnect(uint)        {}

func (self *mqttMock) Connect() paho.Token {
	if self.Opt != nil && self.Opt.OnConnect != nil {
		self.Opt.OnConnect(self)
	}
	return mockToken{}
}

func (self *mqttMock) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	if self.OnPublish != nil {
		self.OnPublish(topic, payload.([]byte))
	}
	return mockToken{}
}

func (self *mqttMock) Subscribe(pattern string, qos byte, handler paho.MessageHandler) paho.Token {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.subs = append(self.subs, mockSub{pattern, qos, handler})
	return mockToken{}
}

func (self *mqttMock) Unsubscribe(...string) paho.Token { return mockToken{} }

type mockToken struct{ error }

var closedChan = func() chan struct{} { ch := make(chan struct{}); close(ch); return ch }()

func (tok mockToken) Error() error                   { return tok.error }
func (tok mockToken) Wait() bool                     { return true }
func (tok mockToken) WaitTimeout(time.Duration) bool { return true }
func (tok mockToken) Done() <-chan struct{}          { return closedChan }

type mockMsg struct {
	T string
	P []byte
}

func (msg mockMsg) Ack()              {}
func (msg mockMsg) Duplicate() bool   { return false }
func (msg mockMsg) MessageID() uint16 { return 0 }
func (msg mockMsg) Payload() []byte   { return msg.P }
func (msg mockMsg) Qos() byte         { return 0 }
func (msg mockMsg) Retained() bool    { return false }
func (msg mockMsg) Topic() string     { return msg.T }
