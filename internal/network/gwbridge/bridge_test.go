package gwbridge

import (
	"context"
	"crypto/aes"
	"testing"
	"time"

	"github.com/brocaar/chirpstack-api/go/v3/gw"
	"github.com/brocaar/lorawan"
	"github.com/golang/protobuf/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/lorasense/internal/network"
	"github.com/temoto/lorasense/internal/persist"
	"github.com/temoto/lorasense/log2"
)

var (
	testGatewayID = lorawan.EUI64{1, 2, 3, 4, 5, 6, 7, 8}
	testDevEUI    = lorawan.EUI64{2, 2, 3, 4, 5, 6, 7, 8}
	testJoinEUI   = lorawan.EUI64{8, 7, 6, 5, 4, 3, 2, 1}
	testAppKey    = lorawan.AES128Key{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
)

// fakeNS plays network server on the other side of the broker.
type fakeNS struct {
	t       testing.TB
	mock    *mqttMock
	appKey  lorawan.AES128Key
	netID   lorawan.NetID
	devAddr lorawan.DevAddr

	dropJoin bool
	dropAck  bool

	joinNonce lorawan.JoinNonce
	session   *Session
	devNonces []lorawan.DevNonce
	received  [][]byte
	ports     []uint8
	txAcks    int
}

func (self *fakeNS) onPublish(topic string, payload []byte) {
	switch topic {
	case "gateway/0102030405060708/event/up":
		self.handleUplink(payload)
	case "gateway/0102030405060708/event/ack":
		ack := &gw.DownlinkTXAck{}
		require.NoError(self.t, proto.Unmarshal(payload, ack))
		assert.Equal(self.t, gw.TxAckStatus_OK, ack.GetItems()[0].GetStatus())
		self.txAcks++
	default:
		self.t.Errorf("unexpected publish topic=%s", topic)
	}
}

func (self *fakeNS) handleUplink(payload []byte) {
	t := self.t
	up := &gw.UplinkFrame{}
	require.NoError(t, proto.Unmarshal(payload, up))
	assert.Equal(t, testGatewayID[:], up.GetRxInfo().GetGatewayId())
	assert.Equal(t, uint32(868100000), up.GetTxInfo().GetFrequency())
	var phy lorawan.PHYPayload
	require.NoError(t, phy.UnmarshalBinary(up.GetPhyPayload()))

	switch phy.MHDR.MType {
	case lorawan.JoinRequest:
		ok, err := phy.ValidateUplinkJoinMIC(self.appKey)
		require.NoError(t, err)
		if !ok {
			return
		}
		jr := phy.MACPayload.(*lorawan.JoinRequestPayload)
		assert.Equal(t, testDevEUI, jr.DevEUI)
		assert.Equal(t, testJoinEUI, jr.JoinEUI)
		self.devNonces = append(self.devNonces, jr.DevNonce)
		if self.dropJoin {
			return
		}
		self.joinNonce++
		ja := lorawan.PHYPayload{
			MHDR: lorawan.MHDR{MType: lorawan.JoinAccept, Major: lorawan.LoRaWANR1},
			MACPayload: &lorawan.JoinAcceptPayload{
				JoinNonce: self.joinNonce,
				HomeNetID: self.netID,
				DevAddr:   self.devAddr,
				RXDelay:   1,
			},
		}
		require.NoError(t, ja.SetDownlinkJoinMIC(lorawan.JoinRequestType, jr.JoinEUI, jr.DevNonce, self.appKey))
		require.NoError(t, ja.EncryptJoinAcceptPayload(self.appKey))
		b, err := ja.MarshalBinary()
		require.NoError(t, err)
		nwk, app, err := DeriveSessionKeys(self.appKey, self.joinNonce, self.netID, jr.DevNonce)
		require.NoError(t, err)
		self.session = &Session{DevAddr: self.devAddr, NwkSKey: nwk, AppSKey: app}
		self.downlink(b)

	case lorawan.ConfirmedDataUp, lorawan.UnconfirmedDataUp:
		s := self.session
		require.NotNil(t, s)
		ok, err := phy.ValidateUplinkDataMIC(lorawan.LoRaWAN1_0, 0, 0, 0, s.NwkSKey, s.NwkSKey)
		require.NoError(t, err)
		require.True(t, ok, "uplink mic")
		require.NoError(t, phy.DecryptFRMPayload(s.AppSKey))
		mac := phy.MACPayload.(*lorawan.MACPayload)
		require.NotNil(t, mac.FPort)
		self.ports = append(self.ports, *mac.FPort)
		self.received = append(self.received, mac.FRMPayload[0].(*lorawan.DataPayload).Bytes)
		if phy.MHDR.MType != lorawan.ConfirmedDataUp || self.dropAck {
			return
		}
		down := lorawan.PHYPayload{
			MHDR: lorawan.MHDR{MType: lorawan.UnconfirmedDataDown, Major: lorawan.LoRaWANR1},
			MACPayload: &lorawan.MACPayload{
				FHDR: lorawan.FHDR{
					DevAddr: s.DevAddr,
					FCtrl:   lorawan.FCtrl{ACK: true},
					FCnt:    s.FCntDown,
				},
			},
		}
		s.FCntDown++
		require.NoError(t, down.SetDownlinkDataMIC(lorawan.LoRaWAN1_0, 0, s.NwkSKey))
		b, err := down.MarshalBinary()
		require.NoError(t, err)
		self.downlink(b)

	default:
		t.Errorf("unexpected mtype=%s", phy.MHDR.MType)
	}
}

func (self *fakeNS) downlink(phy []byte) {
	frame := &gw.DownlinkFrame{
		Token:      7,
		DownlinkId: []byte{0xd0, 0x01},
		GatewayId:  testGatewayID[:],
		Items:      []*gw.DownlinkFrameItem{{PhyPayload: phy}},
	}
	b, err := proto.Marshal(frame)
	require.NoError(self.t, err)
	self.mock.TestPublish(self.t, "gateway/0102030405060708/command/down", b)
}

func newTestBridge(t testing.TB, nsKey lorawan.AES128Key) (*Bridge, *fakeNS, *mqttMock) {
	log := log2.NewTest(t, log2.LDebug)
	nonces, err := persist.OpenCounter(log, "devnonce", "")
	require.NoError(t, err)
	b := New(log, Config{
		Broker:          "tcp://test:1883",
		GatewayID:       testGatewayID,
		DevEUI:          testDevEUI,
		JoinEUI:         testJoinEUI,
		AppKey:          testAppKey,
		Frequency:       868100000,
		SpreadingFactor: 7,
		Bandwidth:       125,
		JoinTimeout:     50 * time.Millisecond,
		AckTimeout:      50 * time.Millisecond,
	}, nonces)
	mock := newMqttMock()
	ns := &fakeNS{
		t:       t,
		mock:    mock,
		appKey:  nsKey,
		netID:   lorawan.NetID{0x00, 0x00, 0x13},
		devAddr: lorawan.DevAddr{0x26, 0x01, 0x02, 0x03},
	}
	mock.OnPublish = ns.onPublish
	b.newClient = mock.MockNew
	require.NoError(t, b.Connect(context.Background()))
	require.Equal(t, "tcp://test:1883", mock.Opt.Servers[0].String())
	return b, ns, mock
}

func TestBridgeJoinSendConfirmed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b, ns, _ := newTestBridge(t, testAppKey)
	defer b.Close()

	assert.Equal(t, network.CodeNotJoined, network.CodeOf(b.Send(ctx, 1, []byte("early"), true)))
	require.NoError(t, b.Join(ctx))
	assert.True(t, b.Joined())
	assert.Equal(t, []lorawan.DevNonce{1}, ns.devNonces)

	payload := []byte("T:25.3,H:60.5#0123")
	require.NoError(t, b.Send(ctx, 1, payload, true))
	require.NoError(t, b.Send(ctx, 2, []byte("second"), false))
	assert.Equal(t, [][]byte{payload, []byte("second")}, ns.received)
	assert.Equal(t, []uint8{1, 2}, ns.ports)
	assert.Equal(t, 2, ns.txAcks, "join-accept and data ack downlinks")
	assert.Equal(t, uint32(2), b.session.FCntUp)
}

func TestBridgeJoinTimeout(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b, ns, _ := newTestBridge(t, testAppKey)
	ns.dropJoin = true
	assert.Equal(t, network.CodeTimeout, network.CodeOf(b.Join(ctx)))
	assert.Equal(t, network.CodeTimeout, network.CodeOf(b.Join(ctx)))
	assert.False(t, b.Joined())
	assert.Equal(t, []lorawan.DevNonce{1, 2}, ns.devNonces, "devnonce must not repeat")
}

func TestBridgeJoinWrongKey(t *testing.T) {
	t.Parallel()

	b, ns, _ := newTestBridge(t, lorawan.AES128Key{0xff})
	err := b.Join(context.Background())
	assert.Equal(t, network.CodeTimeout, network.CodeOf(err))
	assert.Empty(t, ns.devNonces)
}

func TestBridgeNoAck(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b, ns, _ := newTestBridge(t, testAppKey)
	require.NoError(t, b.Join(ctx))
	ns.dropAck = true
	err := b.Send(ctx, 1, []byte("lost"), true)
	assert.Equal(t, network.CodeNoAck, network.CodeOf(err))
	assert.Len(t, ns.received, 1)
}

func TestBridgeNotConnected(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b, _, mock := newTestBridge(t, testAppKey)
	require.NoError(t, b.Join(ctx))
	mock.mu.Lock()
	mock.connected = false
	mock.mu.Unlock()
	assert.Equal(t, network.CodeTransport, network.CodeOf(b.Join(ctx)))
	assert.Equal(t, network.CodeTransport, network.CodeOf(b.Send(ctx, 1, []byte("x"), false)))
}

func TestDeriveSessionKeys(t *testing.T) {
	t.Parallel()

	appKey := testAppKey
	netID := lorawan.NetID{0x01, 0x02, 0x03}
	nwk, app, err := DeriveSessionKeys(appKey, lorawan.JoinNonce(0x0a0b0c), netID, lorawan.DevNonce(0x1122))
	require.NoError(t, err)

	block, err := aes.NewCipher(appKey[:])
	require.NoError(t, err)
	expect := func(typ byte) lorawan.AES128Key {
		in := []byte{typ, 0x0c, 0x0b, 0x0a, 0x03, 0x02, 0x01, 0x22, 0x11, 0, 0, 0, 0, 0, 0, 0}
		var k lorawan.AES128Key
		block.Encrypt(k[:], in)
		return k
	}
	assert.Equal(t, expect(0x01), nwk)
	assert.Equal(t, expect(0x02), app)
	assert.NotEqual(t, nwk, app)
}
