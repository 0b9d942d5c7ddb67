package gwbridge

import (
	"crypto/aes"

	"github.com/brocaar/lorawan"
	"github.com/juju/errors"
)

// Session is LoRaWAN 1.0.x ABP state obtained by OTAA join.
type Session struct {
	DevAddr  lorawan.DevAddr
	NwkSKey  lorawan.AES128Key
	AppSKey  lorawan.AES128Key
	FCntUp   uint32
	FCntDown uint32
}

func buildJoinRequest(joinEUI, devEUI lorawan.EUI64, devNonce lorawan.DevNonce, appKey lorawan.AES128Key) ([]byte, error) {
	phy := lorawan.PHYPayload{
		MHDR: lorawan.MHDR{
			MType: lorawan.JoinRequest,
			Major: lorawan.LoRaWANR1,
		},
		MACPayload: &lorawan.JoinRequestPayload{
			JoinEUI:  joinEUI,
			DevEUI:   devEUI,
			DevNonce: devNonce,
		},
	}
	if err := phy.SetUplinkJoinMIC(appKey); err != nil {
		return nil, errors.Annotate(err, "join-request mic")
	}
	b, err := phy.MarshalBinary()
	return b, errors.Annotate(err, "join-request marshal")
}

// parseJoinAccept decrypts and checks join-accept, derives session keys.
func parseJoinAccept(b []byte, joinEUI lorawan.EUI64, devNonce lorawan.DevNonce, appKey lorawan.AES128Key) (*Session, error) {
	var phy lorawan.PHYPayload
	if err := phy.UnmarshalBinary(b); err != nil {
		return nil, errors.Annotate(err, "join-accept unmarshal")
	}
	if phy.MHDR.MType != lorawan.JoinAccept {
		return nil, errors.NotValidf("mtype=%s expected join-accept", phy.MHDR.MType)
	}
	if err := phy.DecryptJoinAcceptPayload(appKey); err != nil {
		return nil, errors.Annotate(err, "join-accept decrypt")
	}
	ok, err := phy.ValidateDownlinkJoinMIC(lorawan.JoinRequestType, joinEUI, devNonce, appKey)
	if err != nil {
		return nil, errors.Annotate(err, "join-accept mic")
	}
	if !ok {
		return nil, errors.NotValidf("join-accept mic")
	}
	jap, ok := phy.MACPayload.(*lorawan.JoinAcceptPayload)
	if !ok {
		return nil, errors.NotValidf("join-accept payload type=%T", phy.MACPayload)
	}
	nwk, app, err := DeriveSessionKeys(appKey, jap.JoinNonce, jap.HomeNetID, devNonce)
	if err != nil {
		return nil, err
	}
	return &Session{DevAddr: jap.DevAddr, NwkSKey: nwk, AppSKey: app}, nil
}

// DeriveSessionKeys implements LoRaWAN 1.0 NwkSKey/AppSKey derivation.
func DeriveSessionKeys(appKey lorawan.AES128Key, joinNonce lorawan.JoinNonce, netID lorawan.NetID, devNonce lorawan.DevNonce) (nwkSKey, appSKey lorawan.AES128Key, err error) {
	if nwkSKey, err = sessionKey(0x01, appKey, joinNonce, netID, devNonce); err != nil {
		return
	}
	appSKey, err = sessionKey(0x02, appKey, joinNonce, netID, devNonce)
	return
}

func sessionKey(typ byte, appKey lorawan.AES128Key, joinNonce lorawan.JoinNonce, netID lorawan.NetID, devNonce lorawan.DevNonce) (lorawan.AES128Key, error) {
	var key lorawan.AES128Key
	b := make([]byte, 0, 16)
	b = append(b, typ)
	// little endian
	b = append(b, byte(joinNonce), byte(joinNonce>>8), byte(joinNonce>>16))
	for i := len(netID) - 1; i >= 0; i-- {
		b = append(b, netID[i])
	}
	b = append(b, byte(devNonce), byte(devNonce>>8))
	b = append(b, make([]byte, 7)...)

	block, err := aes.NewCipher(appKey[:])
	if err != nil {
		return key, errors.Annotate(err, "session key cipher")
	}
	if block.BlockSize() != len(b) {
		return key, errors.Errorf("block-size of %d bytes is expected", len(b))
	}
	block.Encrypt(key[:], b)
	return key, nil
}

func buildDataUp(s *Session, port uint8, payload []byte, confirmed bool) ([]byte, error) {
	mtype := lorawan.UnconfirmedDataUp
	if confirmed {
		mtype = lorawan.ConfirmedDataUp
	}
	fport := port
	phy := lorawan.PHYPayload{
		MHDR: lorawan.MHDR{
			MType: mtype,
			Major: lorawan.LoRaWANR1,
		},
		MACPayload: &lorawan.MACPayload{
			FHDR: lorawan.FHDR{
				DevAddr: s.DevAddr,
				FCnt:    s.FCntUp,
			},
			FPort:      &fport,
			FRMPayload: []lorawan.Payload{&lorawan.DataPayload{Bytes: payload}},
		},
	}
	key := s.AppSKey
	if port == 0 {
		key = s.NwkSKey
	}
	if err := phy.EncryptFRMPayload(key); err != nil {
		return nil, errors.Annotate(err, "data-up encrypt")
	}
	if err := phy.SetUplinkDataMIC(lorawan.LoRaWAN1_0, 0, 0, 0, s.NwkSKey, s.NwkSKey); err != nil {
		return nil, errors.Annotate(err, "data-up mic")
	}
	b, err := phy.MarshalBinary()
	return b, errors.Annotate(err, "data-up marshal")
}

// parseDataDown checks downlink addressed to session, returns ACK flag.
func parseDataDown(s *Session, b []byte) (bool, error) {
	var phy lorawan.PHYPayload
	if err := phy.UnmarshalBinary(b); err != nil {
		return false, errors.Annotate(err, "data-down unmarshal")
	}
	if phy.MHDR.MType != lorawan.UnconfirmedDataDown && phy.MHDR.MType != lorawan.ConfirmedDataDown {
		return false, errors.NotValidf("mtype=%s expected data-down", phy.MHDR.MType)
	}
	mac, ok := phy.MACPayload.(*lorawan.MACPayload)
	if !ok {
		return false, errors.NotValidf("data-down payload type=%T", phy.MACPayload)
	}
	if mac.FHDR.DevAddr != s.DevAddr {
		return false, errors.NotFoundf("data-down devaddr=%s", mac.FHDR.DevAddr)
	}
	ok, err := phy.ValidateDownlinkDataMIC(lorawan.LoRaWAN1_0, 0, s.NwkSKey)
	if err != nil {
		return false, errors.Annotate(err, "data-down mic")
	}
	if !ok {
		return false, errors.NotValidf("data-down mic")
	}
	s.FCntDown = mac.FHDR.FCnt
	return mac.FHDR.FCtrl.ACK, nil
}
