package messages

import "time"

// Uplink is the envelope delivered by the upstream broker for one device
// transmission (TTN v3 uplink shape). Only the parts the pipeline reads are
// modeled; everything else in the envelope is ignored.
type Uplink struct {
	EndDeviceIDs EndDeviceIDs  `json:"end_device_ids"`
	ReceivedAt   time.Time     `json:"received_at"`
	Message      UplinkPayload `json:"uplink_message"`
}

type EndDeviceIDs struct {
	DeviceID       string         `json:"device_id"`
	ApplicationIDs ApplicationIDs `json:"application_ids"`
}

type ApplicationIDs struct {
	ApplicationID string `json:"application_id"`
}

// UplinkPayload carries the decoded sensor payload. DecodedPayload keys vary
// by device firmware (EC meters vs. pH meters), so it stays an open map and
// the normalizer picks it apart per schema variant.
type UplinkPayload struct {
	FPort          int            `json:"f_port"`
	FCnt           int            `json:"f_cnt"`
	ReceivedAt     time.Time      `json:"received_at"`
	DecodedPayload map[string]any `json:"decoded_payload"`
}
