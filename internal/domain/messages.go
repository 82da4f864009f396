package domain

// Literal text frames exchanged with subscribers.
const (
	FrameLiving = "LIVING"
	FramePing   = "ping"
	FramePong   = "pong"
)

// DanmuMessage is the JSON frame broadcast for every chat message.
type DanmuMessage struct {
	MsgID         string `json:"msgId"`
	DyMsgID       string `json:"dyMsgId"`
	DanmuUserID   string `json:"danmuUserId"`
	DanmuUserName string `json:"danmuUserName"`
	DanmuContent  string `json:"danmuContent"`
	DyRoomID      string `json:"dyRoomId"`
	OrderNumber   string `json:"orderNumber"`
	BlackLevel    string `json:"blackLevel"`
	CreatedUsers  string `json:"createdUsers"`
}
