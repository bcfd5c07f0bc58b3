package model

// ReserveMessage 抢场成功后投递到 reserve.queue 的消息体
type ReserveMessage struct {
	UserID    uint64 `json:"userId"`
	SlotID    uint64 `json:"slotId"`
	SessionID uint64 `json:"sessionId"`
	TraceID   string `json:"traceId"`
}

// Valid 字段齐全才可落库
func (m ReserveMessage) Valid() bool {
	return m.UserID > 0 && m.SlotID > 0 && m.TraceID != ""
}
