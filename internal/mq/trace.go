package mq

import (
	"encoding/json"

	amqp "github.com/rabbitmq/amqp091-go"
)

// HeaderTraceID 消息头里的 traceId
const HeaderTraceID = "traceId"

// TraceOf 依次从 MessageId、消息头、消息体取 traceId
func TraceOf(messageID string, headers amqp.Table, body []byte) string {
	if messageID != "" {
		return messageID
	}
	if v, ok := headers[HeaderTraceID]; ok {
		switch s := v.(type) {
		case string:
			if s != "" {
				return s
			}
		case []byte:
			if len(s) > 0 {
				return string(s)
			}
		}
	}
	var payload struct {
		TraceID string `json:"traceId"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		return payload.TraceID
	}
	return ""
}
