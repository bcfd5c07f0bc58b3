package model

import (
	"time"

	"gorm.io/datatypes"
)

// 预约状态
const (
	ReservationPendingPayment = "PENDING_PAYMENT"
	ReservationConfirmed      = "CONFIRMED"
	ReservationCancelled      = "CANCELLED"
)

// Reservation 预约记录，由持久化消费者异步写入
// 同一 slot 同时只允许一条非 CANCELLED 记录（部分唯一索引 uk_reservations_active_slot）
type Reservation struct {
	ID        uint64    `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	UserID    uint64    `gorm:"column:user_id;not null;index" json:"userId"`
	SlotID    uint64    `gorm:"column:slot_id;not null;index" json:"slotId"`
	TraceID   string    `gorm:"column:trace_id;type:varchar(64);uniqueIndex;not null" json:"traceId"`
	Status    string    `gorm:"column:status;type:varchar(32);not null;default:'PENDING_PAYMENT';index" json:"status"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime;index" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (Reservation) TableName() string { return "reservations" }

// 支付单状态
const (
	PayPaying   = "PAYING"
	PaySuccess  = "SUCCESS"
	PayFailed   = "FAILED"
	PayClosed   = "CLOSED"
	PayRefunded = "REFUNDED"

	PayChannelWechat = "WECHAT"
)

// PayOrder 支付单
type PayOrder struct {
	ID            uint64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	ReservationID uint64     `gorm:"column:reservation_id;not null;index" json:"reservationId"`
	OutTradeNo    string     `gorm:"column:out_trade_no;type:varchar(64);uniqueIndex;not null" json:"outTradeNo"`
	PayChannel    string     `gorm:"column:pay_channel;type:varchar(16);not null" json:"payChannel"`
	Amount        int64      `gorm:"column:amount;not null" json:"amount"` // 分
	Status        string     `gorm:"column:status;type:varchar(16);not null" json:"status"`
	ThirdTradeNo  *string    `gorm:"column:third_trade_no;type:varchar(64)" json:"thirdTradeNo,omitempty"`
	ExpireTime    time.Time  `gorm:"column:expire_time" json:"expireTime"`
	PaidAt        *time.Time `gorm:"column:paid_at" json:"paidAt,omitempty"`
	CreatedAt     time.Time  `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt     time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (PayOrder) TableName() string { return "pay_orders" }

// DeadLetter 进入死信队列的抢场消息，补偿后留档
type DeadLetter struct {
	ID        uint64         `gorm:"column:id;primaryKey;autoIncrement"`
	TraceID   string         `gorm:"column:trace_id;type:varchar(64);index"`
	Reason    string         `gorm:"column:reason;type:varchar(128)"`
	Payload   datatypes.JSON `gorm:"column:payload;type:jsonb"`
	CreatedAt time.Time      `gorm:"column:created_at;autoCreateTime"`
}

func (DeadLetter) TableName() string { return "dead_letters" }
