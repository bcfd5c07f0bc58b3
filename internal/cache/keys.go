package cache

import (
	"fmt"
	"strconv"
	"strings"

	"BadmintonFlash/internal/interfaces"
)

// DefaultPrefix 所有业务 key 的统一前缀
const DefaultPrefix = "bf:"

// dedupPlaceholder 去重集合占位成员，保证空集合也能带过期时间
const dedupPlaceholder = "-1"

// Keys 缓存 key 约定
type Keys struct {
	prefix string
}

func NewKeys(prefix string) Keys {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	return Keys{prefix: prefix}
}

func (k Keys) Prefix() string { return k.prefix }

func (k Keys) Stock(slotID uint64) string { return k.prefix + "sem:" + u(slotID) }

func (k Keys) Dedup(slotID uint64) string { return k.prefix + "dedup:" + u(slotID) }

func (k Keys) SlotSession(slotID uint64) string { return k.prefix + "slot:session:" + u(slotID) }

func (k Keys) Gate(sessionID uint64) string { return k.prefix + "gate:" + u(sessionID) }

func (k Keys) GateTime(sessionID uint64) string { return k.prefix + "gate:time:" + u(sessionID) }

// SlotWarm 单个时段预热完成标记
func (k Keys) SlotWarm(slotID uint64) string { return k.prefix + "warmup:done:" + u(slotID) }

// SessionWarmDone 场次当天预热完成标记，dayKey 为 yyyymmdd
func (k Keys) SessionWarmDone(dayKey string, sessionID uint64) string {
	return fmt.Sprintf("%swarmup:done:%s:%d", k.prefix, dayKey, sessionID)
}

func (k Keys) WarmupLock(dayKey string, sessionID uint64) string {
	return fmt.Sprintf("%swarmup:lock:%s:%d", k.prefix, dayKey, sessionID)
}

func (k Keys) SlotGenDone(dayKey string, sessionID uint64) string {
	return fmt.Sprintf("%sslotgen:done:%s:%d", k.prefix, dayKey, sessionID)
}

func (k Keys) SlotGenLock(dayKey string, sessionID uint64) string {
	return fmt.Sprintf("%sslotgen:lock:%s:%d", k.prefix, dayKey, sessionID)
}

func (k Keys) Limit(userKey string) string { return k.prefix + "limit:" + userKey }

func (k Keys) Pending(traceID string) string { return k.prefix + "reserve:pending:" + traceID }

func (k Keys) PayCreateLock(reservationID uint64) string {
	return k.prefix + "pay:create:lock:" + u(reservationID)
}

func (k Keys) CourtBootstrapLock() string { return k.prefix + "court:bootstrap:lock" }

// SlotKeys 单个时段的全部缓存 key（重建时段时整体删除）
func (k Keys) SlotKeys(slotID uint64) []string {
	return []string{k.SlotSession(slotID), k.Stock(slotID), k.Dedup(slotID), k.SlotWarm(slotID)}
}

func u(v uint64) string { return strconv.FormatUint(v, 10) }

func encodePending(c interfaces.PendingClaim) string {
	return u(c.UserID) + ":" + u(c.SlotID)
}

func decodePending(v string) (interfaces.PendingClaim, error) {
	parts := strings.Split(v, ":")
	if len(parts) != 2 {
		return interfaces.PendingClaim{}, fmt.Errorf("待落库凭据格式错误: %q", v)
	}
	userID, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return interfaces.PendingClaim{}, fmt.Errorf("待落库凭据 userId 非法: %q", v)
	}
	slotID, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return interfaces.PendingClaim{}, fmt.Errorf("待落库凭据 slotId 非法: %q", v)
	}
	return interfaces.PendingClaim{UserID: userID, SlotID: slotID}, nil
}
