package timeutil

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	DateLayout   = "2006-01-02" // slot_date 存储格式
	ClockLayout  = "15:04:05"   // 场次/时段的时刻存储格式
	DayKeyLayout = "20060102"   // 缓存 key 中的日期段

	// MinKeyTTL 缓存 key 的最短存活时间（临近午夜时兜底）
	MinKeyTTL = 60 * time.Second
)

// Clock 业务时钟：统一时区，测试中可固定当前时间
type Clock struct {
	loc   *time.Location
	mu    sync.RWMutex
	fixed *time.Time
}

// NewClock 创建跟随系统时间的业务时钟
func NewClock(loc *time.Location) *Clock {
	if loc == nil {
		loc = time.Local
	}
	return &Clock{loc: loc}
}

// NewFixedClock 创建固定时间的时钟（测试用）
func NewFixedClock(loc *time.Location, t time.Time) *Clock {
	c := NewClock(loc)
	c.Set(t)
	return c
}

// LoadLocation 加载时区，名称为空时使用 Asia/Shanghai
func LoadLocation(name string) (*time.Location, error) {
	if strings.TrimSpace(name) == "" {
		name = "Asia/Shanghai"
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("加载时区 %s 失败: %w", name, err)
	}
	return loc, nil
}

// Set 固定当前时间
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fixed = &t
}

// Advance 固定时钟向前拨动 d；非固定时钟无效果
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fixed != nil {
		t := c.fixed.Add(d)
		c.fixed = &t
	}
}

func (c *Clock) Location() *time.Location { return c.loc }

func (c *Clock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.fixed != nil {
		return c.fixed.In(c.loc)
	}
	return time.Now().In(c.loc)
}

// Today 当天日期 YYYY-MM-DD
func (c *Clock) Today() string { return c.Now().Format(DateLayout) }

// DayKey 当天日期 yyyymmdd
func (c *Clock) DayKey() string { return c.Now().Format(DayKeyLayout) }

// NowClock 当前时刻 HH:MM:SS
func (c *Clock) NowClock() string { return c.Now().Format(ClockLayout) }

// TTLToEndOfDay 距离当天结束的时长，最少 MinKeyTTL
func (c *Clock) TTLToEndOfDay() time.Duration {
	now := c.Now()
	y, m, d := now.Date()
	end := time.Date(y, m, d, 0, 0, 0, 0, c.loc).AddDate(0, 0, 1)
	ttl := end.Sub(now)
	if ttl < MinKeyTTL {
		return MinKeyTTL
	}
	return ttl
}

// At 把日期和时刻拼成业务时区下的时间点
func (c *Clock) At(day, clock string) (time.Time, error) {
	d, err := time.ParseInLocation(DateLayout, day, c.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("解析日期 %q 失败: %w", day, err)
	}
	offset, err := ParseClock(clock)
	if err != nil {
		return time.Time{}, err
	}
	return d.Add(offset), nil
}

// ParseClock 解析 HH:MM 或 HH:MM:SS，返回距当天零点的偏移
func ParseClock(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	layout := ClockLayout
	if strings.Count(s, ":") == 1 {
		layout = "15:04"
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return 0, fmt.Errorf("解析时刻 %q 失败: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute + time.Duration(t.Second())*time.Second, nil
}

// NormalizeClock 统一为 HH:MM:SS
func NormalizeClock(s string) (string, error) {
	d, err := ParseClock(s)
	if err != nil {
		return "", err
	}
	return FormatOffset(d), nil
}

// FormatOffset 把零点偏移格式化为 HH:MM:SS
func FormatOffset(d time.Duration) string {
	d = d.Truncate(time.Second)
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	sec := int(d % time.Minute / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", h, m, sec)
}
