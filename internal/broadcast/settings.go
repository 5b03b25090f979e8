package broadcast

import "time"

// Settings tune rooms and connections. Zero fields take the defaults.
type Settings struct {
	PingInterval     time.Duration
	HeartbeatTimeout time.Duration
	CloseGrace       time.Duration
	QueueSize        int
	RoomGrace        time.Duration

	// MaxRoomConnections caps members per room. Zero means unlimited.
	MaxRoomConnections int

	AttendeeRatePerMinute int
	HostRatePerMinute     int
	RateLimitStrikes      int

	ActionTimeout time.Duration
	StopTimeout   time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		PingInterval:          30 * time.Second,
		HeartbeatTimeout:      45 * time.Second,
		CloseGrace:            time.Second,
		QueueSize:             64,
		RoomGrace:             30 * time.Second,
		AttendeeRatePerMinute: 10,
		HostRatePerMinute:     60,
		RateLimitStrikes:      3,
		ActionTimeout:         5 * time.Second,
		StopTimeout:           10 * time.Second,
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.PingInterval <= 0 {
		s.PingInterval = d.PingInterval
	}
	if s.HeartbeatTimeout <= 0 {
		s.HeartbeatTimeout = s.PingInterval * 3 / 2
	}
	if s.CloseGrace <= 0 {
		s.CloseGrace = d.CloseGrace
	}
	if s.QueueSize <= 0 {
		s.QueueSize = d.QueueSize
	}
	if s.RoomGrace < 0 {
		s.RoomGrace = d.RoomGrace
	}
	if s.AttendeeRatePerMinute < 0 {
		s.AttendeeRatePerMinute = d.AttendeeRatePerMinute
	}
	if s.HostRatePerMinute < 0 {
		s.HostRatePerMinute = d.HostRatePerMinute
	}
	if s.RateLimitStrikes <= 0 {
		s.RateLimitStrikes = d.RateLimitStrikes
	}
	if s.ActionTimeout <= 0 {
		s.ActionTimeout = d.ActionTimeout
	}
	if s.StopTimeout <= 0 {
		s.StopTimeout = d.StopTimeout
	}
	return s
}
