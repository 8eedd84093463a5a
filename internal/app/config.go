package app

import (
	"strconv"
	"strings"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/kitchensync/internal/kitchen"
	"github.com/appetiteclub/kitchensync/internal/printing"
)

const (
	FeedMongo = "mongo"
	FeedNATS  = "nats"
	FeedNone  = "none"

	QueueJetStream = "jetstream"
	QueueRedis     = "redis"
	QueueRPC       = "rpc"
)

// Settings is the typed view of the keys the service reads.
type Settings struct {
	NATSURL       string
	StreamEnabled bool

	FeedKind string

	TablesURL string
	MenuURL   string
	MenuTTL   time.Duration

	PrinterAddr    string
	PrinterName    string
	PrintTimeout   time.Duration
	QueueKind      string
	PrintURL       string
	RedisAddr      string
	RedisKey       string
	PrintLineWidth int

	RefreshInterval   time.Duration
	TickInterval      time.Duration
	UrgentAfter       time.Duration
	Retention         time.Duration
	WriteBackAttempts int
}

func LoadSettings(config *apt.Config) Settings {
	get := func(key, def string) string {
		if config == nil {
			return def
		}
		return strings.TrimSpace(config.GetStringOrDef(key, def))
	}

	return Settings{
		NATSURL:       get("nats.url", "nats://localhost:4222"),
		StreamEnabled: parseBool(get("nats.stream.enabled", "false")),

		FeedKind: strings.ToLower(get("feed.kind", FeedMongo)),

		TablesURL: get("services.tables.url", "http://localhost:8087"),
		MenuURL:   get("services.menu.url", "http://localhost:8088"),
		MenuTTL:   parseDuration(get("services.menu.ttl", ""), 5*time.Minute),

		PrinterAddr:    get("print.device.addr", ""),
		PrinterName:    get("print.device.name", "kitchen"),
		PrintTimeout:   parseDuration(get("print.device.timeout", ""), printing.DefaultDeviceTimeout),
		QueueKind:      strings.ToLower(get("print.queue.kind", QueueJetStream)),
		PrintURL:       get("services.print.url", "http://localhost:8090"),
		RedisAddr:      get("redis.addr", "localhost:6379"),
		RedisKey:       get("print.queue.redis.key", printing.DefaultRedisKey),
		PrintLineWidth: parseInt(get("print.line.width", ""), printing.DefaultLineWidth),

		RefreshInterval:   parseDuration(get("refresh.interval", ""), kitchen.DefaultRefreshInterval),
		TickInterval:      parseDuration(get("tick.interval", ""), kitchen.DefaultTickInterval),
		UrgentAfter:       time.Duration(parseInt(get("orders.urgent.minutes", ""), int(kitchen.DefaultUrgentAfter/time.Minute))) * time.Minute,
		Retention:         time.Duration(parseInt(get("orders.retention.minutes", ""), int(kitchen.DefaultRetention/time.Minute))) * time.Minute,
		WriteBackAttempts: parseInt(get("writeback.max.attempts", ""), kitchen.DefaultWriteBackAttempts),
	}
}

// parseDuration accepts Go durations ("15s") and bare seconds ("15").
func parseDuration(v string, def time.Duration) time.Duration {
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return def
}

func parseInt(v string, def int) int {
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}
