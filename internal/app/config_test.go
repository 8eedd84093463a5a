package app

import (
	"testing"
	"time"

	"github.com/appetiteclub/kitchensync/internal/kitchen"
	"github.com/appetiteclub/kitchensync/internal/printing"
)

func TestLoadSettingsDefaults(t *testing.T) {
	s := LoadSettings(nil)

	if s.FeedKind != FeedMongo || s.QueueKind != QueueJetStream {
		t.Errorf("kinds = %q %q", s.FeedKind, s.QueueKind)
	}
	if s.StreamEnabled {
		t.Error("streams enabled by default")
	}
	if s.PrinterAddr != "" {
		t.Errorf("printer address = %q, want none", s.PrinterAddr)
	}
	if s.PrintTimeout != printing.DefaultDeviceTimeout || s.PrintLineWidth != printing.DefaultLineWidth {
		t.Errorf("print settings = %v %d", s.PrintTimeout, s.PrintLineWidth)
	}
	if s.RefreshInterval != kitchen.DefaultRefreshInterval || s.TickInterval != kitchen.DefaultTickInterval {
		t.Errorf("intervals = %v %v", s.RefreshInterval, s.TickInterval)
	}
	if s.UrgentAfter != 20*time.Minute || s.Retention != 30*time.Minute {
		t.Errorf("order windows = %v %v", s.UrgentAfter, s.Retention)
	}
	if s.WriteBackAttempts != kitchen.DefaultWriteBackAttempts {
		t.Errorf("write-back attempts = %d", s.WriteBackAttempts)
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want time.Duration
	}{
		{name: "empty", in: "", want: time.Minute},
		{name: "goDuration", in: "1500ms", want: 1500 * time.Millisecond},
		{name: "bareSeconds", in: "20", want: 20 * time.Second},
		{name: "negative", in: "-5s", want: time.Minute},
		{name: "garbage", in: "soon", want: time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseDuration(tt.in, time.Minute); got != tt.want {
				t.Errorf("parseDuration(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseInt(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{in: "", want: 7},
		{in: "12", want: 12},
		{in: "0", want: 7},
		{in: "x", want: 7},
	}
	for _, tt := range tests {
		if got := parseInt(tt.in, 7); got != tt.want {
			t.Errorf("parseInt(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestParseBool(t *testing.T) {
	if !parseBool("true") || !parseBool("1") || parseBool("yes") || parseBool("") {
		t.Error("parseBool() accepted or rejected the wrong values")
	}
}
