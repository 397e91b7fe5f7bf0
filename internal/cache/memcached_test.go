package cache

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/kjstillabower/weather-snapshot-service/internal/models"
)

func TestParseAddrs(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"localhost:11211", []string{"localhost:11211"}},
		{" a:1 , ,b:2 ", []string{"a:1", "b:2"}},
	}
	for _, tt := range tests {
		if got := parseAddrs(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("parseAddrs(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestExpirationSeconds(t *testing.T) {
	tests := []struct {
		ttl  time.Duration
		want int32
	}{
		{0, 3600},
		{-time.Second, 3600},
		{5 * time.Minute, 300},
		{60 * 24 * time.Hour, 3600},
	}
	for _, tt := range tests {
		if got := expirationSeconds(tt.ttl); got != tt.want {
			t.Errorf("expirationSeconds(%v) = %d, want %d", tt.ttl, got, tt.want)
		}
	}
}

func TestMemcachedMirror_Publish_CanceledContext(t *testing.T) {
	m := NewMemcachedMirror("", 0, 0, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := m.Publish(ctx, models.Snapshot{}); err == nil {
		t.Error("Publish() with canceled context error = nil, want context error")
	}
}
