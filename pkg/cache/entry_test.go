package cache

import (
	"net/http"
	"testing"
	"time"
)

func TestCacheEntry_Date(t *testing.T) {
	captured := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		headers http.Header
		want    time.Time
		wantOK  bool
	}{
		{
			name:    "valid date header",
			headers: http.Header{"Date": []string{captured.Format(http.TimeFormat)}},
			want:    captured,
			wantOK:  true,
		},
		{
			name:    "missing date header",
			headers: http.Header{"Content-Type": []string{"text/html"}},
			wantOK:  false,
		},
		{
			name:    "invalid date header",
			headers: http.Header{"Date": []string{"yesterday"}},
			wantOK:  false,
		},
		{
			name:    "nil headers",
			headers: nil,
			wantOK:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := &CacheEntry{Headers: tt.headers}
			got, ok := entry.Date()
			if ok != tt.wantOK {
				t.Fatalf("Date() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && !got.Equal(tt.want) {
				t.Errorf("Date() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCacheEntry_Age(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	entry := &CacheEntry{
		Headers: http.Header{"Date": []string{now.Add(-1 * time.Hour).Format(http.TimeFormat)}},
	}
	age, ok := entry.Age(now)
	if !ok {
		t.Fatal("Age() reported no date")
	}
	if age != time.Hour {
		t.Errorf("Age() = %v, want 1h", age)
	}

	future := &CacheEntry{
		Headers: http.Header{"Date": []string{now.Add(time.Hour).Format(http.TimeFormat)}},
	}
	if age, _ := future.Age(now); age != 0 {
		t.Errorf("Age() for future date = %v, want 0", age)
	}
}

func TestCacheEntry_Clone(t *testing.T) {
	orig := &CacheEntry{
		StatusCode: 200,
		Headers:    http.Header{"Content-Type": []string{"text/css"}},
		Data:       []byte("body{}"),
	}
	clone := orig.Clone()

	clone.Data[0] = 'X'
	clone.Headers.Set("Content-Type", "text/plain")

	if string(orig.Data) != "body{}" {
		t.Errorf("Clone shares body bytes: %q", orig.Data)
	}
	if orig.Headers.Get("Content-Type") != "text/css" {
		t.Error("Clone shares headers")
	}

	var nilEntry *CacheEntry
	if nilEntry.Clone() != nil {
		t.Error("Clone of nil should be nil")
	}
}
