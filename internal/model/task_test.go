package model

import (
	"strings"
	"testing"
)

func TestFormatETA(t *testing.T) {
	tests := []struct {
		seconds  int
		expected string
	}{
		{-1, "—"},
		{0, "—"},
		{30, "00:30"},
		{90, "01:30"},
		{3600, "01:00:00"},
		{3661, "01:01:01"},
		{7323, "02:02:03"},
	}

	for _, test := range tests {
		result := FormatETA(test.seconds)
		if result != test.expected {
			t.Errorf("FormatETA(%d) = %s, expected %s", test.seconds, result, test.expected)
		}
	}
}

func TestFormatSpeed(t *testing.T) {
	tests := []struct {
		rate     float64
		expected string
	}{
		{0, ""},
		{-5, ""},
		{1024 * 1024, "1.0MB/s"},
		{2.5 * 1024 * 1024, "2.5MB/s"},
	}

	for _, test := range tests {
		if got := FormatSpeed(test.rate); got != test.expected {
			t.Errorf("FormatSpeed(%v) = %q, expected %q", test.rate, got, test.expected)
		}
	}
}

func TestTask_DisplayTitle(t *testing.T) {
	tests := []struct {
		name     string
		task     Task
		expected string
	}{
		{"title wins", Task{Title: "Video Title", URL: "https://youtube.com/watch?v=123"}, "Video Title"},
		{"url-like title ignored", Task{Title: "https://x", Filename: "/d/clip.mp4"}, "clip"},
		{"filename without dir", Task{Filename: "song.webm", URL: "u"}, "song"},
		{"url fallback", Task{URL: "https://youtube.com/watch?v=123"}, "https://youtube.com/watch?v=123"},
		{"empty", Task{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.task.DisplayTitle(); got != tt.expected {
				t.Errorf("DisplayTitle() = %q, expected %q", got, tt.expected)
			}
		})
	}
}

func TestProgressEvent_Name(t *testing.T) {
	tests := []struct {
		status   Phase
		expected string
	}{
		{PhaseQueued, "progress"},
		{PhaseDownloading, "progress"},
		{PhaseOptimizing, "progress"},
		{PhaseFinished, "complete"},
		{PhaseError, "error"},
	}

	for _, test := range tests {
		ev := ProgressEvent{Status: test.status}
		if ev.Name() != test.expected {
			t.Errorf("Name() for %s = %s, expected %s", test.status, ev.Name(), test.expected)
		}
	}
}

func TestProgressEvent_Names(t *testing.T) {
	tests := []struct {
		status   Phase
		expected []string
	}{
		{PhaseDownloading, []string{"progress"}},
		{PhaseFinished, []string{"progress", "complete"}},
		{PhaseError, []string{"error"}},
	}

	for _, test := range tests {
		got := ProgressEvent{Status: test.status}.Names()
		if strings.Join(got, ",") != strings.Join(test.expected, ",") {
			t.Errorf("Names() for %s = %v, expected %v", test.status, got, test.expected)
		}
	}
}
