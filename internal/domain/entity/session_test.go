package entity

import (
	"testing"
	"time"
)

func TestNewSessionStartsInitiated(t *testing.T) {
	s := NewSession("tg_42", "company-1", "42", ChannelTelegram, time.Hour)

	if s.State != StateInitiated {
		t.Errorf("State = %s, want %s", s.State, StateInitiated)
	}
	if s.Context == nil {
		t.Error("Context not initialized")
	}
	if s.Terminal() {
		t.Error("fresh session reported as terminal")
	}
}

func TestSessionIDFor(t *testing.T) {
	tests := []struct {
		channel Channel
		userID  string
		want    string
	}{
		{ChannelTelegram, "42", "tg_42"},
		{ChannelWhatsApp, "79001234567", "wa_79001234567"},
		{ChannelVoice, "caller-1", "voice_caller-1"},
		{ChannelWeb, "u7", "web_u7"},
		{Channel("unknown"), "x", "web_x"},
	}

	for _, tt := range tests {
		if got := SessionIDFor(tt.channel, tt.userID); got != tt.want {
			t.Errorf("SessionIDFor(%s, %s) = %s, want %s", tt.channel, tt.userID, got, tt.want)
		}
	}
}

func TestAdvanceStateHappyPath(t *testing.T) {
	s := NewSession("tg_42", "company-1", "42", ChannelTelegram, time.Hour)

	// INITIATED → GREETING: 无条件
	if !s.AdvanceState() || s.State != StateGreeting {
		t.Fatalf("INITIATED did not advance to GREETING, got %s", s.State)
	}

	// GREETING: 没有任何上下文时停留
	if s.AdvanceState() {
		t.Fatalf("GREETING advanced without context, got %s", s.State)
	}

	// GREETING → COLLECTING_INFO: 出现任一关键字段
	s.SetContext("desired_service", "s1")
	if !s.AdvanceState() || s.State != StateCollectingInfo {
		t.Fatalf("GREETING did not advance to COLLECTING_INFO, got %s", s.State)
	}

	// COLLECTING_INFO: 字段不全时停留
	s.SetContext("name", "Ann")
	if s.AdvanceState() {
		t.Fatalf("COLLECTING_INFO advanced with missing phone, got %s", s.State)
	}

	// COLLECTING_INFO → BOOKING: 三要素齐备
	s.SetContext("phone", "+79001234567")
	if !s.AdvanceState() || s.State != StateBooking {
		t.Fatalf("COLLECTING_INFO did not advance to BOOKING, got %s", s.State)
	}

	// BOOKING → CONFIRMING: 选定时段
	s.SetContext("selected_slot", map[string]interface{}{"date": "2026-02-01", "time": "14:00"})
	if !s.AdvanceState() || s.State != StateConfirming {
		t.Fatalf("BOOKING did not advance to CONFIRMING, got %s", s.State)
	}

	// CONFIRMING → COMPLETED: 预约创建成功
	s.SetContext("appointment_id", "a9")
	if !s.AdvanceState() || s.State != StateCompleted {
		t.Fatalf("CONFIRMING did not advance to COMPLETED, got %s", s.State)
	}

	if !s.Terminal() {
		t.Error("COMPLETED session not reported as terminal")
	}
}

func TestAdvanceStateTerminalIsFrozen(t *testing.T) {
	s := NewSession("tg_42", "company-1", "42", ChannelTelegram, time.Hour)
	s.State = StateCompleted
	s.SetContext("appointment_id", "a9")

	if s.AdvanceState() {
		t.Error("terminal session advanced")
	}
	if s.State != StateCompleted {
		t.Errorf("State = %s, want COMPLETED", s.State)
	}

	s.State = StateFailed
	if s.AdvanceState() {
		t.Error("FAILED session advanced")
	}
}

func TestAdvanceStateIgnoresEmptyStrings(t *testing.T) {
	s := NewSession("tg_42", "company-1", "42", ChannelTelegram, time.Hour)
	s.State = StateGreeting
	s.SetContext("name", "")

	if s.AdvanceState() {
		t.Errorf("GREETING advanced on empty context value, got %s", s.State)
	}
}

func TestFail(t *testing.T) {
	s := NewSession("tg_42", "company-1", "42", ChannelTelegram, time.Hour)
	s.Fail()

	if s.State != StateFailed {
		t.Errorf("State = %s, want FAILED", s.State)
	}
	if !s.Terminal() {
		t.Error("FAILED session not terminal")
	}
}
