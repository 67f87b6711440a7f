package telegram

import (
	"strings"
	"testing"
	"time"

	"github.com/Dellyyty/gex-tool/internal/gex"
)

func TestEscapeMarkdownV2(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "Hello World"},
		{"Hello_World", "Hello\\_World"},
		{"Test*bold*", "Test\\*bold\\*"},
		{"Spot: $6932.30", "Spot: $6932\\.30"},
		{"[link](url)", "\\[link\\]\\(url\\)"},
		{"~strikethrough~", "\\~strikethrough\\~"},
		{"`code`", "\\`code\\`"},
		{">blockquote", "\\>blockquote"},
		{"#header", "\\#header"},
		{"+plus-minus", "\\+plus\\-minus"},
		{"=equal|pipe", "\\=equal\\|pipe"},
		{"{brace}", "\\{brace\\}"},
		{"end!", "end\\!"},
		{"", ""},
		{"_*[]()~`>#+-=|{}.!", "\\_\\*\\[\\]\\(\\)\\~\\`\\>\\#\\+\\-\\=\\|\\{\\}\\.\\!"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := escapeMarkdownV2(tt.input)
			if result != tt.expected {
				t.Errorf("escapeMarkdownV2(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestNewClient_InvalidChatID(t *testing.T) {
	// NewClient with non-numeric chatID should return an error
	// Note: This test exercises the chat ID parsing error path
	// The bot token validation happens first (network call), so we use a clearly
	// invalid format to test the error handling flow
	_, err := NewClient("", "not-a-number", 3, time.Second)
	if err == nil {
		t.Error("Expected error for invalid chat ID, got nil")
	}
}

func TestExtremes(t *testing.T) {
	series := gex.Series{
		{Strike: 7000, Value: 250_000},
		{Strike: 6950, Value: 1_200_000},
		{Strike: 6900, Value: -80_000},
		{Strike: 6850, Value: -900_000},
	}
	posStrike, posValue, negStrike, negValue := extremes(series)
	if posStrike != 6950 || posValue != 1_200_000 {
		t.Errorf("positive extreme = %v/%v, want 6950/1.2M", posStrike, posValue)
	}
	if negStrike != 6850 || negValue != -900_000 {
		t.Errorf("negative extreme = %v/%v, want 6850/-900k", negStrike, negValue)
	}
}

func TestExtremes_OneSided(t *testing.T) {
	series := gex.Series{
		{Strike: 7000, Value: 250_000},
		{Strike: 6950, Value: 100_000},
	}
	_, posValue, _, negValue := extremes(series)
	if posValue != 250_000 {
		t.Errorf("positive extreme = %v, want 250000", posValue)
	}
	if negValue != 0 {
		t.Errorf("negative extreme = %v, want 0 for all-positive series", negValue)
	}
}

func TestFormatSnapshot(t *testing.T) {
	report := &gex.Report{
		Symbol:      "$SPX",
		SpotPrice:   6932.30,
		Source:      "schwab",
		GeneratedAt: time.Date(2026, 8, 27, 14, 30, 0, 0, time.UTC),
		GEXByStrike: gex.Series{
			{Strike: 7000, Value: 1_500_000},
			{Strike: 6950, Value: 400_000},
			{Strike: 6900, Value: -200_000},
			{Strike: 6850, Value: -1_100_000},
		},
	}
	c := &Client{chatID: 1}
	msg := c.formatSnapshot(report)

	for _, want := range []string{
		"Gamma Exposure",
		"6932\\.30",
		"Call wall: *7000*",
		"1\\.5M",
		"Put wall: *6850*",
		"Zero gamma: 6925",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("snapshot missing %q:\n%s", want, msg)
		}
	}
}

func TestFormatSnapshot_NoFlip(t *testing.T) {
	report := &gex.Report{
		Symbol:      "$SPX",
		SpotPrice:   6932.30,
		GeneratedAt: time.Now().UTC(),
		GEXByStrike: gex.Series{
			{Strike: 7000, Value: 1_000_000},
			{Strike: 6900, Value: 500_000},
		},
	}
	c := &Client{chatID: 1}
	msg := c.formatSnapshot(report)
	if strings.Contains(msg, "Zero gamma") {
		t.Errorf("all-positive series must not report a flip:\n%s", msg)
	}
	if strings.Contains(msg, "Put wall") {
		t.Errorf("all-positive series must not report a put wall:\n%s", msg)
	}
}
