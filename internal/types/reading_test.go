package types

import "testing"

func TestFormatTemperature(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{in: 21.5, want: "21.50"},
		{in: -127, want: "-127.00"},
		{in: 0, want: "0.00"},
		{in: 19.999, want: "20.00"},
		{in: -0.25, want: "-0.25"},
	}
	for _, tt := range tests {
		if got := FormatTemperature(tt.in); got != tt.want {
			t.Errorf("FormatTemperature(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIsDisconnected(t *testing.T) {
	if !IsDisconnected(DisconnectedC) {
		t.Error("IsDisconnected(-127) = false")
	}
	if IsDisconnected(-126.99) {
		t.Error("IsDisconnected(-126.99) = true")
	}
}
