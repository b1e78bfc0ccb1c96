package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestPrintFrame(t *testing.T) {
	tests := []struct {
		name  string
		msg   string
		quiet bool
		want  string
	}{
		{"status", `{"type":"status","data":{"enabled":true,"stats":{"accepted":4}}}`, false, "[STATUS] enabled=true paused=false installed=false active=false accepted=4 excluded=0"},
		{"motion", `{"type":"motion","data":{"vertical":12,"horizontal":-3,"commands":5,"target":9}}`, false, "[MOTION] v=+12 h=-3 commands=5 target=9"},
		{"motion quiet", `{"type":"motion","data":{"vertical":12}}`, true, ""},
		{"activity", `{"type":"activity","data":{"process":"firefox","delta":168,"axis":"vertical"}}`, false, "[WHEEL] firefox vertical +168"},
		{"unknown type", `{"type":"other","data":{"x":1}}`, false, `[other] {"x":1}`},
		{"not json", `hello`, false, "[TEXT] hello"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			printFrame(&buf, []byte(tt.msg), tt.quiet)
			got := strings.TrimSpace(buf.String())
			if got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}
