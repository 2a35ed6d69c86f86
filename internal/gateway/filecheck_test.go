package gateway

import (
	"bytes"
	"testing"
)

func TestScanMarkers(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"clean", []byte("%PDF-1.7 1 0 obj << /Type /Catalog >> endobj"), ""},
		{"encrypted", []byte("%PDF-1.7 trailer << /Encrypt 5 0 R >>"), "encrypted"},
		{"javascript action", []byte("<< /S /JavaScript /JS (app.alert) >>"), "javascript"},
		{"launch action", []byte("<< /S /Launch /F (cmd.exe) >>"), "javascript"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := scanMarkers(tt.data); got != tt.want {
				t.Errorf("scanMarkers = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestScanMarkersObjectBomb(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.7 ")
	for i := 0; i <= maxObjectCount; i++ {
		buf.WriteString("1 0 obj endobj ")
	}
	if got := scanMarkers(buf.Bytes()); got != "object-count-exceeded" {
		t.Errorf("scanMarkers = %q, want object-count-exceeded", got)
	}
}

func TestCheckSize(t *testing.T) {
	c := &FileChecker{maxFileSize: 1024}
	if err := c.CheckSize(1024); err != nil {
		t.Errorf("size at the cap must pass: %v", err)
	}
	if err := c.CheckSize(1025); err == nil {
		t.Error("size over the cap must be rejected")
	}
}
