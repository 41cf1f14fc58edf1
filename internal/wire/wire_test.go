package wire

import (
	"bytes"
	"io"
	"testing"
)

func TestReadWriteRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.WriteLine(Heart); err != nil {
		t.Fatalf("write heart: %v", err)
	}
	if err := w.WriteJSON(map[string]string{"action": "identify"}); err != nil {
		t.Fatalf("write json: %v", err)
	}

	r := NewReader(&buf)
	line, err := r.ReadLine()
	if err != nil || line != Heart {
		t.Fatalf("first line = %q, err = %v, want %q", line, err, Heart)
	}
	line, err = r.ReadLine()
	if err != nil {
		t.Fatalf("second line: %v", err)
	}
	if line != `{"action":"identify"}` {
		t.Fatalf("json line = %q", line)
	}
	if _, err := r.ReadLine(); err != io.EOF {
		t.Fatalf("expected io.EOF at end of stream, got %v", err)
	}
}

func TestIsHTTPRequestLine(t *testing.T) {
	cases := map[string]bool{
		"GET /logo.png HTTP/1.1":  true,
		"POST /foo HTTP/1.1":      true,
		`{"action":"identify"}`:   false,
		"HEART":                   false,
	}
	for line, want := range cases {
		if got := IsHTTPRequestLine(line); got != want {
			t.Errorf("IsHTTPRequestLine(%q) = %v, want %v", line, got, want)
		}
	}
}
