package discovery

import "testing"

func TestIsSearchForMatchesTarget(t *testing.T) {
	req := []byte("M-SEARCH * HTTP/1.1\r\nHOST: 239.255.255.250:1900\r\nMAN: \"ssdp:discover\"\r\nST: urn:pilightd:broker:1\r\nMX: 2\r\n\r\n")
	if !isSearchFor(req, SearchTarget) {
		t.Fatalf("expected a matching M-SEARCH to be recognized")
	}
}

func TestIsSearchForRejectsWrongTarget(t *testing.T) {
	req := []byte("M-SEARCH * HTTP/1.1\r\nST: urn:other:service:1\r\n\r\n")
	if isSearchFor(req, SearchTarget) {
		t.Fatalf("a differently-targeted M-SEARCH must not match")
	}
}

func TestIsSearchForRejectsNonSearch(t *testing.T) {
	req := []byte("NOTIFY * HTTP/1.1\r\nST: urn:pilightd:broker:1\r\n\r\n")
	if isSearchFor(req, SearchTarget) {
		t.Fatalf("a NOTIFY is not an M-SEARCH")
	}
}

func TestLocationHeaderExtraction(t *testing.T) {
	resp := []byte("HTTP/1.1 200 OK\r\nST: urn:pilightd:broker:1\r\nLOCATION: 10.0.0.5:5000\r\n\r\n")
	loc, ok := locationHeader(resp)
	if !ok || loc != "10.0.0.5:5000" {
		t.Fatalf("locationHeader = %q, ok=%v, want 10.0.0.5:5000", loc, ok)
	}
}
