package trace

import "testing"

func TestAppendText(t *testing.T) {
	r := Record{Dir: DeviceToHost, Data: []byte{'H', 'i', 0x00, 0xff}}
	if got := string(r.AppendText(nil)); got != "d2h 48 69 00 ff\n" {
		t.Fatalf("got %q", got)
	}
	r = Record{Dir: HostToDevice}
	if got := string(r.AppendText([]byte("x"))); got != "xh2d\n" {
		t.Fatalf("got %q", got)
	}
}
