package address_test

import (
	"testing"

	"github.com/jacobsa/dbus/address"
)

func TestParseList_UnixThenTCP(t *testing.T) {
	addrs, err := address.ParseList("unix:path=/run/dbus/system_bus_socket;tcp:host=h,port=1")
	if err != nil {
		t.Fatalf("ParseList: %v", err)
	}
	if len(addrs) != 2 {
		t.Fatalf("got %d addresses, want 2", len(addrs))
	}

	unix := addrs[0]
	if unix.Kind != address.KindUnix {
		t.Errorf("addrs[0].Kind = %v, want KindUnix", unix.Kind)
	}
	if unix.Path != "/run/dbus/system_bus_socket" {
		t.Errorf("addrs[0].Path = %q", unix.Path)
	}
	wantLen := 2 + len(unix.Path)
	if got := unix.SockaddrLen(); got != wantLen {
		t.Errorf("SockaddrLen() = %d, want %d", got, wantLen)
	}

	it := address.NewIterator(addrs)
	_, _ = it.Next() // consume the unix entry
	tcp, ok := it.Next()
	if !ok {
		t.Fatalf("expected a second address")
	}
	if tcp.Kind != address.KindTCP || tcp.Host != "h" || tcp.Port != "1" {
		t.Errorf("tcp address = %+v", tcp)
	}
}

func TestParseList_ContainerPercentDecoding(t *testing.T) {
	addrs, err := address.ParseList("x-container:machine=foo%2Fbar")
	if err != nil {
		t.Fatalf("ParseList: %v", err)
	}
	if len(addrs) != 1 {
		t.Fatalf("got %d addresses, want 1", len(addrs))
	}
	if addrs[0].Machine != "foo/bar" {
		t.Errorf("Machine = %q, want foo/bar", addrs[0].Machine)
	}
	if addrs[0].Path != address.WellKnownSystemBusSocket {
		t.Errorf("container Path = %q, want well-known system bus socket", addrs[0].Path)
	}
}

func TestParseList_UnknownTypeSkipped(t *testing.T) {
	addrs, err := address.ParseList("nonesuch:foo=bar;unix:path=/tmp/x")
	if err != nil {
		t.Fatalf("ParseList: %v", err)
	}
	if len(addrs) != 1 || addrs[0].Kind != address.KindUnix {
		t.Fatalf("addrs = %+v", addrs)
	}
}

func TestParseList_UnixRejectsPathAndAbstractTogether(t *testing.T) {
	_, err := address.ParseList("unix:path=/tmp/x,abstract=y")
	if err == nil {
		t.Fatalf("expected an error")
	}
}

func TestParseList_UnixexecArgvGapIsRejected(t *testing.T) {
	_, err := address.ParseList("unixexec:path=/bin/true,argv0=true,argv2=--foo")
	if err == nil {
		t.Fatalf("expected an error for the gap at argv1")
	}
}

func TestParseList_UnixexecDefaultsArgv0ToPath(t *testing.T) {
	addrs, err := address.ParseList("unixexec:path=/bin/true")
	if err != nil {
		t.Fatalf("ParseList: %v", err)
	}
	if len(addrs[0].Argv) != 1 || addrs[0].Argv[0] != "/bin/true" {
		t.Errorf("Argv = %v", addrs[0].Argv)
	}
}

func TestParseList_TCPRequiresHostAndPort(t *testing.T) {
	if _, err := address.ParseList("tcp:host=h"); err == nil {
		t.Fatalf("expected an error for missing port")
	}
	if _, err := address.ParseList("tcp:port=1"); err == nil {
		t.Fatalf("expected an error for missing host")
	}
}
