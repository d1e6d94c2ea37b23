package manager

import (
	"net"
	"testing"
)

func TestAllocatePortLowestFree(t *testing.T) {
	used := map[int]bool{8600: true, 8601: true}
	reserved := map[int]bool{8602: true}
	port, err := allocatePort(8600, 10, used, reserved)
	if err != nil {
		t.Fatalf("allocatePort: %v", err)
	}
	if port != 8603 {
		t.Errorf("port = %d, want 8603", port)
	}
}

func TestAllocatePortExhausted(t *testing.T) {
	used := map[int]bool{8600: true, 8601: true}
	_, err := allocatePort(8600, 2, used, nil)
	if err == nil {
		t.Fatal("expected error for full window")
	}
	if !IsPortExhausted(err) {
		t.Errorf("expected port exhausted error, got %v", err)
	}
}

func TestAllocatePortEmptyBookkeeping(t *testing.T) {
	port, err := allocatePort(9000, 1, nil, nil)
	if err != nil {
		t.Fatalf("allocatePort: %v", err)
	}
	if port != 9000 {
		t.Errorf("port = %d, want 9000", port)
	}
}

func TestPortFree(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port
	if portFree("127.0.0.1", port) {
		t.Errorf("port %d is bound but reported free", port)
	}
	ln.Close()
	if !portFree("127.0.0.1", port) {
		t.Errorf("port %d is free but reported bound", port)
	}
}
