package acd

import "testing"

func TestProbeFrameFields(t *testing.T) {
	f := probeFrame(ourMAC, candidateIP)
	if f.Operation != OpRequest {
		t.Errorf("Operation = %v, want OpRequest", f.Operation)
	}
	if !f.SenderIP.IsUnspecified() {
		t.Errorf("SenderIP = %v, want 0.0.0.0", f.SenderIP)
	}
	if !f.TargetIP.Equal(candidateIP) {
		t.Errorf("TargetIP = %v, want %v", f.TargetIP, candidateIP)
	}
	if !hwEqual(f.TargetHardwareAddr, zeroHardwareAddr) {
		t.Errorf("TargetHardwareAddr = %v, want all-zero", f.TargetHardwareAddr)
	}
	if !hwEqual(f.SenderHardwareAddr, ourMAC) {
		t.Errorf("SenderHardwareAddr = %v, want %v", f.SenderHardwareAddr, ourMAC)
	}
}

func TestAnnounceFrameFields(t *testing.T) {
	f := announceFrame(ourMAC, candidateIP)
	if f.Operation != OpRequest {
		t.Errorf("Operation = %v, want OpRequest", f.Operation)
	}
	if !f.SenderIP.Equal(candidateIP) || !f.TargetIP.Equal(candidateIP) {
		t.Errorf("sender/target = %v/%v, want both %v", f.SenderIP, f.TargetIP, candidateIP)
	}
}
