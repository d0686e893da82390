package app

import (
	"os"
	"syscall"
	"testing"
)

func TestStopReasonFor(t *testing.T) {
	t.Parallel()
	tests := []struct {
		sig  os.Signal
		want StopReason
	}{
		{os.Interrupt, StopSIGINT},
		{syscall.SIGINT, StopSIGINT},
		{syscall.SIGTERM, StopSIGTERM},
		{syscall.SIGQUIT, StopUnknown},
		{nil, StopUnknown},
	}
	for _, tt := range tests {
		if got := StopReasonFor(tt.sig); got != tt.want {
			t.Fatalf("StopReasonFor(%v) = %s, want %s", tt.sig, got, tt.want)
		}
	}
}
