package audio_test

import (
	"context"
	"errors"
	"testing"

	"github.com/voicefront/voicefront/pkg/audio"
	"github.com/voicefront/voicefront/pkg/audio/mock"
)

func TestSource_Selection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		btAvailable bool
		micPresent  bool
		preferred   audio.Backend
		want        audio.Backend
		wantErr     error
	}{
		{name: "auto prefers bluetooth", btAvailable: true, micPresent: true, preferred: audio.BackendAuto, want: audio.BackendBluetooth},
		{name: "auto falls back to microphone", btAvailable: false, micPresent: true, preferred: audio.BackendAuto, want: audio.BackendMicrophone},
		{name: "empty preference means auto", btAvailable: false, micPresent: true, preferred: "", want: audio.BackendMicrophone},
		{name: "forced bluetooth unavailable", btAvailable: false, micPresent: true, preferred: audio.BackendBluetooth, wantErr: audio.ErrNoDeviceAvailable},
		{name: "forced microphone skips bluetooth", btAvailable: true, micPresent: true, preferred: audio.BackendMicrophone, want: audio.BackendMicrophone},
		{name: "nothing available", btAvailable: false, micPresent: false, preferred: audio.BackendAuto, wantErr: audio.ErrNoDeviceAvailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			bt := &mock.Device{DeviceName: "bluetooth", AvailableResult: tt.btAvailable}
			var mic audio.Device
			if tt.micPresent {
				mic = &mock.Device{DeviceName: "microphone", AvailableResult: true}
			}
			src := audio.NewSource(bt, mic)

			ch, got, err := src.Open(context.Background(), tt.preferred)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Open error = %v, want %v", err, tt.wantErr)
				}
				if src.IsOpen() {
					t.Error("source must stay closed after a failed open")
				}
				return
			}
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			if ch == nil {
				t.Fatal("expected non-nil chunk channel")
			}
			if got != tt.want {
				t.Errorf("backend = %q, want %q", got, tt.want)
			}
			if src.Backend() != tt.want {
				t.Errorf("Backend() = %q, want %q", src.Backend(), tt.want)
			}
		})
	}
}

func TestSource_AlreadyOpen(t *testing.T) {
	t.Parallel()

	stream := mock.NewStream(1)
	mic := &mock.Device{DeviceName: "microphone", AvailableResult: true, OpenResult: stream}
	src := audio.NewSource(nil, mic)

	if _, _, err := src.Open(context.Background(), audio.BackendAuto); err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if _, _, err := src.Open(context.Background(), audio.BackendAuto); !errors.Is(err, audio.ErrAlreadyOpen) {
		t.Fatalf("second Open error = %v, want ErrAlreadyOpen", err)
	}
	if mic.OpenCalls() != 1 {
		t.Errorf("device opened %d times, want 1", mic.OpenCalls())
	}
}

func TestSource_CloseIdempotent(t *testing.T) {
	t.Parallel()

	stream := mock.NewStream(1)
	mic := &mock.Device{DeviceName: "microphone", AvailableResult: true, OpenResult: stream}
	src := audio.NewSource(nil, mic)

	if err := src.Close(); err != nil {
		t.Fatalf("Close before open: %v", err)
	}
	if _, _, err := src.Open(context.Background(), audio.BackendMicrophone); err != nil {
		t.Fatalf("Open: %v", err)
	}
	for range 3 {
		if err := src.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}
	if stream.CloseCalls() != 1 {
		t.Errorf("stream closed %d times, want 1", stream.CloseCalls())
	}
	if src.IsOpen() {
		t.Error("source still open after Close")
	}

	// Reopen after close succeeds.
	mic.OpenResult = nil
	if _, _, err := src.Open(context.Background(), audio.BackendMicrophone); err != nil {
		t.Fatalf("reopen: %v", err)
	}
}

func TestSource_OpenError(t *testing.T) {
	t.Parallel()

	openErr := errors.New("device busy")
	mic := &mock.Device{DeviceName: "microphone", AvailableResult: true, OpenError: openErr}
	src := audio.NewSource(nil, mic)

	if _, _, err := src.Open(context.Background(), audio.BackendAuto); !errors.Is(err, openErr) {
		t.Fatalf("Open error = %v, want wrapped %v", err, openErr)
	}
	// A failed open must not leave the source stuck in the opening state.
	mic.OpenError = nil
	if _, _, err := src.Open(context.Background(), audio.BackendAuto); err != nil {
		t.Fatalf("Open after failure: %v", err)
	}
}

func TestBackend_IsValid(t *testing.T) {
	t.Parallel()

	for _, b := range []audio.Backend{audio.BackendAuto, audio.BackendBluetooth, audio.BackendMicrophone} {
		if !b.IsValid() {
			t.Errorf("%q should be valid", b)
		}
	}
	if audio.Backend("usb").IsValid() {
		t.Error(`"usb" should be invalid`)
	}
}
