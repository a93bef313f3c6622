package assessment

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/rs/zerolog"
)

func newTestCapture(device *fakeDevice) (*MediaCapture, *manualLoop, *fakePreview) {
	loop := &manualLoop{}
	preview := &fakePreview{}
	return NewMediaCapture(loop, device, preview, 0, zerolog.New(io.Discard)), loop, preview
}

func TestMediaCaptureAcquireAndRelease(t *testing.T) {
	device := &fakeDevice{}
	m, loop, preview := newTestCapture(device)

	var results []error
	m.Acquire(context.Background(), func(err error) { results = append(results, err) })
	// A second call while the prompt is open shares its outcome.
	m.Acquire(context.Background(), func(err error) { results = append(results, err) })
	loop.flush()

	if len(results) != 2 || results[0] != nil || results[1] != nil {
		t.Fatalf("results = %v, want two nil", results)
	}
	if device.opened() != 1 {
		t.Errorf("device opened %d times, want 1", device.opened())
	}
	if c := device.constraints[0]; !c.Video || c.Audio {
		t.Errorf("constraints = %+v, want video only", c)
	}
	if len(preview.attached) != 1 {
		t.Errorf("preview attached %d times, want 1", len(preview.attached))
	}

	// Already held: reports success without reopening.
	m.Acquire(context.Background(), func(err error) { results = append(results, err) })
	if len(results) != 3 || device.opened() != 1 {
		t.Errorf("held stream was reopened")
	}

	m.Release()
	if m.Held() {
		t.Error("Held() = true after Release")
	}
	for _, tr := range device.streams[0].tracks {
		if !tr.stopped {
			t.Errorf("track %s not stopped", tr.id)
		}
	}
	m.Release()
}

func TestMediaCaptureReleaseDuringPrompt(t *testing.T) {
	device := &fakeDevice{}
	m, loop, preview := newTestCapture(device)

	var result error
	m.Acquire(context.Background(), func(err error) { result = err })
	m.Release()
	loop.flush()

	if !errors.Is(result, errCaptureCancelled) {
		t.Fatalf("result = %v, want errCaptureCancelled", result)
	}
	if m.Held() {
		t.Error("late stream was kept")
	}
	if !device.streams[0].tracks[0].stopped {
		t.Error("late stream tracks were not stopped")
	}
	if len(preview.attached) != 0 {
		t.Error("late stream was attached to the preview")
	}
}

func TestMediaCaptureDenied(t *testing.T) {
	device := &fakeDevice{err: ErrCameraDenied}
	m, loop, _ := newTestCapture(device)

	var result error
	m.Acquire(context.Background(), func(err error) { result = err })
	loop.flush()

	if !errors.Is(result, ErrCameraDenied) {
		t.Fatalf("result = %v, want ErrCameraDenied", result)
	}
	if m.Held() {
		t.Error("Held() = true after denial")
	}

	device.err = nil
	m.Acquire(context.Background(), func(err error) { result = err })
	loop.flush()
	if result != nil || !m.Held() {
		t.Errorf("retry after denial failed: %v", result)
	}
}

func TestMediaCaptureReacquireDuringPrompt(t *testing.T) {
	device := &fakeDevice{}
	m, loop, preview := newTestCapture(device)

	var first, second error
	calls := 0
	m.Acquire(context.Background(), func(err error) { first = err })
	m.Release()
	m.Acquire(context.Background(), func(err error) { second = err; calls++ })
	loop.flush()

	if !errors.Is(first, errCaptureCancelled) {
		t.Errorf("first = %v, want errCaptureCancelled", first)
	}
	if second != nil || calls != 1 {
		t.Fatalf("second = %v after %d calls, want one nil", second, calls)
	}
	if !m.Held() || device.opened() != 2 {
		t.Fatalf("held = %v opened = %d, want a fresh stream", m.Held(), device.opened())
	}
	if !device.streams[0].tracks[0].stopped || device.streams[1].tracks[0].stopped {
		t.Error("wrong stream stopped")
	}
	if len(preview.attached) != 1 || preview.attached[0].ID() != device.streams[1].ID() {
		t.Errorf("preview attached %d streams", len(preview.attached))
	}
}
