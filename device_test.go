package gpuq

import (
	"errors"
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpuq/driver"
	_ "github.com/gogpu/gpuq/driver/soft"
)

// openSoft opens a device on the software driver and closes it when the
// test ends.
func openSoft(t *testing.T, opts ...Option) *Device {
	t.Helper()
	dev, err := Open(append([]Option{WithDriver(driver.NameSoft)}, opts...)...)
	if err != nil {
		t.Fatalf("Open() = %v", err)
	}
	t.Cleanup(func() { dev.Close() })
	return dev
}

func TestOpenSoft(t *testing.T) {
	dev := openSoft(t)
	if dev.Driver() != driver.NameSoft {
		t.Errorf("Driver() = %q, want %q", dev.Driver(), driver.NameSoft)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(WithDriver("no-such-driver"))
	if !errors.Is(err, ErrNoDriver) {
		t.Errorf("Open(unknown driver) = %v, want ErrNoDriver", err)
	}
}

func TestCloseIdempotent(t *testing.T) {
	dev := openSoft(t)
	if err := dev.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if err := dev.Close(); err != nil {
		t.Errorf("second Close() = %v, want nil", err)
	}
}

func TestOperationsAfterClose(t *testing.T) {
	dev := openSoft(t)
	dev.Close()

	if _, err := dev.AcquireCommandBuffer(); !errors.Is(err, ErrDeviceClosed) {
		t.Errorf("AcquireCommandBuffer after close = %v, want ErrDeviceClosed", err)
	}
	if _, err := dev.CreateBuffer(BufferCreateInfo{Usage: BufferUsageVertex, Size: 16}); !errors.Is(err, ErrDeviceClosed) {
		t.Errorf("CreateBuffer after close = %v, want ErrDeviceClosed", err)
	}
	if err := dev.WaitIdle(); !errors.Is(err, ErrDeviceClosed) {
		t.Errorf("WaitIdle after close = %v, want ErrDeviceClosed", err)
	}
}

func TestLastError(t *testing.T) {
	dev := openSoft(t)

	if got := dev.LastError(); got != "" {
		t.Fatalf("LastError() on fresh device = %q, want empty", got)
	}

	// Provoke a validation failure.
	if _, err := dev.CreateBuffer(BufferCreateInfo{}); err == nil {
		t.Fatal("CreateBuffer with empty info should fail")
	}
	if got := dev.LastError(); got == "" {
		t.Error("LastError() empty after a failed operation")
	}

	dev.ClearLastError()
	if got := dev.LastError(); got != "" {
		t.Errorf("LastError() after clear = %q, want empty", got)
	}
}

func TestPoolStats(t *testing.T) {
	dev := openSoft(t)

	buf, err := dev.CreateBuffer(BufferCreateInfo{
		Usage: BufferUsageComputeStorageRead,
		Size:  1024,
		Name:  "stats",
	})
	if err != nil {
		t.Fatalf("CreateBuffer() = %v", err)
	}

	stats := dev.PoolStats()
	if stats.Resources != 1 {
		t.Errorf("Resources = %d, want 1", stats.Resources)
	}
	if stats.Backings != 1 {
		t.Errorf("Backings = %d, want 1", stats.Backings)
	}
	if stats.Bytes != 1024 {
		t.Errorf("Bytes = %d, want 1024", stats.Bytes)
	}

	buf.Release()
	stats = dev.PoolStats()
	if stats.Resources != 0 {
		t.Errorf("Resources after release = %d, want 0", stats.Resources)
	}
}

func TestPoolStatsString(t *testing.T) {
	s := PoolStats{Resources: 2, Backings: 3, Bytes: 4096, Cycles: 1}
	want := "Pool[2 resources, 3 backings, 4 KB, 1 cycles]"
	if s.String() != want {
		t.Errorf("String() = %q, want %q", s.String(), want)
	}
}

func TestTextureSupportsFormat(t *testing.T) {
	dev := openSoft(t)

	if !dev.TextureSupportsFormat(gputypes.TextureFormatRGBA8Unorm, TextureUsageColorTarget, 1) {
		t.Error("RGBA8Unorm should be supported")
	}
	if dev.TextureSupportsFormat(gputypes.TextureFormatUndefined, TextureUsageColorTarget, 1) {
		t.Error("undefined format should not be supported")
	}
	if !dev.TextureSupportsSampleCount(gputypes.TextureFormatRGBA8Unorm, 4) {
		t.Error("4x MSAA should be supported")
	}
	if dev.TextureSupportsSampleCount(gputypes.TextureFormatRGBA8Unorm, 3) {
		t.Error("3x MSAA should not be supported")
	}
}

func TestWaitIdleDrains(t *testing.T) {
	dev := openSoft(t)

	for i := 0; i < 8; i++ {
		cb, err := dev.AcquireCommandBuffer()
		if err != nil {
			t.Fatalf("AcquireCommandBuffer() = %v", err)
		}
		if err := cb.Submit(); err != nil {
			t.Fatalf("Submit() = %v", err)
		}
	}
	if err := dev.WaitIdle(); err != nil {
		t.Fatalf("WaitIdle() = %v", err)
	}
}

func TestWaitForFencesAll(t *testing.T) {
	dev := openSoft(t)

	var fences []*Fence
	for i := 0; i < 3; i++ {
		cb, err := dev.AcquireCommandBuffer()
		if err != nil {
			t.Fatalf("AcquireCommandBuffer() = %v", err)
		}
		f, err := cb.SubmitAndAcquireFence()
		if err != nil {
			t.Fatalf("SubmitAndAcquireFence() = %v", err)
		}
		fences = append(fences, f)
	}

	if err := dev.WaitForFences(true, fences...); err != nil {
		t.Fatalf("WaitForFences(all) = %v", err)
	}
	for i, f := range fences {
		if !f.Signaled() {
			t.Errorf("fence %d not signaled after WaitForFences(all)", i)
		}
		f.Release()
	}
}

func TestWaitForFencesAny(t *testing.T) {
	dev := openSoft(t)

	cb, err := dev.AcquireCommandBuffer()
	if err != nil {
		t.Fatalf("AcquireCommandBuffer() = %v", err)
	}
	f, err := cb.SubmitAndAcquireFence()
	if err != nil {
		t.Fatalf("SubmitAndAcquireFence() = %v", err)
	}
	defer f.Release()

	if err := dev.WaitForFences(false, f); err != nil {
		t.Fatalf("WaitForFences(any) = %v", err)
	}
	if !f.Signaled() {
		t.Error("fence not signaled after WaitForFences(any)")
	}
}
