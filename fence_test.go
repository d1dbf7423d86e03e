package gpuq

import (
	"errors"
	"testing"
)

func TestFenceWaitThenSignaled(t *testing.T) {
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

	if err := f.Wait(); err != nil {
		t.Fatalf("Wait() = %v", err)
	}
	if !f.Signaled() {
		t.Error("Signaled() = false after Wait")
	}
	// A signaled fence never reverts.
	if err := f.Wait(); err != nil {
		t.Errorf("second Wait() = %v", err)
	}
}

func TestFenceReleased(t *testing.T) {
	dev := openSoft(t)

	cb, _ := dev.AcquireCommandBuffer()
	f, err := cb.SubmitAndAcquireFence()
	if err != nil {
		t.Fatalf("SubmitAndAcquireFence() = %v", err)
	}

	f.Release()
	f.Release() // idempotent

	if f.Signaled() {
		t.Error("Signaled() = true on released fence")
	}
	if err := f.Wait(); !errors.Is(err, ErrFenceReleased) {
		t.Errorf("Wait() on released fence = %v, want ErrFenceReleased", err)
	}
}

func TestNilFence(t *testing.T) {
	var f *Fence
	if err := f.Wait(); !errors.Is(err, ErrFenceReleased) {
		t.Errorf("nil fence Wait() = %v, want ErrFenceReleased", err)
	}
	if f.Signaled() {
		t.Error("nil fence Signaled() = true")
	}
	f.Release() // must not panic
}

// TestFenceCoversDownloads verifies that a signaled fence implies
// download transfer buffers hold the copied data.
func TestFenceCoversDownloads(t *testing.T) {
	dev := openSoft(t)

	const size = 32
	buf, err := dev.CreateBuffer(BufferCreateInfo{
		Usage: BufferUsageComputeStorageRead | BufferUsageComputeStorageWrite,
		Size:  size,
	})
	if err != nil {
		t.Fatalf("CreateBuffer() = %v", err)
	}
	defer buf.Release()
	up, err := dev.CreateTransferBuffer(TransferBufferCreateInfo{Usage: TransferBufferUsageUpload, Size: size})
	if err != nil {
		t.Fatalf("CreateTransferBuffer() = %v", err)
	}
	defer up.Release()
	down, err := dev.CreateTransferBuffer(TransferBufferCreateInfo{Usage: TransferBufferUsageDownload, Size: size})
	if err != nil {
		t.Fatalf("CreateTransferBuffer() = %v", err)
	}
	defer down.Release()

	want := make([]byte, size)
	for i := range want {
		want[i] = byte(0x5A ^ i)
	}
	fillTransfer(t, up, want, false)

	cb, _ := dev.AcquireCommandBuffer()
	cp, err := cb.BeginCopyPass()
	if err != nil {
		t.Fatalf("BeginCopyPass() = %v", err)
	}
	if err := cp.UploadToBuffer(up, 0, buf, 0, size, false); err != nil {
		t.Fatalf("UploadToBuffer() = %v", err)
	}
	if err := cp.DownloadFromBuffer(buf, 0, down, 0, size); err != nil {
		t.Fatalf("DownloadFromBuffer() = %v", err)
	}
	if err := cp.End(); err != nil {
		t.Fatalf("End() = %v", err)
	}
	f, err := cb.SubmitAndAcquireFence()
	if err != nil {
		t.Fatalf("SubmitAndAcquireFence() = %v", err)
	}
	defer f.Release()
	if err := f.Wait(); err != nil {
		t.Fatalf("Wait() = %v", err)
	}

	got := readTransfer(t, down)
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("byte %d = %#02x, want %#02x", i, got[i], want[i])
		}
	}
}
