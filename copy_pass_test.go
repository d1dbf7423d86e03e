package gpuq

import (
	"bytes"
	"errors"
	"testing"

	"github.com/gogpu/gputypes"
)

// fillTransfer maps an upload buffer and writes data into it.
func fillTransfer(t *testing.T, tb *TransferBuffer, data []byte, cycle bool) {
	t.Helper()
	mem, err := tb.Map(cycle)
	if err != nil {
		t.Fatalf("Map() = %v", err)
	}
	copy(mem, data)
	if err := tb.Unmap(); err != nil {
		t.Fatalf("Unmap() = %v", err)
	}
}

// readTransfer maps a download buffer and copies its contents out.
func readTransfer(t *testing.T, tb *TransferBuffer) []byte {
	t.Helper()
	mem, err := tb.Map(false)
	if err != nil {
		t.Fatalf("Map() = %v", err)
	}
	out := make([]byte, len(mem))
	copy(out, mem)
	if err := tb.Unmap(); err != nil {
		t.Fatalf("Unmap() = %v", err)
	}
	return out
}

func TestBufferUploadDownloadRoundTrip(t *testing.T) {
	dev := openSoft(t)

	const size = 64
	buf, err := dev.CreateBuffer(BufferCreateInfo{
		Usage: BufferUsageComputeStorageRead,
		Size:  size,
		Name:  "roundtrip",
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
		want[i] = byte(i * 3)
	}
	fillTransfer(t, up, want, false)

	cb, err := dev.AcquireCommandBuffer()
	if err != nil {
		t.Fatalf("AcquireCommandBuffer() = %v", err)
	}
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

	if got := readTransfer(t, down); !bytes.Equal(got, want) {
		t.Errorf("downloaded bytes differ from uploaded: got %v, want %v", got[:8], want[:8])
	}
}

func TestPartialBufferCopyOffsets(t *testing.T) {
	dev := openSoft(t)

	up, err := dev.CreateTransferBuffer(TransferBufferCreateInfo{Usage: TransferBufferUsageUpload, Size: 32})
	if err != nil {
		t.Fatalf("CreateTransferBuffer() = %v", err)
	}
	defer up.Release()
	down, err := dev.CreateTransferBuffer(TransferBufferCreateInfo{Usage: TransferBufferUsageDownload, Size: 32})
	if err != nil {
		t.Fatalf("CreateTransferBuffer() = %v", err)
	}
	defer down.Release()
	buf, err := dev.CreateBuffer(BufferCreateInfo{Usage: BufferUsageComputeStorageRead, Size: 32})
	if err != nil {
		t.Fatalf("CreateBuffer() = %v", err)
	}
	defer buf.Release()

	src := make([]byte, 32)
	for i := range src {
		src[i] = byte(i)
	}
	fillTransfer(t, up, src, false)

	cb, _ := dev.AcquireCommandBuffer()
	cp, _ := cb.BeginCopyPass()
	// Move bytes 8..16 of the staging data to offset 0 of the buffer,
	// then buffer offset 0..8 to offset 24 of the download buffer.
	if err := cp.UploadToBuffer(up, 8, buf, 0, 8, false); err != nil {
		t.Fatalf("UploadToBuffer() = %v", err)
	}
	if err := cp.DownloadFromBuffer(buf, 0, down, 24, 8); err != nil {
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
	if !bytes.Equal(got[24:32], src[8:16]) {
		t.Errorf("offset copy: got %v, want %v", got[24:32], src[8:16])
	}
}

func TestTextureUploadDownloadRoundTrip(t *testing.T) {
	dev := openSoft(t)

	const w, h = 8, 8
	tex, err := dev.CreateTexture(TextureCreateInfo{
		Format: gputypes.TextureFormatRGBA8Unorm,
		Usage:  TextureUsageSampler,
		Width:  w,
		Height: h,
	})
	if err != nil {
		t.Fatalf("CreateTexture() = %v", err)
	}
	defer tex.Release()

	size := uint64(w * h * 4)
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
		want[i] = byte(i ^ 0x5a)
	}
	fillTransfer(t, up, want, false)

	cb, _ := dev.AcquireCommandBuffer()
	cp, _ := cb.BeginCopyPass()
	if err := cp.UploadToTexture(up, 0, gputypes.TextureDataLayout{}, TextureRegionInfo{Texture: tex}, false); err != nil {
		t.Fatalf("UploadToTexture() = %v", err)
	}
	if err := cp.DownloadFromTexture(TextureRegionInfo{Texture: tex}, down, 0, gputypes.TextureDataLayout{}); err != nil {
		t.Fatalf("DownloadFromTexture() = %v", err)
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

	if got := readTransfer(t, down); !bytes.Equal(got, want) {
		t.Error("texture round trip produced different bytes")
	}
}

// TestCyclingPreservesInFlightData is the core cycling guarantee: writing
// a transfer buffer with cycle while a pending submission still reads it
// must not disturb what that submission observes.
func TestCyclingPreservesInFlightData(t *testing.T) {
	dev := openSoft(t)

	const size = 16
	buf, err := dev.CreateBuffer(BufferCreateInfo{Usage: BufferUsageComputeStorageRead, Size: size})
	if err != nil {
		t.Fatalf("CreateBuffer() = %v", err)
	}
	defer buf.Release()
	up, err := dev.CreateTransferBuffer(TransferBufferCreateInfo{Usage: TransferBufferUsageUpload, Size: size})
	if err != nil {
		t.Fatalf("CreateTransferBuffer() = %v", err)
	}
	defer up.Release()

	first := bytes.Repeat([]byte{0xAA}, size)
	second := bytes.Repeat([]byte{0xBB}, size)

	var downs []*TransferBuffer
	var fences []*Fence
	for _, data := range [][]byte{first, second} {
		// Cycle the staging memory: the previous submission may still be
		// reading the old backing.
		fillTransfer(t, up, data, true)

		down, err := dev.CreateTransferBuffer(TransferBufferCreateInfo{Usage: TransferBufferUsageDownload, Size: size})
		if err != nil {
			t.Fatalf("CreateTransferBuffer() = %v", err)
		}
		downs = append(downs, down)

		cb, err := dev.AcquireCommandBuffer()
		if err != nil {
			t.Fatalf("AcquireCommandBuffer() = %v", err)
		}
		cp, err := cb.BeginCopyPass()
		if err != nil {
			t.Fatalf("BeginCopyPass() = %v", err)
		}
		// Cycle the destination too; the earlier submission may still be
		// copying out of it.
		if err := cp.UploadToBuffer(up, 0, buf, 0, size, true); err != nil {
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
		fences = append(fences, f)
	}

	if err := dev.WaitForFences(true, fences...); err != nil {
		t.Fatalf("WaitForFences() = %v", err)
	}
	for _, f := range fences {
		f.Release()
	}

	if got := readTransfer(t, downs[0]); !bytes.Equal(got, first) {
		t.Errorf("first submission observed %v, want %v", got[:4], first[:4])
	}
	if got := readTransfer(t, downs[1]); !bytes.Equal(got, second) {
		t.Errorf("second submission observed %v, want %v", got[:4], second[:4])
	}
	for _, d := range downs {
		d.Release()
	}
}

func TestCopyPassUsageValidation(t *testing.T) {
	dev := openSoft(t)

	up, err := dev.CreateTransferBuffer(TransferBufferCreateInfo{Usage: TransferBufferUsageUpload, Size: 16})
	if err != nil {
		t.Fatalf("CreateTransferBuffer() = %v", err)
	}
	defer up.Release()
	down, err := dev.CreateTransferBuffer(TransferBufferCreateInfo{Usage: TransferBufferUsageDownload, Size: 16})
	if err != nil {
		t.Fatalf("CreateTransferBuffer() = %v", err)
	}
	defer down.Release()
	buf, err := dev.CreateBuffer(BufferCreateInfo{Usage: BufferUsageComputeStorageRead, Size: 16})
	if err != nil {
		t.Fatalf("CreateBuffer() = %v", err)
	}
	defer buf.Release()

	cb, _ := dev.AcquireCommandBuffer()
	cp, _ := cb.BeginCopyPass()

	// Upload from a download buffer and download into an upload buffer
	// are both direction violations.
	if err := cp.UploadToBuffer(down, 0, buf, 0, 16, false); !errors.Is(err, ErrUsage) {
		t.Errorf("upload from download buffer = %v, want ErrUsage", err)
	}
	if err := cp.DownloadFromBuffer(buf, 0, up, 0, 16); !errors.Is(err, ErrUsage) {
		t.Errorf("download into upload buffer = %v, want ErrUsage", err)
	}
}

func TestTransferBufferMapState(t *testing.T) {
	dev := openSoft(t)

	tb, err := dev.CreateTransferBuffer(TransferBufferCreateInfo{Usage: TransferBufferUsageUpload, Size: 16})
	if err != nil {
		t.Fatalf("CreateTransferBuffer() = %v", err)
	}
	defer tb.Release()

	if err := tb.Unmap(); !errors.Is(err, ErrMapped) {
		t.Errorf("Unmap without Map = %v, want ErrMapped", err)
	}
	if _, err := tb.Map(false); err != nil {
		t.Fatalf("Map() = %v", err)
	}
	if _, err := tb.Map(false); !errors.Is(err, ErrMapped) {
		t.Errorf("double Map = %v, want ErrMapped", err)
	}
	if err := tb.Unmap(); err != nil {
		t.Fatalf("Unmap() = %v", err)
	}
}
