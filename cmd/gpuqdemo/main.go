// Command gpuqdemo runs a headless upload/dispatch/download round trip
// through the gpuq submission layer.
package main

import (
	"encoding/binary"
	"flag"
	"log"
	"math"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpuq"
	_ "github.com/gogpu/gpuq/driver/soft"
)

func main() {
	var (
		driverName = flag.String("driver", "", "driver to use (empty selects by priority)")
		count      = flag.Int("n", 1024, "number of float32 elements")
		scale      = flag.Float64("scale", 2.0, "scale factor applied on the GPU timeline")
		debug      = flag.Bool("debug", false, "enable debug validation and logging")
	)
	flag.Parse()

	opts := []gpuq.Option{gpuq.WithDebug(*debug)}
	if *driverName != "" {
		opts = append(opts, gpuq.WithDriver(*driverName))
	}
	dev, err := gpuq.Open(opts...)
	if err != nil {
		log.Fatalf("open device: %v", err)
	}
	defer dev.Close()
	log.Printf("driver: %s", dev.Driver())

	size := uint64(*count) * 4
	buf, err := dev.CreateBuffer(gpuq.BufferCreateInfo{
		Usage: gpuq.BufferUsageComputeStorageRead | gpuq.BufferUsageComputeStorageWrite,
		Size:  size,
		Name:  "demo_data",
	})
	if err != nil {
		log.Fatalf("create buffer: %v", err)
	}
	defer buf.Release()

	upload, err := dev.CreateTransferBuffer(gpuq.TransferBufferCreateInfo{
		Usage: gpuq.TransferBufferUsageUpload,
		Size:  size,
		Name:  "demo_upload",
	})
	if err != nil {
		log.Fatalf("create upload buffer: %v", err)
	}
	defer upload.Release()

	download, err := dev.CreateTransferBuffer(gpuq.TransferBufferCreateInfo{
		Usage: gpuq.TransferBufferUsageDownload,
		Size:  size,
		Name:  "demo_download",
	})
	if err != nil {
		log.Fatalf("create download buffer: %v", err)
	}
	defer download.Release()

	mem, err := upload.Map(false)
	if err != nil {
		log.Fatalf("map upload buffer: %v", err)
	}
	for i := 0; i < *count; i++ {
		binary.LittleEndian.PutUint32(mem[i*4:], math.Float32bits(float32(i)))
	}
	if err := upload.Unmap(); err != nil {
		log.Fatalf("unmap upload buffer: %v", err)
	}

	// The uniform slot carries the scale factor; the kernel multiplies
	// every element of the storage buffer by it.
	shader, err := dev.CreateShader(gpuq.ShaderCreateInfo{
		Stage: gputypes.ShaderStageCompute,
		Name:  "demo_scale",
		Kernel: func(inv *gpuq.KernelInvocation) {
			factor := math.Float32frombits(binary.LittleEndian.Uint32(inv.Uniforms[0]))
			data := inv.StorageBuffers[0]
			for off := 0; off+4 <= len(data); off += 4 {
				v := math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))
				binary.LittleEndian.PutUint32(data[off:], math.Float32bits(v*factor))
			}
		},
	})
	if err != nil {
		log.Fatalf("create shader: %v", err)
	}
	defer shader.Release()

	pipeline, err := dev.CreateComputePipeline(gpuq.ComputePipelineCreateInfo{
		Shader: shader,
		Name:   "demo_scale",
	})
	if err != nil {
		log.Fatalf("create pipeline: %v", err)
	}
	defer pipeline.Release()

	cb, err := dev.AcquireCommandBuffer()
	if err != nil {
		log.Fatalf("acquire command buffer: %v", err)
	}

	cp, err := cb.BeginCopyPass()
	if err != nil {
		log.Fatalf("begin copy pass: %v", err)
	}
	if err := cp.UploadToBuffer(upload, 0, buf, 0, size, false); err != nil {
		log.Fatalf("upload: %v", err)
	}
	if err := cp.End(); err != nil {
		log.Fatalf("end copy pass: %v", err)
	}

	var factor [4]byte
	binary.LittleEndian.PutUint32(factor[:], math.Float32bits(float32(*scale)))
	if err := cb.PushUniformData(gputypes.ShaderStageCompute, 0, factor[:]); err != nil {
		log.Fatalf("push uniform: %v", err)
	}

	pass, err := cb.BeginComputePass(nil, []gpuq.StorageBufferBinding{{Buffer: buf}})
	if err != nil {
		log.Fatalf("begin compute pass: %v", err)
	}
	if err := pass.BindPipeline(pipeline); err != nil {
		log.Fatalf("bind pipeline: %v", err)
	}
	if err := pass.Dispatch(1, 1, 1); err != nil {
		log.Fatalf("dispatch: %v", err)
	}
	if err := pass.End(); err != nil {
		log.Fatalf("end compute pass: %v", err)
	}

	cp, err = cb.BeginCopyPass()
	if err != nil {
		log.Fatalf("begin copy pass: %v", err)
	}
	if err := cp.DownloadFromBuffer(buf, 0, download, 0, size); err != nil {
		log.Fatalf("download: %v", err)
	}
	if err := cp.End(); err != nil {
		log.Fatalf("end copy pass: %v", err)
	}

	fence, err := cb.SubmitAndAcquireFence()
	if err != nil {
		log.Fatalf("submit: %v", err)
	}
	if err := fence.Wait(); err != nil {
		log.Fatalf("wait fence: %v", err)
	}
	fence.Release()

	out, err := download.Map(false)
	if err != nil {
		log.Fatalf("map download buffer: %v", err)
	}
	show := *count
	if show > 8 {
		show = 8
	}
	for i := 0; i < show; i++ {
		v := math.Float32frombits(binary.LittleEndian.Uint32(out[i*4:]))
		log.Printf("out[%d] = %g", i, v)
	}
	if err := download.Unmap(); err != nil {
		log.Fatalf("unmap download buffer: %v", err)
	}
	log.Printf("scaled %d elements by %g", *count, *scale)
}
