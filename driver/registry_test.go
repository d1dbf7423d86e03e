package driver

import (
	"errors"
	"slices"
	"testing"

	"github.com/gogpu/gputypes"
)

// stubDevice is the minimal Device for registry tests.
type stubDevice struct {
	name string
}

func (d *stubDevice) Name() string { return d.name }

func (d *stubDevice) Caps() Caps { return Caps{} }

func (d *stubDevice) CreateBuffer(BufferDescriptor) (Buffer, error) {
	return nil, ErrNotAvailable
}

func (d *stubDevice) CreateTexture(TextureDescriptor) (Texture, error) {
	return nil, ErrNotAvailable
}

func (d *stubDevice) CreateSampler(SamplerDescriptor) (Sampler, error) {
	return nil, ErrNotAvailable
}

func (d *stubDevice) CreateShader(ShaderDescriptor) (Shader, error) {
	return nil, ErrNotAvailable
}

func (d *stubDevice) CreateGraphicsPipeline(GraphicsPipelineDescriptor) (Pipeline, error) {
	return nil, ErrNotAvailable
}

func (d *stubDevice) CreateComputePipeline(ComputePipelineDescriptor) (Pipeline, error) {
	return nil, ErrNotAvailable
}

func (d *stubDevice) TextureFormatSupported(format gputypes.TextureFormat, usage uint32, samples uint32) bool {
	return false
}

func (d *stubDevice) Submit(Submission) (Fence, error) { return nil, ErrNotAvailable }

func (d *stubDevice) WaitIdle() error { return nil }

func (d *stubDevice) Destroy() {}

func stubFactory(name string) Factory {
	return func(opts Options) (Device, error) {
		return &stubDevice{name: name}, nil
	}
}

func TestRegisterUnregister(t *testing.T) {
	const name = "registry-test"
	Register(name, stubFactory(name))
	defer Unregister(name)

	if !IsRegistered(name) {
		t.Fatalf("IsRegistered(%q) = false after Register", name)
	}
	if !slices.Contains(Available(), name) {
		t.Errorf("Available() = %v, missing %q", Available(), name)
	}

	Unregister(name)
	if IsRegistered(name) {
		t.Errorf("IsRegistered(%q) = true after Unregister", name)
	}
}

func TestOpenRegistered(t *testing.T) {
	const name = "registry-test-open"
	Register(name, stubFactory(name))
	defer Unregister(name)

	dev, err := Open(name, Options{})
	if err != nil {
		t.Fatalf("Open(%q) = %v", name, err)
	}
	defer dev.Destroy()
	if dev.Name() != name {
		t.Errorf("Name() = %q, want %q", dev.Name(), name)
	}
}

func TestOpenUnknown(t *testing.T) {
	if _, err := Open("no-such-driver", Options{}); !errors.Is(err, ErrNotAvailable) {
		t.Errorf("Open(unknown) = %v, want ErrNotAvailable", err)
	}
}

func TestRegisterReplaces(t *testing.T) {
	const name = "registry-test-replace"
	Register(name, stubFactory("first"))
	defer Unregister(name)
	Register(name, stubFactory("second"))

	dev, err := Open(name, Options{})
	if err != nil {
		t.Fatalf("Open(%q) = %v", name, err)
	}
	defer dev.Destroy()
	if dev.Name() != "second" {
		t.Errorf("Name() = %q, want the replacing factory's device", dev.Name())
	}
}

// TestOpenDefaultSkipsFailing registers a priority driver that fails to
// open and verifies selection falls through to the next driver.
func TestOpenDefaultSkipsFailing(t *testing.T) {
	Register(NameWGPU, func(opts Options) (Device, error) {
		return nil, ErrNotAvailable
	})
	defer Unregister(NameWGPU)
	Register(NameSoft, stubFactory(NameSoft))
	defer Unregister(NameSoft)

	dev, err := OpenDefault(Options{})
	if err != nil {
		t.Fatalf("OpenDefault() = %v", err)
	}
	defer dev.Destroy()
	if dev.Name() != NameSoft {
		t.Errorf("OpenDefault() picked %q, want %q", dev.Name(), NameSoft)
	}
}

// TestOpenDefaultPriority verifies hardware outranks software when both
// open.
func TestOpenDefaultPriority(t *testing.T) {
	Register(NameWGPU, stubFactory(NameWGPU))
	defer Unregister(NameWGPU)
	Register(NameSoft, stubFactory(NameSoft))
	defer Unregister(NameSoft)

	dev, err := OpenDefault(Options{})
	if err != nil {
		t.Fatalf("OpenDefault() = %v", err)
	}
	defer dev.Destroy()
	if dev.Name() != NameWGPU {
		t.Errorf("OpenDefault() picked %q, want %q", dev.Name(), NameWGPU)
	}
}

func TestOpenDefaultNoneAvailable(t *testing.T) {
	// Only drivers registered by this test file exist in the bare driver
	// package; leave the registry untouched and expect no device.
	if _, err := OpenDefault(Options{}); !errors.Is(err, ErrNotAvailable) {
		t.Errorf("OpenDefault() with empty registry = %v, want ErrNotAvailable", err)
	}
}
