package gpuq

import (
	"testing"
)

func TestDefaultOptions(t *testing.T) {
	o := defaultOptions()
	if o.driverName != "" {
		t.Errorf("default driverName = %q, want empty (registry priority)", o.driverName)
	}
	if o.debug {
		t.Error("debug should default to false")
	}
	if o.frames != defaultSwapchainFrames {
		t.Errorf("default frames = %d, want %d", o.frames, defaultSwapchainFrames)
	}
	if o.shaderCacheCap != 0 {
		t.Errorf("default shaderCacheCap = %d, want 0", o.shaderCacheCap)
	}
	if o.provider != nil {
		t.Error("default provider should be nil")
	}
}

func TestWithDriver(t *testing.T) {
	o := defaultOptions()
	WithDriver("soft")(&o)
	if o.driverName != "soft" {
		t.Errorf("driverName = %q, want %q", o.driverName, "soft")
	}
}

func TestWithDebug(t *testing.T) {
	o := defaultOptions()
	WithDebug(true)(&o)
	if !o.debug {
		t.Error("debug not set")
	}
}

func TestWithSwapchainFrames(t *testing.T) {
	tests := []struct {
		name string
		n    int
		want int
	}{
		{"typical", 3, 3},
		{"deep", 5, 5},
		{"minimum", 2, 2},
		{"below minimum clamps", 1, 2},
		{"zero clamps", 0, 2},
		{"negative clamps", -4, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := defaultOptions()
			WithSwapchainFrames(tt.n)(&o)
			if o.frames != tt.want {
				t.Errorf("frames = %d, want %d", o.frames, tt.want)
			}
		})
	}
}

func TestWithShaderCacheCapacity(t *testing.T) {
	o := defaultOptions()
	WithShaderCacheCapacity(64)(&o)
	if o.shaderCacheCap != 64 {
		t.Errorf("shaderCacheCap = %d, want 64", o.shaderCacheCap)
	}
}

func TestOptionsCombine(t *testing.T) {
	o := defaultOptions()
	for _, opt := range []Option{
		WithDriver("soft"),
		WithDebug(true),
		WithSwapchainFrames(4),
	} {
		opt(&o)
	}
	if o.driverName != "soft" || !o.debug || o.frames != 4 {
		t.Errorf("combined options not applied: %+v", o)
	}
}
