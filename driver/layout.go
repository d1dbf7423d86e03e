// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package driver

// BindingLocation is a Vulkan-style descriptor location. Hardware backends
// translate the flat per-stage slot indices of the command stream into
// these locations when building pipeline layouts and bind groups.
type BindingLocation struct {
	Set     uint32
	Binding uint32
}

// SlotCounts is the number of resources of each class a shader stage
// declares. Within a set, classes pack in a fixed order: samplers, then
// storage textures, then storage buffers; the counts give the offsets.
type SlotCounts struct {
	Samplers        uint32
	StorageTextures uint32
	StorageBuffers  uint32
}

// Vertex-stage resources live in set 0, vertex uniforms in set 1.

func VertexSamplerSlot(slot uint32) BindingLocation {
	return BindingLocation{Set: 0, Binding: slot}
}

func VertexStorageTextureSlot(c SlotCounts, slot uint32) BindingLocation {
	return BindingLocation{Set: 0, Binding: c.Samplers + slot}
}

func VertexStorageBufferSlot(c SlotCounts, slot uint32) BindingLocation {
	return BindingLocation{Set: 0, Binding: c.Samplers + c.StorageTextures + slot}
}

func VertexUniformSlot(slot uint32) BindingLocation {
	return BindingLocation{Set: 1, Binding: slot}
}

// Fragment-stage resources live in set 2, fragment uniforms in set 3.

func FragmentSamplerSlot(slot uint32) BindingLocation {
	return BindingLocation{Set: 2, Binding: slot}
}

func FragmentStorageTextureSlot(c SlotCounts, slot uint32) BindingLocation {
	return BindingLocation{Set: 2, Binding: c.Samplers + slot}
}

func FragmentStorageBufferSlot(c SlotCounts, slot uint32) BindingLocation {
	return BindingLocation{Set: 2, Binding: c.Samplers + c.StorageTextures + slot}
}

func FragmentUniformSlot(slot uint32) BindingLocation {
	return BindingLocation{Set: 3, Binding: slot}
}

// Compute splits three ways: read-only resources in set 0, the read-write
// storage declared at pass begin in set 1, uniforms in set 2.

func ComputeSamplerSlot(slot uint32) BindingLocation {
	return BindingLocation{Set: 0, Binding: slot}
}

func ComputeReadStorageTextureSlot(c SlotCounts, slot uint32) BindingLocation {
	return BindingLocation{Set: 0, Binding: c.Samplers + slot}
}

func ComputeReadStorageBufferSlot(c SlotCounts, slot uint32) BindingLocation {
	return BindingLocation{Set: 0, Binding: c.Samplers + c.StorageTextures + slot}
}

func ComputeWriteStorageTextureSlot(slot uint32) BindingLocation {
	return BindingLocation{Set: 1, Binding: slot}
}

// ComputeWriteStorageBufferSlot locates a read-write storage buffer.
// writeTextures is the pass's read-write storage texture count; write
// textures precede write buffers in set 1.
func ComputeWriteStorageBufferSlot(writeTextures, slot uint32) BindingLocation {
	return BindingLocation{Set: 1, Binding: writeTextures + slot}
}

func ComputeUniformSlot(slot uint32) BindingLocation {
	return BindingLocation{Set: 2, Binding: slot}
}
