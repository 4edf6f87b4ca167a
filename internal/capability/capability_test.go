// ABOUTME: Tests for the device capability cache
// ABOUTME: Covers probe recording, unknown devices and the shared instance
package capability

import "testing"

func TestCacheUnknownDeviceIsUnsupported(t *testing.T) {
	c := New()
	if c.IsSupported("never-probed") {
		t.Error("IsSupported(unprobed) = true, want false")
	}
}

func TestCacheRecordsProbe(t *testing.T) {
	c := New()
	c.UpdateCache("dev-a", true)
	c.UpdateCache("dev-b", false)

	if !c.IsSupported("dev-a") {
		t.Error("IsSupported(dev-a) = false, want true")
	}
	if c.IsSupported("dev-b") {
		t.Error("IsSupported(dev-b) = true, want false")
	}
}

func TestCacheOverwrite(t *testing.T) {
	c := New()
	c.UpdateCache("dev", true)
	c.UpdateCache("dev", false)

	if c.IsSupported("dev") {
		t.Error("IsSupported after overwrite = true, want false")
	}
}

func TestRawProcessingShared(t *testing.T) {
	if RawProcessing() != RawProcessing() {
		t.Error("RawProcessing() returned distinct instances")
	}
}
