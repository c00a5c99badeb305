package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AnnounceIntervalMs != defaultAnnounceIntervalMs {
		t.Errorf("AnnounceIntervalMs = %d, want %d", cfg.AnnounceIntervalMs, defaultAnnounceIntervalMs)
	}
	if cfg.Role != "cdj" {
		t.Errorf("Role = %q, want cdj", cfg.Role)
	}
	if !cfg.EnableVirtualDevice {
		t.Errorf("EnableVirtualDevice = false, want true by default")
	}
}

func TestLoadDisableVirtualDevice(t *testing.T) {
	cfg, err := Load([]string{"--enable-virtual-device=false"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.EnableVirtualDevice {
		t.Errorf("EnableVirtualDevice = true, want false")
	}
}

func TestLoadRejectsInvalidAnnounceInterval(t *testing.T) {
	_, err := Load([]string{"--announce-interval-ms=50"})
	if err == nil {
		t.Fatal("expected an error for an out-of-range announce interval")
	}
}

func TestLoadRejectsUnknownRole(t *testing.T) {
	_, err := Load([]string{"--role=serato"})
	if err == nil {
		t.Fatal("expected an error for an unknown role")
	}
}

func TestLoadAppliesEnvOverride(t *testing.T) {
	t.Setenv("PROLINK_DEVICE_NAME", "env-device")
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DeviceName != "env-device" {
		t.Errorf("DeviceName = %q, want env-device", cfg.DeviceName)
	}
}

func TestLoadCLIOverridesEnv(t *testing.T) {
	t.Setenv("PROLINK_DEVICE_NAME", "env-device")
	cfg, err := Load([]string{"--device-name=cli-device"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DeviceName != "cli-device" {
		t.Errorf("DeviceName = %q, want cli-device", cfg.DeviceName)
	}
}
