package main

import (
	"log/slog"
	"time"

	"github.com/pilightgo/pilightd/internal/config"
	"github.com/pilightgo/pilightd/internal/hwdrv"
	"github.com/pilightgo/pilightd/internal/pulse"
)

const serialReadTimeout = 500 * time.Millisecond

// initHardware opens the configured serial dongle and wraps it as a
// hwdrv.Module. A failure to open the device is logged and treated as
// "no hardware attached" rather than a fatal startup error — the broker
// remains useful for raw-protocol loopback and client-facing features
// even headless.
func initHardware(cfg *config.Config, l *slog.Logger) *hwdrv.Module {
	if cfg.SerialDevice == "" {
		l.Info("hardware_disabled", "reason", "no serial device configured")
		return nil
	}
	sm, err := hwdrv.OpenSerial(cfg.SerialDevice, cfg.SerialBaud, serialReadTimeout)
	if err != nil {
		l.Warn("hardware_open_failed", "device", cfg.SerialDevice, "error", err)
		return nil
	}
	mod := hwdrv.NewModule(pulse.AnyHwType)
	mod.Frame = sm
	mod.Transmitter = sm
	l.Info("hardware_ready", "device", cfg.SerialDevice, "baud", cfg.SerialBaud)
	return mod
}
