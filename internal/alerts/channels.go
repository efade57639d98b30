package alerts

import "github.com/gen2brain/beeep"

// Channel names recorded on dispatched alerts.
const (
	ChannelDashboard = "dashboard"
	ChannelDesktop   = "desktop"
	ChannelAudio     = "audio"
)

// DesktopNotifier raises operator-visible notifications outside the
// dashboard. Implementations must tolerate headless environments.
type DesktopNotifier interface {
	Notify(title, message string) error
	Beep() error
}

// BeeepNotifier sends desktop notifications and audio alerts through
// the host notification system.
type BeeepNotifier struct{}

func (BeeepNotifier) Notify(title, message string) error {
	return beeep.Notify(title, message, "")
}

func (BeeepNotifier) Beep() error {
	return beeep.Beep(beeep.DefaultFreq, beeep.DefaultDuration)
}

// NopNotifier discards desktop notifications; used when the process
// runs headless.
type NopNotifier struct{}

func (NopNotifier) Notify(title, message string) error { return nil }
func (NopNotifier) Beep() error                        { return nil }
