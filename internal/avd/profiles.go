// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package avd

import (
	"fmt"

	units "github.com/docker/go-units"
	"github.com/samber/lo"
)

// DeviceProfile is an immutable hardware description selected once per
// run from the fixed catalog below.
type DeviceProfile struct {
	Name     string // catalog key, e.g. "pixel-6"
	Template string // avdmanager -d template; may be absent on old SDKs
	Width    int    // screen width in px
	Height   int    // screen height in px
	Density  int    // dpi
	RAM      string // human size, parsed with go-units (e.g. "2GiB")
}

// RAMBytes parses the profile RAM size.
func (p DeviceProfile) RAMBytes() (int64, error) {
	return units.RAMInBytes(p.RAM)
}

// RAMMegabytes returns the RAM size in MB, the unit config.ini expects.
func (p DeviceProfile) RAMMegabytes() (int64, error) {
	b, err := p.RAMBytes()
	if err != nil {
		return 0, err
	}
	return b / units.MiB, nil
}

func (p DeviceProfile) String() string {
	return fmt.Sprintf("%s (%dx%d @ %ddpi, %s RAM)", p.Name, p.Width, p.Height, p.Density, p.RAM)
}

var catalog = []DeviceProfile{
	{Name: "pixel-6", Template: "pixel_6", Width: 1080, Height: 2400, Density: 420, RAM: "2GiB"},
	{Name: "pixel-4", Template: "pixel_4", Width: 1080, Height: 2280, Density: 440, RAM: "2GiB"},
	{Name: "pixel-tablet", Template: "pixel_tablet", Width: 2560, Height: 1600, Density: 320, RAM: "4GiB"},
	{Name: "medium-phone", Template: "medium_phone", Width: 1080, Height: 2400, Density: 420, RAM: "2GiB"},
	{Name: "small-phone", Template: "small_phone", Width: 720, Height: 1280, Density: 320, RAM: "1GiB"},
}

// Catalog returns the fixed device-profile catalog.
func Catalog() []DeviceProfile {
	out := make([]DeviceProfile, len(catalog))
	copy(out, catalog)
	return out
}

// DefaultProfile is used when no profile is configured and no prompt can
// be shown.
func DefaultProfile() DeviceProfile { return catalog[0] }

// ProfileByName finds a catalog entry by name.
func ProfileByName(name string) (DeviceProfile, error) {
	p, ok := lo.Find(catalog, func(p DeviceProfile) bool { return p.Name == name })
	if !ok {
		names := lo.Map(catalog, func(p DeviceProfile, _ int) string { return p.Name })
		return DeviceProfile{}, fmt.Errorf("unknown device profile %q (have: %v)", name, names)
	}
	return p, nil
}
