package colormap

import "fmt"

// Built-in ocean palettes. Hex ramps are evenly spaced across the declared
// domain; chlorophyll additionally ships a log10-spaced variant so the
// 0.01-0.1 mg/m3 decade gets as much color resolution as the rest of the
// range.

// High contrast SST ramp, deep blue through cyan/green to brown. Domain is
// Fahrenheit.
var sstHighContrast = []string{
	"#081d58", "#16306e", "#21449b", "#2c5fcf", "#3883f6",
	"#34d1db", "#0effc5", "#7ff000", "#ebf600",
	"#fec44f", "#fca23f", "#fb9137", "#fa802f", "#f96f27",
	"#f85e1f", "#f74d17", "#e6420e", "#d53e0d",
	"#c43a0c", "#b3360b", "#a2320a", "#912e09", "#802a08",
	"#6f2607", "#5e2206",
}

// Chlorophyll-a in mg/m3: clear-water indigo through blues and cyans to the
// productive yellow/orange edge.
var chlorophyll = []string{
	"#4B1390", "#2D1B69", "#1a1a4b", "#0f2a6b", "#0B3D91",
	"#0d5bb8", "#1464F4", "#1a71e1", "#1e7ee8", "#2b8bc7",
	"#00B3B3", "#26c4b8", "#3fd1c7", "#5ac9c0", "#7dd8c5",
	"#9de6c9", "#b8e0b8", "#c8e8a8", "#d4f0a8", "#e0ec80",
	"#e8f080", "#F1C40F", "#e6b800", "#D35400",
}

// Salinity (PSU), also registered under the generic name "flow".
var salinity = []string{
	"#0a0d3a", "#0d1f6d", "#12328f", "#1746b1",
	"#1f7bbf", "#22a6c5", "#27c8b8", "#3fdf9b",
	"#87f27a", "#c9f560", "#f7f060",
}

// Mixed layer depth, also registered as "cascade".
var mld = []string{
	"#2d2d6b", "#1e4db8", "#2196f3", "#03a9f4", "#00bcd4",
	"#009688", "#4caf50", "#8bc34a", "#cddc39", "#ffc107",
	"#ff9800", "#f44336",
}

// Sea surface height anomaly, blue-white-red diverging.
var ssh = []string{
	"#053061", "#2166ac", "#4393c3", "#92c5de", "#d1e5f0",
	"#f7f7f7", "#fddbc7", "#f4a582", "#d6604d", "#b2182b", "#67001f",
}

// Water clarity, deep blue to bright green.
var waterClarity = []string{
	"#00204c", "#003780", "#004fb4", "#0067e8", "#0073ff",
	"#32a9ff", "#64dfff", "#7dffff", "#7dffcf", "#7dff9f",
	"#66ff66", "#38ff38", "#0aff0a",
}

// Surface currents in knots; light blue keeps slow water transparent over
// bathymetry, red flags extreme flow.
var currents = []string{
	"#e6f3ff", "#cce7ff", "#b3dbff", "#99cfff", "#66b7ff",
	"#339fff", "#00ced1", "#32cd32", "#9acd32", "#ffd700",
	"#ffa500", "#ff6347", "#ff4500", "#dc143c", "#b22222",
}

// Bathymetry in meters (negative is deeper): dark indigo at depth to pale
// blue at the surface.
var bathymetry = []string{
	"#0a1a3a", "#142444", "#1f2f4f", "#2a3a5a", "#344464",
	"#3e4e6e", "#4a5878", "#566282", "#626c8c", "#6e7696",
	"#7a81a0", "#868daa", "#9299b4", "#9ea5be", "#aab1c8",
	"#b6bdd2", "#c2c9dc", "#ced5e6", "#dae1f0", "#e6edfa",
	"#f2f8ff", "#e6f5ff", "#d2efff", "#bee9ff", "#aae3ff",
	"#96ddff", "#82d7ff", "#6ed1ff", "#5acbff", "#50c8ff",
}

type builtin struct {
	name      string
	hexRamp   []string
	domainMin float64
	domainMax float64
	space     Space
}

var builtins = []builtin{
	{"sst_high_contrast", sstHighContrast, 32, 95, SpaceLinear},
	{"chlorophyll", chlorophyll, 0, 2, SpaceLinear},
	{"chlorophyll_log10", chlorophyll, 0.01, 20, SpaceLog10},
	{"salinity", salinity, 28, 37.5, SpaceLinear},
	{"cascade", mld, 0, 500, SpaceLinear},
	{"ssh", ssh, -1, 1, SpaceLinear},
	{"water_clarity", waterClarity, 0, 50, SpaceLinear},
	{"currents", currents, 0, 8, SpaceLinear},
	{"bathymetry", bathymetry, -5000, 0, SpaceLinear},
}

// chlorophyll domain note: the linear table covers the coastal 0-2 mg/m3
// band; the log10 variant spans 0.01-20 to keep oligotrophic water visible.

// BuiltinRegistry loads every built-in palette plus legacy aliases.
// Registration fails on any duplicate name.
func BuiltinRegistry() (*Registry, error) {
	r := NewRegistry()
	for _, b := range builtins {
		t, err := TableFromHex(b.hexRamp, b.domainMin, b.domainMax, b.space)
		if err != nil {
			return nil, fmt.Errorf("palette %q: %w", b.name, err)
		}
		if err := r.Register(b.name, t); err != nil {
			return nil, err
		}
	}
	// legacy names kept for older clients
	if err := r.Alias("flow", "salinity"); err != nil {
		return nil, err
	}
	if err := r.Alias("mld_default", "cascade"); err != nil {
		return nil, err
	}
	return r, nil
}
