// Package workstation models the state a GIS workstation GUI owns: the
// active session, displayed layers, toolbars, status bar, map region, and
// the captured output console. Every method must be called from the ui
// executor goroutine; nothing else may touch this state.
package workstation

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"gisbridge/internal/api"
	"gisbridge/internal/gcmd"
)

// Status bar modes. Fixed-scale mode is entered when a remote caller pins
// the map scale.
const (
	StatusModeCoordinates = 0
	StatusModeFixedScale  = 1
)

type SessionParams struct {
	GrassDB  string
	Location string
	Mapset   string
}

type Layer struct {
	Name    string
	Type    string
	Mapset  string
	Opacity float64
	Active  bool
}

type RenderWindow struct {
	Name     string
	Rendered bool
}

type Region struct {
	North, South, East, West float64
	NSRes, EWRes             float64
	Rows, Cols               int
}

type CommandResult struct {
	Code   int
	Stdout string
	Stderr string
}

type Workstation struct {
	modules *gcmd.Executor
	quitFn  func()

	session        *SessionParams
	consoleEnabled bool
	layers         []Layer
	windows        []RenderWindow
	toolbarKeys    []string
	toolbarsShown  bool
	digitizerLayer *string
	statusMode     int
	scale          float64
	region         Region
	output         strings.Builder
	quitOnce       sync.Once
}

func New(modules *gcmd.Executor, quitFn func()) *Workstation {
	return &Workstation{
		modules:        modules,
		quitFn:         quitFn,
		consoleEnabled: true,
		toolbarKeys:    []string{"map", "tools", "misc"},
		toolbarsShown:  true,
		region:         defaultRegion(),
		scale:          1,
	}
}

// InitCommandConsole disables the command console until a mapset has been
// initialized, the first step of a remote-driven session.
func (w *Workstation) InitCommandConsole() bool {
	w.consoleEnabled = false
	return true
}

// InitMapset switches the active session and resets display state to
// defaults. Fields must all be present.
func (w *Workstation) InitMapset(p SessionParams) bool {
	if strings.TrimSpace(p.GrassDB) == "" || strings.TrimSpace(p.Location) == "" || strings.TrimSpace(p.Mapset) == "" {
		return false
	}
	w.session = &p
	w.consoleEnabled = true
	w.layers = nil
	w.windows = nil
	w.digitizerLayer = nil
	w.statusMode = StatusModeCoordinates
	w.scale = 1
	w.region = defaultRegion()
	return true
}

// DisplayLayer adds a layer from a "type:name[@mapset]" query. The type
// defaults to raster; the mapset defaults to the session's.
func (w *Workstation) DisplayLayer(query string) bool {
	if w.session == nil {
		return false
	}
	layer, ok := parseLayerQuery(query, w.session.Mapset)
	if !ok {
		return false
	}
	w.layers = append(w.layers, layer)
	w.windows = append(w.windows, RenderWindow{Name: layer.Name, Rendered: true})
	return true
}

// SetMapScale pins the map scale and switches the status bar to fixed-scale
// mode.
func (w *Workstation) SetMapScale(scale float64) bool {
	if w.session == nil {
		return false
	}
	if scale <= 0 || math.IsInf(scale, 0) || math.IsNaN(scale) {
		return false
	}
	w.scale = scale
	w.statusMode = StatusModeFixedScale
	return true
}

// RunCommand executes a GIS module and appends its captured output to the
// console. A failed spawn is reported as exit code -1 with the error on
// stderr so the caller still gets a structured outcome.
func (w *Workstation) RunCommand(ctx context.Context, name string, options map[string]string) CommandResult {
	res, err := w.modules.Run(ctx, name, options)
	if err != nil {
		msg := err.Error()
		w.appendOutput(name, "", msg)
		return CommandResult{Code: -1, Stderr: msg}
	}
	w.appendOutput(name, res.Stdout, res.Stderr)
	return CommandResult{Code: res.Code, Stdout: res.Stdout, Stderr: res.Stderr}
}

// Quit invokes the shutdown callback once. Safe to schedule more than once.
func (w *Workstation) Quit() {
	w.quitOnce.Do(w.quitFn)
}

// Snapshot renders the state the /dump endpoint exposes.
func (w *Workstation) Snapshot() api.DumpSnapshot {
	layers := make([]api.LayerItem, 0, len(w.layers))
	for _, l := range w.layers {
		layers = append(layers, api.LayerItem{
			Name:    l.Name,
			Type:    l.Type,
			Mapset:  l.Mapset,
			Opacity: l.Opacity,
			Active:  l.Active,
		})
	}
	windows := make([]api.RenderWindowItem, 0, len(w.windows))
	for _, win := range w.windows {
		windows = append(windows, api.RenderWindowItem{Name: win.Name, Rendered: win.Rendered})
	}
	return api.DumpSnapshot{
		Layers:  layers,
		Windows: windows,
		Toolbars: api.ToolbarState{
			Keys:  append([]string(nil), w.toolbarKeys...),
			Shown: w.toolbarsShown,
			Layer: w.digitizerLayer,
		},
		Statusbar: api.StatusbarState{Mode: w.statusMode, Scale: w.scale},
		Region: api.RegionState{
			North: w.region.North,
			South: w.region.South,
			East:  w.region.East,
			West:  w.region.West,
			NSRes: w.region.NSRes,
			EWRes: w.region.EWRes,
			Rows:  w.region.Rows,
			Cols:  w.region.Cols,
		},
		Output: w.output.String(),
	}
}

func (w *Workstation) appendOutput(name, stdout, stderr string) {
	fmt.Fprintf(&w.output, "$ %s\n", name)
	if stdout != "" {
		w.output.WriteString(stdout)
		if !strings.HasSuffix(stdout, "\n") {
			w.output.WriteByte('\n')
		}
	}
	if stderr != "" {
		w.output.WriteString(stderr)
		if !strings.HasSuffix(stderr, "\n") {
			w.output.WriteByte('\n')
		}
	}
}

func parseLayerQuery(query, defaultMapset string) (Layer, bool) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Layer{}, false
	}
	layerType := "raster"
	name := query
	if before, after, found := strings.Cut(query, ":"); found {
		layerType = strings.TrimSpace(before)
		name = strings.TrimSpace(after)
	}
	switch layerType {
	case "raster", "vector":
	default:
		return Layer{}, false
	}
	mapset := defaultMapset
	if base, ms, found := strings.Cut(name, "@"); found {
		name = strings.TrimSpace(base)
		mapset = strings.TrimSpace(ms)
	}
	if name == "" {
		return Layer{}, false
	}
	return Layer{Name: name, Type: layerType, Mapset: mapset, Opacity: 1, Active: true}, true
}

func defaultRegion() Region {
	return Region{North: 1, South: 0, East: 1, West: 0, NSRes: 1, EWRes: 1, Rows: 1, Cols: 1}
}
