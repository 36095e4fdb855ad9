package onn

// Mode tags which representation of a blocked linear operator is the
// authoritative, trainable source. The other representations are scratch
// buffers refreshed on demand.
type Mode int

const (
	// ModeWeight trains the dense per-block weight directly.
	ModeWeight Mode = iota
	// ModeUSV trains the singular-value factors (U, S, V).
	ModeUSV
	// ModePhase trains the mesh angles, diagonal attenuation phases and
	// the per-block scale.
	ModePhase
	// ModeVoltage would train the drive voltages directly. Conversions to
	// and from voltage are supported; a voltage-mode trainable layer is not.
	ModeVoltage
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeWeight:
		return "weight"
	case ModeUSV:
		return "usv"
	case ModePhase:
		return "phase"
	case ModeVoltage:
		return "voltage"
	default:
		return "unknown"
	}
}

// valid reports whether m is one of the defined modes.
func (m Mode) valid() bool {
	return m >= ModeWeight && m <= ModeVoltage
}

// Path names one sub-path of the factored representation for selective
// rebuilds: only the paths whose phases changed need reconstruction, the
// rest reuse the cached factors.
type Path int

const (
	// PathU selects the left orthogonal factor.
	PathU Path = iota
	// PathS selects the diagonal attenuation.
	PathS
	// PathV selects the right orthogonal factor.
	PathV
)

// updateSet resolves a variadic path selector: empty means all paths.
type updateSet struct {
	u, s, v bool
}

func resolvePaths(paths []Path) updateSet {
	if len(paths) == 0 {
		return updateSet{u: true, s: true, v: true}
	}
	var set updateSet
	for _, p := range paths {
		switch p {
		case PathU:
			set.u = true
		case PathS:
			set.s = true
		case PathV:
			set.v = true
		}
	}
	return set
}
