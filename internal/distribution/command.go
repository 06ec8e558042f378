package distribution

import (
	"strconv"
	"strings"
)

// Command is one parsed distribution request.
type Command interface {
	Name() string
}

type GetMetrics struct{}

type RecentHashes struct{}

type InjectSeed struct {
	Seed string
}

type SetFrequency struct {
	MHz int
}

type SetVoltage struct {
	MV int
}

// Burst asks for up to Count buffered hashes.
type Burst struct {
	Count int
}

// Invalid is a known command with an unusable argument.
type Invalid struct {
	Command string
	Reason  string
}

type Unknown struct {
	Raw string
}

func (GetMetrics) Name() string   { return "GET_METRICS" }
func (RecentHashes) Name() string { return "GET_RECENT_HASHES" }
func (InjectSeed) Name() string   { return "SEED" }
func (SetFrequency) Name() string { return "SET_FREQUENCY" }
func (SetVoltage) Name() string   { return "SET_VOLTAGE" }
func (Burst) Name() string        { return "BURST" }
func (c Invalid) Name() string    { return c.Command }
func (Unknown) Name() string      { return "UNKNOWN" }

// ParseCommand decodes a request line. An unparsable BURST count means 1.
func ParseCommand(raw string) Command {
	cmd := strings.TrimSpace(raw)

	switch {
	case cmd == "GET_METRICS":
		return GetMetrics{}
	case cmd == "GET_RECENT_HASHES":
		return RecentHashes{}
	case strings.HasPrefix(cmd, "SEED:"):
		return InjectSeed{Seed: strings.TrimPrefix(cmd, "SEED:")}
	case strings.HasPrefix(cmd, "SET_FREQUENCY:"):
		v, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(cmd, "SET_FREQUENCY:")))
		if err != nil {
			return Invalid{Command: "SET_FREQUENCY", Reason: err.Error()}
		}
		return SetFrequency{MHz: v}
	case strings.HasPrefix(cmd, "SET_VOLTAGE:"):
		v, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(cmd, "SET_VOLTAGE:")))
		if err != nil {
			return Invalid{Command: "SET_VOLTAGE", Reason: err.Error()}
		}
		return SetVoltage{MV: v}
	case strings.HasPrefix(cmd, "BURST:"):
		n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(cmd, "BURST:")))
		if err != nil {
			n = 1
		}
		return Burst{Count: n}
	default:
		return Unknown{Raw: cmd}
	}
}
