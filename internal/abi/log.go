package abi

// Level is the Log v1 severity enum. It forms a total bijection with
// the host's zap levels (spec.md §4.7); LevelOff only ever appears as
// the guest's view of MaxLevel, never on an emitted record.
type Level uint8

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
	LevelTrace
	LevelOff
)

// ParseLevel maps a zap-style level name (config.App.Logger.Level) to
// the guest's MaxLevel value, defaulting to LevelInfo for an unknown
// name.
func ParseLevel(name string) Level {
	switch name {
	case "error":
		return LevelError
	case "warn", "warning":
		return LevelWarn
	case "debug":
		return LevelDebug
	case "trace":
		return LevelTrace
	case "off", "disabled":
		return LevelOff
	default:
		return LevelInfo
	}
}

func (l Level) String() string {
	switch l {
	case LevelError:
		return "error"
	case LevelWarn:
		return "warn"
	case LevelInfo:
		return "info"
	case LevelDebug:
		return "debug"
	case LevelTrace:
		return "trace"
	case LevelOff:
		return "off"
	default:
		return "unknown"
	}
}

// LogRecord is the Log v1 value the guest passes to the imported log
// function. File, Line, and ModulePath are optional (zero value means
// absent).
type LogRecord struct {
	Target     string
	Level      Level
	Message    string
	File       string
	Line       uint32
	ModulePath string
}
