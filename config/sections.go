package config

import (
	"time"

	"github.com/cockroachdb/errors"
)

// Mode is the process run mode, mirroring gin's debug/release split.
type Mode string

const (
	ModeDebug   Mode = "debug"
	ModeRelease Mode = "release"
)

type AppInfo struct {
	Name string `json:"name" mapstructure:"name" ini:"name" default:"wasmrt"`
	Mode Mode   `json:"mode" mapstructure:"mode" ini:"mode" default:"release"`
	Dir  string `json:"dir" mapstructure:"dir" ini:"dir" default:"."`
}

func (a *AppInfo) setDefault() {
	if len(a.Name) == 0 {
		a.Name = "wasmrt"
	}
	if len(a.Mode) == 0 {
		a.Mode = ModeRelease
	}
	if len(a.Dir) == 0 {
		a.Dir = "."
	}
}

// Server holds the listening-mode configuration described in spec.md
// §6. Exactly one of Port, UnixSocket, FD is the active listen mode;
// cmd/wasmrt enforces the mutual exclusion, the core only reads whichever
// one is set.
type Server struct {
	Port            int           `json:"port" mapstructure:"port" ini:"port" default:"0"`
	UnixSocket      string        `json:"unix_socket" mapstructure:"unix_socket" ini:"unix_socket"`
	FD              int           `json:"fd" mapstructure:"fd" ini:"fd" default:"-1"`
	ReadTimeout     time.Duration `json:"read_timeout" mapstructure:"read_timeout" ini:"read_timeout" default:"30s"`
	WriteTimeout    time.Duration `json:"write_timeout" mapstructure:"write_timeout" ini:"write_timeout" default:"30s"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" mapstructure:"shutdown_timeout" ini:"shutdown_timeout" default:"15s"`
	// RPCSocket, if set, starts the local control-and-data transport
	// (internal/rpcfront) on this unix socket path alongside the HTTP
	// front end. Independent of UnixSocket: a host can serve HTTP on a
	// TCP port and rpcfront on a unix socket at the same time.
	RPCSocket string `json:"rpc_socket" mapstructure:"rpc_socket" ini:"rpc_socket"`
}

func (s *Server) setDefault() {
	if s.FD == 0 {
		s.FD = -1
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = 30 * time.Second
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = 30 * time.Second
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = 15 * time.Second
	}
}

// ErrAmbiguousListenMode is returned when more than one of Port,
// UnixSocket, FD is configured, or when none is.
var ErrAmbiguousListenMode = errors.New("exactly one of --port, --unix-socket, --fd must be set")

// Validate enforces the mutually exclusive listening-mode groups from
// spec.md §6.
func (s *Server) Validate(wasmDirRequired bool, wasmDirSet bool) error {
	set := 0
	if s.Port > 0 {
		set++
	}
	if len(s.UnixSocket) > 0 {
		set++
	}
	if s.FD >= 0 {
		set++
	}
	if set != 1 {
		return ErrAmbiguousListenMode
	}
	if wasmDirRequired && !wasmDirSet {
		return errors.New("--wasm-dir is required in HTTP-test mode")
	}
	if len(s.UnixSocket) > 0 && wasmDirSet {
		return errors.New("--wasm-dir is rejected when listening on a unix socket")
	}
	return nil
}

type Logger struct {
	File       string `json:"file" mapstructure:"file" ini:"file" default:"/dev/stdout"`
	Level      string `json:"level" mapstructure:"level" ini:"level" default:"info"`
	Format     string `json:"format" mapstructure:"format" ini:"format" default:"json"`
	Encoder    string `json:"encoder" mapstructure:"encoder" ini:"encoder" default:"json"`
	MaxAge     int    `json:"max_age" mapstructure:"max_age" ini:"max_age" default:"7"`
	MaxSize    int    `json:"max_size" mapstructure:"max_size" ini:"max_size" default:"100"`
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups" ini:"max_backups" default:"5"`
}

func (l *Logger) setDefault() {
	if len(l.File) == 0 {
		l.File = "/dev/stdout"
	}
	if len(l.Level) == 0 {
		l.Level = "info"
	}
	if len(l.Format) == 0 {
		l.Format = "json"
	}
	if l.MaxAge == 0 {
		l.MaxAge = 7
	}
	if l.MaxSize == 0 {
		l.MaxSize = 100
	}
	if l.MaxBackups == 0 {
		l.MaxBackups = 5
	}
}

// Wasm configures the per-database module directories the Tenant serves
// guest modules from (spec.md §2 item 9, §6 --wasm-dir).
type Wasm struct {
	// Dir is the root directory the Tenant resolves each database's
	// module directory under: database "foo"'s modules live at
	// Dir/foo/*.wasm. Required whenever --wasm-dir mode is active.
	Dir string `json:"dir" mapstructure:"dir" ini:"dir"`
	// StalenessCheckEvery is loaded from configuration but not read by
	// the module cache, which re-stats the path on every lookup
	// whatever its value.
	StalenessCheckEvery time.Duration `json:"staleness_check_every" mapstructure:"staleness_check_every" ini:"staleness_check_every"`
	// MaxTrackedModules bounds the LRU metadata cache; it does not bound
	// how long a Module stays alive (that is governed by weak references
	// held by Workers).
	MaxTrackedModules int `json:"max_tracked_modules" mapstructure:"max_tracked_modules" ini:"max_tracked_modules" default:"256"`
}

func (w *Wasm) setDefault() {
	if w.MaxTrackedModules == 0 {
		w.MaxTrackedModules = 256
	}
}

// Database configures the connection used by the narrow client the
// Database Bridge forwards guest calls to (spec.md §1's "database wire
// protocol client" collaborator). EdgeDBSocket names the collaborator's
// real-world entry point (spec.md §6 --edgedb-socket); Type selects
// which concrete pool backs it in this repository (postgres or sqlite).
type Database struct {
	Type            string        `json:"type" mapstructure:"type" ini:"type" default:"postgres"`
	EdgeDBSocket    string        `json:"edgedb_socket" mapstructure:"edgedb_socket" ini:"edgedb_socket"`
	MaxOpenConns    int           `json:"max_open_conns" mapstructure:"max_open_conns" ini:"max_open_conns" default:"32"`
	MaxIdleConns    int           `json:"max_idle_conns" mapstructure:"max_idle_conns" ini:"max_idle_conns" default:"8"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" mapstructure:"conn_max_lifetime" ini:"conn_max_lifetime" default:"1h"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time" mapstructure:"conn_max_idle_time" ini:"conn_max_idle_time" default:"10m"`
}

const (
	DBPostgres = "postgres"
	DBSqlite   = "sqlite"
)

func (d *Database) setDefault() {
	if len(d.Type) == 0 {
		d.Type = DBPostgres
	}
	if d.MaxOpenConns == 0 {
		d.MaxOpenConns = 32
	}
	if d.MaxIdleConns == 0 {
		d.MaxIdleConns = 8
	}
	if d.ConnMaxLifetime == 0 {
		d.ConnMaxLifetime = time.Hour
	}
	if d.ConnMaxIdleTime == 0 {
		d.ConnMaxIdleTime = 10 * time.Minute
	}
}

type Postgres struct {
	Enable   bool   `json:"enable" mapstructure:"enable" ini:"enable"`
	Host     string `json:"host" mapstructure:"host" ini:"host" default:"127.0.0.1"`
	Port     int    `json:"port" mapstructure:"port" ini:"port" default:"5432"`
	Username string `json:"username" mapstructure:"username" ini:"username"`
	Password string `json:"password" mapstructure:"password" ini:"password"`
	Database string `json:"database" mapstructure:"database" ini:"database"`
	SSLMode  string `json:"sslmode" mapstructure:"sslmode" ini:"sslmode" default:"disable"`
	TimeZone string `json:"timezone" mapstructure:"timezone" ini:"timezone" default:"UTC"`
}

func (p *Postgres) setDefault() {
	if p.Port == 0 {
		p.Port = 5432
	}
	if len(p.SSLMode) == 0 {
		p.SSLMode = "disable"
	}
	if len(p.TimeZone) == 0 {
		p.TimeZone = "UTC"
	}
}

type Sqlite struct {
	Enable   bool   `json:"enable" mapstructure:"enable" ini:"enable"`
	Path     string `json:"path" mapstructure:"path" ini:"path" default:"wasmrt.db"`
	IsMemory bool   `json:"is_memory" mapstructure:"is_memory" ini:"is_memory"`
}

func (s *Sqlite) setDefault() {
	if len(s.Path) == 0 {
		s.Path = "wasmrt.db"
	}
}

type Metrics struct {
	Enable bool   `json:"enable" mapstructure:"enable" ini:"enable" default:"true"`
	Path   string `json:"path" mapstructure:"path" ini:"path" default:"/metrics"`
}

func (m *Metrics) setDefault() {
	if len(m.Path) == 0 {
		m.Path = "/metrics"
	}
}

type Debug struct {
	Pprof bool `json:"pprof" mapstructure:"pprof" ini:"pprof"`
}

func (d *Debug) setDefault() {}
