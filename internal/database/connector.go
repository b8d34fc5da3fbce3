package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"os"
	"sort"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
	"github.com/xo/dburl"

	"github.com/koba/schemasync/internal/dialect"
)

var (
	// ErrConfig is returned for empty or malformed connection descriptors
	ErrConfig = errors.New("invalid connection descriptor")
	// ErrUnsupportedDriver is returned for driver tags outside the registry
	ErrUnsupportedDriver = errors.New("unsupported driver")
)

// maxIndirections bounds uri: descriptor chains
const maxIndirections = 8

// Driver is a supported driver tag
type Driver string

const (
	DriverMySQL    Driver = "mysql"
	DriverPostgres Driver = "pgsql"
	DriverSQLite   Driver = "sqlite"
)

// Config holds a parsed connection descriptor
type Config struct {
	Driver Driver
	Params map[string]string
	// DSN is set when the descriptor was given as a URL
	DSN string
}

// driverSpec binds a driver tag to its database/sql driver, dialect and catalog
type driverSpec struct {
	sqlDriver string
	dsn       func(Config) (string, error)
	dialect   func(Config) dialect.Dialect
	catalog   func(db *sql.DB, d dialect.Dialect, config Config) Catalog
}

var registry = map[Driver]driverSpec{
	DriverMySQL: {
		sqlDriver: "mysql",
		dsn:       mysqlDSN,
		dialect:   func(Config) dialect.Dialect { return dialect.NewMySQL() },
		catalog: func(db *sql.DB, d dialect.Dialect, config Config) Catalog {
			return NewMySQL(db, d)
		},
	},
	DriverPostgres: {
		sqlDriver: "postgres",
		dsn:       postgresDSN,
		dialect: func(config Config) dialect.Dialect {
			return dialect.NewPostgres(postgresSchema(config))
		},
		catalog: func(db *sql.DB, d dialect.Dialect, config Config) Catalog {
			return NewPostgres(db, d, postgresSchema(config))
		},
	},
	DriverSQLite: {
		sqlDriver: "sqlite",
		dsn:       sqliteDSN,
		dialect:   func(Config) dialect.Dialect { return dialect.NewSQLite() },
		catalog: func(db *sql.DB, d dialect.Dialect, config Config) Catalog {
			return NewSQLite(db, d)
		},
	},
}

var driverAliases = map[string]Driver{
	"mysql":    DriverMySQL,
	"pgsql":    DriverPostgres,
	"postgres": DriverPostgres,
	"sqlite":   DriverSQLite,
	"sqlite3":  DriverSQLite,
}

// ParseDescriptor parses a "driver:key=val;key=val" descriptor. A "uri:<path>"
// descriptor is replaced by the contents of the file at path, and URL forms
// such as mysql://user@host/db are accepted as well.
func ParseDescriptor(descriptor string) (Config, error) {
	return parseDescriptor(descriptor, 0)
}

func parseDescriptor(descriptor string, depth int) (Config, error) {
	descriptor = strings.TrimSpace(descriptor)
	if descriptor == "" {
		return Config{}, fmt.Errorf("%w: empty descriptor", ErrConfig)
	}

	if path, ok := strings.CutPrefix(descriptor, "uri:"); ok {
		if depth >= maxIndirections {
			return Config{}, fmt.Errorf("%w: too many uri: indirections", ErrConfig)
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("%w: failed to read %s: %v", ErrConfig, path, err)
		}
		return parseDescriptor(string(content), depth+1)
	}

	if strings.Contains(descriptor, "://") {
		return parseURL(descriptor)
	}

	tag, rest, found := strings.Cut(descriptor, ":")
	if !found {
		return Config{}, fmt.Errorf("%w: missing driver prefix", ErrConfig)
	}
	driver, ok := driverAliases[strings.ToLower(tag)]
	if !ok {
		return Config{}, fmt.Errorf("%w: %s", ErrUnsupportedDriver, tag)
	}

	config := Config{Driver: driver, Params: make(map[string]string)}
	if driver == DriverSQLite && !strings.Contains(rest, "=") {
		config.Params["path"] = rest
		return config, nil
	}

	for _, pair := range strings.Split(rest, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, value, found := strings.Cut(pair, "=")
		if !found || strings.TrimSpace(key) == "" {
			return Config{}, fmt.Errorf("%w: malformed parameter %q", ErrConfig, pair)
		}
		config.Params[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(value)
	}
	return config, nil
}

func parseURL(descriptor string) (Config, error) {
	u, err := dburl.Parse(descriptor)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	driver, ok := driverAliases[u.Driver]
	if !ok {
		return Config{}, fmt.Errorf("%w: %s", ErrUnsupportedDriver, u.Driver)
	}
	config := Config{Driver: driver, Params: make(map[string]string), DSN: u.DSN}
	if driver == DriverPostgres {
		if s := u.Query().Get("search_path"); s != "" {
			config.Params["schema"] = s
		}
	}
	return config, nil
}

func mysqlDSN(config Config) (string, error) {
	if config.DSN != "" {
		return config.DSN, nil
	}
	p := config.Params
	if p["dbname"] == "" {
		return "", fmt.Errorf("%w: mysql descriptor requires dbname", ErrConfig)
	}

	cfg := mysql.NewConfig()
	cfg.User = p["user"]
	cfg.Passwd = p["password"]
	cfg.DBName = p["dbname"]
	if socket := p["unix_socket"]; socket != "" {
		cfg.Net = "unix"
		cfg.Addr = socket
	} else {
		host, port := p["host"], p["port"]
		if host == "" {
			host = "localhost"
		}
		if port == "" {
			port = "3306"
		}
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(host, port)
	}
	if charset := p["charset"]; charset != "" {
		if err := cfg.Apply(mysql.Charset(charset, p["collation"])); err != nil {
			return "", fmt.Errorf("%w: %v", ErrConfig, err)
		}
	}
	return cfg.FormatDSN(), nil
}

func postgresDSN(config Config) (string, error) {
	if config.DSN != "" {
		return config.DSN, nil
	}
	p := config.Params
	if p["dbname"] == "" {
		return "", fmt.Errorf("%w: pgsql descriptor requires dbname", ErrConfig)
	}

	values := map[string]string{
		"host":    "localhost",
		"port":    "5432",
		"sslmode": "disable",
	}
	for key, value := range p {
		if key == "schema" {
			continue
		}
		values[key] = value
	}

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+"="+quoteConnValue(values[key]))
	}
	return strings.Join(parts, " "), nil
}

// quoteConnValue quotes libpq connection string values when needed
func quoteConnValue(value string) string {
	if value != "" && !strings.ContainsAny(value, ` '\`) {
		return value
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(value) + "'"
}

func sqliteDSN(config Config) (string, error) {
	if config.DSN != "" {
		return config.DSN, nil
	}
	path := config.Params["path"]
	if path == "" {
		return "", fmt.Errorf("%w: sqlite descriptor requires a file path", ErrConfig)
	}
	return path, nil
}

func postgresSchema(config Config) string {
	if s := config.Params["schema"]; s != "" {
		return s
	}
	return "public"
}

// Connection is an open session with one database
type Connection struct {
	Config  Config
	DB      *sql.DB
	Dialect dialect.Dialect
	Catalog Catalog
}

// Open connects to the database described by config
func Open(ctx context.Context, config Config, logger *logrus.Logger) (*Connection, error) {
	spec, ok := registry[config.Driver]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDriver, config.Driver)
	}
	dsn, err := spec.dsn(config)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(spec.sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", config.Driver, err)
	}
	// The session owns a single connection
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", config.Driver, err)
	}

	d := spec.dialect(config)
	logger.WithField("driver", config.Driver).Info("Connected to database")

	return &Connection{
		Config:  config,
		DB:      db,
		Dialect: d,
		Catalog: spec.catalog(db, d, config),
	}, nil
}

// Close closes the connection
func (c *Connection) Close() error {
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}
