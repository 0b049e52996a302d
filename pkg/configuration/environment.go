package configuration

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/iota-uz/utils/fs"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/housing-affordability/cetree/pkg/logging"
)

var singleton = sync.OnceValues(func() (*Configuration, error) {
	c := &Configuration{}
	if err := c.load([]string{".env", ".env.local"}); err != nil {
		c.Unload()
		return nil, err
	}
	return c, nil
})

// LoadEnv loads the env files that exist in the working directory. When none
// does, it retries from the directory holding go.mod.
func LoadEnv(envFiles []string) (int, error) {
	existing := existingFiles("", envFiles)
	if len(existing) == 0 {
		if root, ok := moduleRoot(); ok {
			existing = existingFiles(root, envFiles)
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}
	return len(existing), godotenv.Load(existing...)
}

func existingFiles(dir string, envFiles []string) []string {
	out := make([]string, 0, len(envFiles))
	for _, file := range envFiles {
		path := file
		if dir != "" {
			path = filepath.Join(dir, file)
		}
		if fs.FileExists(path) {
			out = append(out, path)
		}
	}
	return out
}

func moduleRoot() (string, bool) {
	dir, err := os.Getwd()
	if err != nil {
		return "", false
	}
	for {
		if fs.FileExists(filepath.Join(dir, "go.mod")) {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

type DatabaseOptions struct {
	Opts     string `env:"-"`
	Name     string `env:"DB_NAME" envDefault:"housing"`
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     string `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER" envDefault:"postgres"`
	Password string `env:"DB_PASSWORD" envDefault:"postgres"`
	SSLMode  string `env:"DB_SSLMODE" envDefault:"disable" validate:"oneof=disable allow prefer require verify-ca verify-full"`
	// URL overrides the discrete options when set.
	URL string `env:"DATABASE_URL"`
}

func (d *DatabaseOptions) ConnectionString() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s dbname=%s password=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.Password, d.SSLMode,
	)
}

type TaxonomyOptions struct {
	Table         string `env:"CE_TABLE" envDefault:"cost_elements_unified" validate:"required"`
	AliasTable    string `env:"CE_ALIAS_TABLE" envDefault:"ce_code_alias"`
	Collaborators string `env:"CE_COLLABORATORS" envDefault:"cro_ce_map.ce_id,ce_actor_map.ce_id,ce_drilldown.ce_code,ce_scenario_values.ce_id"`
	SnapshotPath  string `env:"CE_SNAPSHOT_PATH" envDefault:"./data/cetree.db"`
	BatchSize     int    `env:"CE_INSERT_BATCH_SIZE" envDefault:"100" validate:"min=1,max=5000"`
	DedupPolicy   string `env:"CE_DEDUP_POLICY" envDefault:"merge" validate:"oneof=merge reject"`
	LedgerDir     string `env:"CE_LEDGER_DIR" envDefault:"./ledgers"`
}

// ColumnRef names one identifier-bearing column of a collaborator table.
type ColumnRef struct {
	Table  string
	Column string
}

func (r ColumnRef) String() string { return r.Table + "." + r.Column }

// CollaboratorColumns parses CE_COLLABORATORS ("table.column,table.column").
func (t *TaxonomyOptions) CollaboratorColumns() ([]ColumnRef, error) {
	var out []ColumnRef
	seen := map[string]bool{}
	for _, part := range strings.FieldsFunc(t.Collaborators, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n' || r == '\t'
	}) {
		table, column, ok := strings.Cut(part, ".")
		if !ok || table == "" || column == "" || strings.Contains(column, ".") {
			return nil, fmt.Errorf("invalid CE_COLLABORATORS entry=%q (expected table.column)", part)
		}
		ref := ColumnRef{Table: table, Column: column}
		if seen[ref.String()] {
			continue
		}
		seen[ref.String()] = true
		out = append(out, ref)
	}
	return out, nil
}

type Configuration struct {
	Database DatabaseOptions
	Taxonomy TaxonomyOptions

	LogLevel string `env:"LOG_LEVEL" envDefault:"error"`
	LogPath  string `env:"LOG_PATH" envDefault:"./logs/cetree.log"`

	logFile *os.File
	logger  *logrus.Logger
}

func (c *Configuration) Logger() *logrus.Logger {
	return c.logger
}

func (c *Configuration) LogrusLogLevel() logrus.Level {
	switch c.LogLevel {
	case "silent":
		return logrus.PanicLevel
	case "error":
		return logrus.ErrorLevel
	case "warn":
		return logrus.WarnLevel
	case "info":
		return logrus.InfoLevel
	case "debug":
		return logrus.DebugLevel
	default:
		return logrus.ErrorLevel
	}
}

func Use() *Configuration {
	c, err := singleton()
	if err != nil {
		panic(err)
	}
	return c
}

// Load is Use for callers that report configuration errors themselves.
func Load() (*Configuration, error) {
	return singleton()
}

// Parse reads the environment into a fresh Configuration without touching
// env files or opening the log file.
func Parse() (*Configuration, error) {
	c := &Configuration{}
	if err := c.parse(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Configuration) parse() error {
	if err := env.Parse(c); err != nil {
		return err
	}
	c.Taxonomy.DedupPolicy = strings.ToLower(strings.TrimSpace(c.Taxonomy.DedupPolicy))
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	if _, err := c.Taxonomy.CollaboratorColumns(); err != nil {
		return err
	}
	c.Database.Opts = c.Database.ConnectionString()
	return nil
}

func (c *Configuration) load(envFiles []string) error {
	n, err := LoadEnv(envFiles)
	if err != nil {
		return err
	}
	if n == 0 {
		wd, _ := os.Getwd()
		log.Println("No .env files found. Tried:")
		for _, file := range envFiles {
			log.Println(filepath.Join(wd, file))
		}
	}
	if err := c.parse(); err != nil {
		return err
	}
	f, logger, err := logging.FileLogger(c.LogrusLogLevel(), c.LogPath)
	if err != nil {
		return err
	}
	c.logFile = f
	c.logger = logger
	return nil
}

// Unload handles a graceful shutdown.
func (c *Configuration) Unload() {
	if c.logFile != nil {
		if err := c.logFile.Close(); err != nil {
			log.Printf("Failed to close log file: %v", err)
		}
	}
}
