package conn

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Option defines connection options for PostgreSQL. ConnString, when
// set, is used verbatim and the individual fields are ignored.
type Option struct {
	Host       string
	Port       int
	User       string
	Password   string
	Database   string
	SSLMode    string
	Params     map[string]string
	ConnString string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	Config *gorm.Config
}

// Client wraps a PostgreSQL connection pool.
type Client struct {
	opt Option
	db  *gorm.DB
}

// New creates a PostgreSQL client from the provided options.
func New(option Option) (*Client, error) {
	config := option.Config
	if config == nil {
		config = &gorm.Config{}
	}

	db, err := gorm.Open(postgres.Open(option.dsn()), config)
	if err != nil {
		return nil, err
	}

	if option.MaxOpenConns > 0 || option.MaxIdleConns > 0 || option.ConnMaxLifetime > 0 {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		if option.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(option.MaxOpenConns)
		}
		if option.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(option.MaxIdleConns)
		}
		if option.ConnMaxLifetime > 0 {
			sqlDB.SetConnMaxLifetime(option.ConnMaxLifetime)
		}
	}

	return &Client{opt: option, db: db}, nil
}

// DB returns the underlying gorm.DB instance.
func (c *Client) DB() *gorm.DB {
	if c == nil {
		return nil
	}
	return c.db
}

// Close closes the underlying connection pool.
func (c *Client) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (opt Option) dsn() string {
	if opt.ConnString != "" {
		return opt.ConnString
	}

	host := opt.Host
	if host == "" {
		host = "localhost"
	}
	port := opt.Port
	if port == 0 {
		port = 5432
	}
	sslMode := opt.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	var b strings.Builder
	writeDSNPair(&b, "host", host)
	writeDSNPair(&b, "port", fmt.Sprint(port))
	if opt.User != "" {
		writeDSNPair(&b, "user", opt.User)
	}
	if opt.Password != "" {
		writeDSNPair(&b, "password", opt.Password)
	}
	if opt.Database != "" {
		writeDSNPair(&b, "dbname", opt.Database)
	}
	writeDSNPair(&b, "sslmode", sslMode)

	keys := make([]string, 0, len(opt.Params))
	for key := range opt.Params {
		if key != "" {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		writeDSNPair(&b, key, opt.Params[key])
	}

	return b.String()
}

func writeDSNPair(b *strings.Builder, key, value string) {
	if b.Len() > 0 {
		b.WriteByte(' ')
	}
	b.WriteString(key)
	b.WriteByte('=')
	if strings.ContainsAny(value, " '\\") || value == "" {
		b.WriteByte('\'')
		for _, r := range value {
			if r == '\'' || r == '\\' {
				b.WriteByte('\\')
			}
			b.WriteRune(r)
		}
		b.WriteByte('\'')
	} else {
		b.WriteString(value)
	}
}
