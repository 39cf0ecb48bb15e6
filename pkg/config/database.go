// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import "fmt"

// Database drivers.
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"
)

// DatabaseConfig describes one SQL database connection, used for
// session persistence.
type DatabaseConfig struct {
	// Driver is "postgres", "mysql" or "sqlite".
	Driver string `yaml:"driver,omitempty" json:"driver,omitempty" jsonschema:"enum=postgres,enum=mysql,enum=sqlite"`

	Host string `yaml:"host,omitempty" json:"host,omitempty"`
	Port int    `yaml:"port,omitempty" json:"port,omitempty"`

	// Database is the database name, or the file path for sqlite.
	Database string `yaml:"database,omitempty" json:"database,omitempty"`

	Username string `yaml:"username,omitempty" json:"username,omitempty"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
	SSLMode  string `yaml:"ssl_mode,omitempty" json:"ssl_mode,omitempty"`

	MaxConns int `yaml:"max_conns,omitempty" json:"max_conns,omitempty"`
	MaxIdle  int `yaml:"max_idle,omitempty" json:"max_idle,omitempty"`
}

func (c *DatabaseConfig) SetDefaults() {
	if c.Driver == "" {
		c.Driver = DriverSQLite
	}
	switch c.Driver {
	case DriverPostgres:
		if c.Host == "" {
			c.Host = "localhost"
		}
		if c.Port == 0 {
			c.Port = 5432
		}
		if c.SSLMode == "" {
			c.SSLMode = "disable"
		}
	case DriverMySQL:
		if c.Host == "" {
			c.Host = "localhost"
		}
		if c.Port == 0 {
			c.Port = 3306
		}
	case DriverSQLite:
		if c.Database == "" {
			c.Database = "./.nestor/nestor.db"
		}
	}
	if c.MaxConns == 0 {
		c.MaxConns = 25
	}
	if c.MaxIdle == 0 {
		c.MaxIdle = 5
	}
}

func (c *DatabaseConfig) Validate() error {
	switch c.Driver {
	case DriverPostgres, DriverMySQL:
		if c.Database == "" {
			return fmt.Errorf("%s driver requires a database name", c.Driver)
		}
		if c.Host == "" {
			return fmt.Errorf("%s driver requires a host", c.Driver)
		}
	case DriverSQLite:
		if c.Database == "" {
			return fmt.Errorf("sqlite driver requires a file path")
		}
	default:
		return fmt.Errorf("unknown driver '%s'", c.Driver)
	}
	return nil
}

// DSN builds the driver-specific data source name.
func (c *DatabaseConfig) DSN() string {
	switch c.Driver {
	case DriverPostgres:
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.Username, c.Password, c.Database, c.SSLMode)
	case DriverMySQL:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			c.Username, c.Password, c.Host, c.Port, c.Database)
	case DriverSQLite:
		return c.Database
	default:
		return ""
	}
}

// DriverName maps the config driver to the database/sql driver name.
func (c *DatabaseConfig) DriverName() string {
	if c.Driver == DriverSQLite {
		return "sqlite3"
	}
	return c.Driver
}

// Dialect names the SQL dialect for query construction.
func (c *DatabaseConfig) Dialect() string {
	return c.Driver
}
