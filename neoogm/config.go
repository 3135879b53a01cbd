package neoogm

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables that override the settings file.
const (
	EnvBoltURL  = "NEO4J_BOLT_URL"
	EnvFlavour  = "DATABASE_FLAVOUR"
	EnvDatabase = "NEO4J_DATABASE"
)

// Settings is the file form of a connection: where to connect and how to behave.
type Settings struct {
	URL                         string        `yaml:"url"`
	Flavour                     string        `yaml:"flavour"`
	Database                    string        `yaml:"database"`
	AutoInstallLabels           bool          `yaml:"auto_install_labels"`
	InstallExistenceConstraints bool          `yaml:"install_existence_constraints"`
	BatchSize                   *int          `yaml:"batch_size"`
	BackgroundConnect           bool          `yaml:"background_connect"`
	ReconnectDelay              time.Duration `yaml:"reconnect_delay"`
	HTTPTimeout                 time.Duration `yaml:"http_timeout"`
}

// LoadSettings reads path, if given, and applies the environment overrides.
func LoadSettings(path string) (*Settings, error) {
	s := &Settings{}
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		if s, err = ReadSettings(f); err != nil {
			return nil, fmt.Errorf("failed to read settings from %s: %w", path, err)
		}
	}
	s.ApplyEnv(os.LookupEnv)
	return s, nil
}

// ReadSettings decodes YAML settings.
func ReadSettings(r io.Reader) (*Settings, error) {
	s := &Settings{}
	if err := yaml.NewDecoder(r).Decode(s); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return s, nil
}

// ApplyEnv overrides the URL, flavour and database with any values set in the environment.
func (s *Settings) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvBoltURL); ok && v != "" {
		s.URL = v
	}
	if v, ok := lookup(EnvFlavour); ok && v != "" {
		s.Flavour = v
	}
	if v, ok := lookup(EnvDatabase); ok && v != "" {
		s.Database = v
	}
}

// ConnectionConfig starts from DefaultConnectionConfig and applies the settings on top.
func (s *Settings) ConnectionConfig() (*ConnectionConfig, error) {
	flavour, err := ParseFlavour(s.Flavour)
	if err != nil {
		return nil, err
	}

	conf := DefaultConnectionConfig()
	conf.DatabaseFlavour = flavour
	conf.DatabaseName = s.Database
	conf.AutoInstallLabels = s.AutoInstallLabels
	conf.InstallExistenceConstraints = s.InstallExistenceConstraints
	conf.BackgroundConnect = s.BackgroundConnect
	if s.BatchSize != nil {
		if *s.BatchSize < 0 {
			return nil, fmt.Errorf("batch_size must not be negative, got %d", *s.BatchSize)
		}
		conf.BatchSize = *s.BatchSize
	}
	if s.ReconnectDelay > 0 {
		conf.ReconnectDelay = s.ReconnectDelay
	}
	if s.HTTPTimeout > 0 {
		conf.HTTPClient.Timeout = s.HTTPTimeout
	}
	return conf, nil
}

// SchemaFile declares models in YAML:
//
//	nodes:
//	  - name: Person
//	    properties:
//	      - {name: uid, type: unique_id}
//	      - {name: email, type: string, unique_index: true}
//	relationships:
//	  - name: KNOWS
//	    properties:
//	      - {name: since, type: datetime, index: true}
type SchemaFile struct {
	Nodes         []ModelDecl `yaml:"nodes"`
	Relationships []ModelDecl `yaml:"relationships"`
}

type ModelDecl struct {
	Name       string         `yaml:"name"`
	Properties []PropertyDecl `yaml:"properties"`
}

type PropertyDecl struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Index       bool   `yaml:"index"`
	UniqueIndex bool   `yaml:"unique_index"`
	Required    bool   `yaml:"required"`
}

func LoadSchemaFile(path string) (*SchemaFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f := &SchemaFile{}
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("failed to parse schema file %s: %w", path, err)
	}
	return f, nil
}

// Registry defines every declared model.
func (f *SchemaFile) Registry() (*Registry, error) {
	r := NewRegistry()
	for _, decl := range f.Nodes {
		props, err := decl.properties()
		if err != nil {
			return nil, err
		}
		m, err := DefineNode(decl.Name, props...)
		if err != nil {
			return nil, err
		}
		r.Register(m)
	}
	for _, decl := range f.Relationships {
		props, err := decl.properties()
		if err != nil {
			return nil, err
		}
		m, err := DefineRelationship(decl.Name, props...)
		if err != nil {
			return nil, err
		}
		r.Register(m)
	}
	return r, nil
}

func (d ModelDecl) properties() ([]PropertySpec, error) {
	props := make([]PropertySpec, 0, len(d.Properties))
	for _, p := range d.Properties {
		typeName := p.Type
		if typeName == "" {
			typeName = StringType.String()
		}
		t, err := ParsePropertyType(typeName)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", d.Name, p.Name, err)
		}

		var opts []PropertyOption
		if p.Index {
			opts = append(opts, Indexed())
		}
		if p.UniqueIndex {
			opts = append(opts, Unique())
		}
		if p.Required {
			opts = append(opts, Required())
		}
		if t == UniqueIDType {
			props = append(props, UniqueIDProperty(p.Name, opts...))
			continue
		}
		props = append(props, newProperty(p.Name, t, opts))
	}
	return props, nil
}
