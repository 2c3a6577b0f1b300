// control/document.go
// Author: momentics <momentics@gmail.com>
//
// YAML configuration document.

package control

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/momentics/usock/api"
)

// Reply modes.
const (
	ReplyCounter = "counter"
	ReplyEcho    = "echo"
	ReplyNone    = "none"
)

// EndpointSpec is the YAML form of api.EndpointConfig.
type EndpointSpec struct {
	Name     string `yaml:"name"`
	Protocol string `yaml:"protocol"`
	Role     string `yaml:"role"`
	Address  string `yaml:"address"`
	Port     uint16 `yaml:"port"`
	Peer     string `yaml:"peer,omitempty"`
}

// Config converts the spec, validating protocol and role names.
func (s EndpointSpec) Config() (api.EndpointConfig, error) {
	proto, err := api.ParseProtocol(s.Protocol)
	if err != nil {
		return api.EndpointConfig{}, fmt.Errorf("endpoint %q: %w", s.Name, err)
	}
	role, err := api.ParseRole(s.Role)
	if err != nil {
		return api.EndpointConfig{}, fmt.Errorf("endpoint %q: %w", s.Name, err)
	}
	cfg := api.EndpointConfig{
		Protocol: proto,
		Role:     role,
		Address:  s.Address,
		Port:     s.Port,
		Name:     s.Name,
		Peer:     s.Peer,
	}
	return cfg, cfg.Validate()
}

// Document is the host configuration file.
type Document struct {
	RegistryCapacity int            `yaml:"registry_capacity"`
	LogLevel         string         `yaml:"log_level"`
	LogFormat        string         `yaml:"log_format"`
	ReplyMode        string         `yaml:"reply_mode"`
	ReplyPrefix      string         `yaml:"reply_prefix"`
	Endpoints        []EndpointSpec `yaml:"endpoints"`
}

// DefaultDocument runs a single TCP server on 127.0.0.1:8080 answering with
// a counter reply.
func DefaultDocument() Document {
	return Document{
		RegistryCapacity: 100,
		LogLevel:         "info",
		LogFormat:        "text",
		ReplyMode:        ReplyCounter,
		ReplyPrefix:      "Hey Client!",
		Endpoints: []EndpointSpec{{
			Name:     "Universal_Socket->Socket_Tester",
			Protocol: "tcp",
			Role:     "server",
			Address:  "127.0.0.1",
			Port:     8080,
		}},
	}
}

// Parse decodes data over DefaultDocument. Unknown keys are rejected.
// An endpoints list, when present, replaces the default one.
func Parse(data []byte) (Document, error) {
	doc := DefaultDocument()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return Document{}, fmt.Errorf("%w: parse config: %v", api.ErrInvalidArgument, err)
	}
	return doc, doc.Validate()
}

// Load reads and parses the file at path.
func Load(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("read config: %w", err)
	}
	doc, err := Parse(data)
	if err != nil {
		return Document{}, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Validate checks every field and endpoint.
func (d Document) Validate() error {
	var errs []error
	if d.RegistryCapacity < 0 {
		errs = append(errs, fmt.Errorf("%w: registry_capacity %d", api.ErrInvalidArgument, d.RegistryCapacity))
	}
	if _, err := ParseLevel(d.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(d.LogFormat) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("%w: log_format %q", api.ErrInvalidArgument, d.LogFormat))
	}
	switch d.ReplyMode {
	case ReplyCounter, ReplyEcho, ReplyNone:
	default:
		errs = append(errs, fmt.Errorf("%w: reply_mode %q", api.ErrInvalidArgument, d.ReplyMode))
	}
	if len(d.Endpoints) == 0 {
		errs = append(errs, fmt.Errorf("%w: no endpoints", api.ErrInvalidArgument))
	}
	if d.RegistryCapacity > 0 && len(d.Endpoints) > d.RegistryCapacity {
		errs = append(errs, fmt.Errorf("%w: %d endpoints exceed registry_capacity %d",
			api.ErrCapacityExceeded, len(d.Endpoints), d.RegistryCapacity))
	}
	seen := make(map[string]bool, len(d.Endpoints))
	for _, s := range d.Endpoints {
		if _, err := s.Config(); err != nil {
			errs = append(errs, err)
		}
		if seen[s.Name] {
			errs = append(errs, fmt.Errorf("%w: duplicate endpoint name %q", api.ErrInvalidArgument, s.Name))
		}
		seen[s.Name] = true
	}
	return errors.Join(errs...)
}

// EndpointConfigs converts every endpoint in order.
func (d Document) EndpointConfigs() ([]api.EndpointConfig, error) {
	out := make([]api.EndpointConfig, 0, len(d.Endpoints))
	for _, s := range d.Endpoints {
		cfg, err := s.Config()
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, nil
}

// Level returns the parsed log level, or info if it does not parse.
func (d Document) Level() slog.Level {
	l, err := ParseLevel(d.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return l
}

// ParseLevel accepts debug, info, warn or error in any case.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("%w: log_level %q", api.ErrInvalidArgument, s)
	}
	return l, nil
}

func (d Document) clone() Document {
	d.Endpoints = append([]EndpointSpec(nil), d.Endpoints...)
	return d
}

// sameTopology reports whether d and o describe the same endpoint set.
func (d Document) sameTopology(o Document) bool {
	if d.RegistryCapacity != o.RegistryCapacity || len(d.Endpoints) != len(o.Endpoints) {
		return false
	}
	for i := range d.Endpoints {
		if d.Endpoints[i] != o.Endpoints[i] {
			return false
		}
	}
	return true
}
