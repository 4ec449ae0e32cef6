package seed

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"pwdemo/internal/domain"
)

//go:embed seed.yaml
var defaultSeed []byte

// Data is the initial user and protocol set a store is reset to.
type Data struct {
	Users     []domain.User     `yaml:"users"`
	Protocols []domain.Protocol `yaml:"protocols"`
}

// Default returns the embedded demo data set.
func Default() (Data, error) {
	return FromYAML(defaultSeed)
}

// FromYAML parses and validates seed data from raw YAML bytes.
func FromYAML(data []byte) (Data, error) {
	var d Data
	if err := yaml.Unmarshal(data, &d); err != nil {
		return Data{}, fmt.Errorf("invalid seed yaml: %w", err)
	}
	if err := d.Validate(); err != nil {
		return Data{}, err
	}
	return d, nil
}

// Validate checks identifiers are unique and that the lifecycle invariant holds
// for every seeded protocol.
func (d Data) Validate() error {
	users := make(map[string]struct{}, len(d.Users))
	for _, u := range d.Users {
		if u.ID == "" {
			return fmt.Errorf("seed user with empty id")
		}
		if _, dup := users[u.ID]; dup {
			return fmt.Errorf("duplicate seed user %s", u.ID)
		}
		users[u.ID] = struct{}{}
	}
	protocols := make(map[string]struct{}, len(d.Protocols))
	for _, p := range d.Protocols {
		if p.ID == "" {
			return fmt.Errorf("seed protocol with empty id")
		}
		if _, dup := protocols[p.ID]; dup {
			return fmt.Errorf("duplicate seed protocol %s", p.ID)
		}
		protocols[p.ID] = struct{}{}
		if p.Status == "" {
			return fmt.Errorf("seed protocol %s has empty status", p.ID)
		}
		open := domain.IsOpenStatus(p.Status)
		if open && p.CompletedAt != nil {
			return fmt.Errorf("seed protocol %s is %s but has completedAt", p.ID, p.Status)
		}
		if !open && p.CompletedAt == nil {
			return fmt.Errorf("seed protocol %s is %s but lacks completedAt", p.ID, p.Status)
		}
	}
	return nil
}

// Clone returns a deep copy of the data set.
func (d Data) Clone() Data {
	out := Data{
		Users:     append([]domain.User{}, d.Users...),
		Protocols: make([]domain.Protocol, 0, len(d.Protocols)),
	}
	for _, p := range d.Protocols {
		out.Protocols = append(out.Protocols, p.Clone())
	}
	return out
}
