package access

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// Grant lists the permissions held by one caller.
type Grant struct {
	Name        string   `yaml:"name"`
	TokenHash   string   `yaml:"token_hash"` // bcrypt hash of the caller token
	Permissions []string `yaml:"permissions"`
}

// Policy is a set of caller grants, usually loaded from YAML:
//
//	callers:
//	  - name: doorbell
//	    token_hash: $2a$10$...
//	    permissions: [gpio]
type Policy struct {
	Callers []Grant `yaml:"callers"`
}

// LoadPolicy reads a policy file.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	return ParsePolicy(data)
}

// ParsePolicy decodes and validates a YAML policy.
func ParsePolicy(data []byte) (*Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	seen := make(map[string]bool, len(p.Callers))
	for i, g := range p.Callers {
		if g.Name == "" {
			return nil, fmt.Errorf("invalid policy: caller %d has no name", i)
		}
		if seen[g.Name] {
			return nil, fmt.Errorf("invalid policy: duplicate caller %q", g.Name)
		}
		seen[g.Name] = true
		if _, err := bcrypt.Cost([]byte(g.TokenHash)); err != nil {
			return nil, fmt.Errorf("invalid policy: caller %q: token_hash: %w", g.Name, err)
		}
	}
	return &p, nil
}

// HashToken returns the bcrypt hash to store as a grant's token_hash.
func HashToken(token string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Authorize checks the caller's token and permission list.
func (p *Policy) Authorize(caller Caller, perm string) error {
	g, ok := p.find(caller.Name)
	if !ok {
		return fmt.Errorf("%w: unknown caller %q", ErrUnauthorized, caller.Name)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(g.TokenHash), []byte(caller.Token)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return fmt.Errorf("%w: bad token for caller %q", ErrUnauthorized, caller.Name)
		}
		return fmt.Errorf("%w: caller %q: %v", ErrUnauthorized, caller.Name, err)
	}
	for _, have := range g.Permissions {
		if have == perm {
			return nil
		}
	}
	return fmt.Errorf("%w: caller %q lacks %s permission", ErrUnauthorized, caller.Name, perm)
}

func (p *Policy) find(name string) (Grant, bool) {
	for _, g := range p.Callers {
		if g.Name == name {
			return g, true
		}
	}
	return Grant{}, false
}
