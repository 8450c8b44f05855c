package rbac

import (
	"fmt"
	"sort"
	"strings"
)

type Capability string

const (
	Admin           Capability = "Admin"
	ManageSitzungen Capability = "ManageSitzungen"
	ManageAntraege  Capability = "ManageAntraege"
	ManagePersons   Capability = "ManagePersons"
	ManageDoor      Capability = "ManageDoor"
	CreateAntrag    Capability = "CreateAntrag"
	ViewHidden      Capability = "ViewHidden"
	ViewProtected   Capability = "ViewProtected"
)

var allCapabilities = []Capability{
	Admin, ManageSitzungen, ManageAntraege, ManagePersons, ManageDoor, CreateAntrag, ViewHidden, ViewProtected,
}

// ParseCapability matches case-insensitively. "ManageAnträge" is accepted as
// an alias of ManageAntraege.
func ParseCapability(value string) (Capability, error) {
	trimmed := strings.TrimSpace(value)
	if strings.EqualFold(trimmed, "ManageAnträge") {
		return ManageAntraege, nil
	}
	for _, capability := range allCapabilities {
		if strings.EqualFold(trimmed, string(capability)) {
			return capability, nil
		}
	}
	return "", fmt.Errorf("unknown capability %q", value)
}

// Policy maps each capability to the roles (identity-provider groups) that
// hold it. It is built once at startup and never mutated afterwards.
type Policy struct {
	roles map[Capability]map[string]struct{}
}

// NewPolicy builds a policy from role -> "cap1,cap2" entries.
func NewPolicy(groups map[string]string) (*Policy, error) {
	p := &Policy{roles: make(map[Capability]map[string]struct{})}
	for role, capabilities := range groups {
		role = strings.TrimSpace(role)
		if role == "" {
			return nil, fmt.Errorf("empty role name")
		}
		for _, raw := range strings.Split(capabilities, ",") {
			if strings.TrimSpace(raw) == "" {
				continue
			}
			capability, err := ParseCapability(raw)
			if err != nil {
				return nil, fmt.Errorf("role %s: %w", role, err)
			}
			if p.roles[capability] == nil {
				p.roles[capability] = make(map[string]struct{})
			}
			p.roles[capability][role] = struct{}{}
		}
	}
	return p, nil
}

// ParsePolicy reads the "role=cap1,cap2;role2=cap3" configuration form.
func ParsePolicy(mapping string) (*Policy, error) {
	groups := make(map[string]string)
	for _, entry := range strings.Split(mapping, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		role, capabilities, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("invalid capability entry %q", entry)
		}
		role = strings.TrimSpace(role)
		if existing, ok := groups[role]; ok {
			capabilities = existing + "," + capabilities
		}
		groups[role] = capabilities
	}
	return NewPolicy(groups)
}

// HasCapability reports whether any of roles holds capability directly or
// holds Admin.
func (p *Policy) HasCapability(roles []string, capability Capability) bool {
	if p == nil {
		return false
	}
	return p.holds(roles, capability) || p.holds(roles, Admin)
}

func (p *Policy) holds(roles []string, capability Capability) bool {
	allowed := p.roles[capability]
	for _, role := range roles {
		if _, ok := allowed[role]; ok {
			return true
		}
	}
	return false
}

// Capabilities lists everything roles can do, sorted.
func (p *Policy) Capabilities(roles []string) []Capability {
	out := make([]Capability, 0)
	for _, capability := range allCapabilities {
		if p.HasCapability(roles, capability) {
			out = append(out, capability)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
