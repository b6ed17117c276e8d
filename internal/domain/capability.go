package domain

// Capability is one of the three ordered permission tiers.
type Capability string

const (
	CapabilityView   Capability = "local/doubts:view"
	CapabilityReply  Capability = "local/doubts:reply"
	CapabilityManage Capability = "local/doubts:manage"
)

// SystemScopeID is the scope whose grants apply everywhere.
const SystemScopeID int64 = 0

// AllCapabilities lists the tiers from least to most privileged.
func AllCapabilities() []Capability {
	return []Capability{CapabilityView, CapabilityReply, CapabilityManage}
}

// IsValid reports whether c is a known tier.
func (c Capability) IsValid() bool {
	switch c {
	case CapabilityView, CapabilityReply, CapabilityManage:
		return true
	}
	return false
}
