package types

// ProviderInfo provides metadata about a monitoring provider.
type ProviderInfo struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	Credentials []ProviderCredential `json:"credentials"`
	Hidden      bool                 `json:"hidden,omitempty"`
}

// ProviderCredential defines a single configuration/credential option for a provider.
type ProviderCredential struct {
	Field       string `json:"field"`
	Name        string `json:"name"`
	Type        string `json:"type"` // e.g. "string" or "password"
	Required    bool   `json:"required"`
	Description string `json:"description,omitempty"`
}
