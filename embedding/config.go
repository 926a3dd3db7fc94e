package embedding

// Config holds the attribute assignment policy of a Session.
type Config struct {
	// IDField is the payload key carrying a child identifier.
	// Default: "id"
	IDField string

	// DestroyField is the payload key flagging a child for destruction.
	// Default: "_destroy"
	DestroyField string

	// StrictAssignment rejects payload keys that are neither declared fields
	// nor embedded relations. When false they are dropped and logged.
	StrictAssignment bool

	// RejectDuplicateIDs turns a repeated identifier within one child
	// sequence into a ValidationError. When false the later entry wins.
	RejectDuplicateIDs bool
}

// DefaultConfig returns the lenient assignment policy.
func DefaultConfig() Config {
	return Config{
		IDField:      "id",
		DestroyField: "_destroy",
	}
}

// validate fills in defaults for empty fields.
func (c *Config) validate() {
	if c.IDField == "" {
		c.IDField = "id"
	}
	if c.DestroyField == "" {
		c.DestroyField = "_destroy"
	}
}
