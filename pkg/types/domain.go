package types

// Model is a model file the server can load.
type Model struct {
	// Stable identifier, the file name.
	ID   string `json:"id"`
	Name string `json:"name"`
	// Absolute path to the model file on disk.
	Path   string `json:"path"`
	Quant  string `json:"quant,omitempty"`
	Family string `json:"family,omitempty"`
}
