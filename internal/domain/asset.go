package domain

// ArtifactRef identifies a binary output as reported by the engine.
type ArtifactRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}
