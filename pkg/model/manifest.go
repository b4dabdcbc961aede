package model

// Manifest is a repository manifest: a display name plus every package
// release the repository offers.
type Manifest struct {
	Meta     ManifestMeta                   `json:"meta"`
	Packages map[string]map[string]*Release `json:"packages"`
}

// ManifestMeta carries the repository display name.
type ManifestMeta struct {
	Name string `json:"name"`
}

// Release describes one published (name, version) entry of a manifest.
type Release struct {
	Dependencies map[string]string `json:"dependencies,omitempty"`
	URLs         []string          `json:"urls"`
	Digests      map[string]string `json:"digests"`
}
