package entity

// VCSMetadata is the optional result of the VCS metadata enricher boundary
// (spec.md §6). The core never invokes a VCS itself; a caller supplies this.
type VCSMetadata struct {
	RepoRoot      string   `odi:"1"`
	CurrentBranch string   `odi:"2"`
	RemoteURLs    []string `odi:"3"`
}

// Workspace is the root object of a single on-disk ODI store.
type Workspace struct {
	ID             string             `odi:"1"` // derived from the absolute filesystem path
	ActiveProjects []ProjectID        `odi:"2"` // sorted set
	Remotes        []RemoteDescriptor `odi:"3"`
	VCS            *VCSMetadata       `odi:"4"`
}

func (w *Workspace) Validate() error {
	return nil
}
