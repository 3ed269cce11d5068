package codec

import (
	"github.com/odi-dev/odi/internal/entity"
)

func toStrings[T ~string](in []T) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = string(v)
	}
	return out
}

func fromStrings[T ~string](in []string) []T {
	if len(in) == 0 {
		return nil
	}
	out := make([]T, len(in))
	for i, v := range in {
		out[i] = T(v)
	}
	return out
}

// --- Issue ---

func marshalIssue(i *entity.Issue) []byte {
	w := &writer{}
	w.string(i.ID)
	w.string(i.Title)
	w.string(i.Description)
	w.string(string(i.Status))
	w.string(string(i.Priority))
	w.string(string(i.Author))
	w.stringSet(toStrings(i.CoAuthors))
	w.stringSet(toStrings(i.Assignees))
	w.stringSet(toStrings(i.Labels))
	w.string(string(i.ProjectID))
	w.millis(i.CreatedAt)
	w.millis(i.UpdatedAt)
	w.optMillis(i.ClosedAt)
	w.uint64(uint64(len(i.GitRefs)))
	for _, g := range i.GitRefs {
		w.string(g.RepoRoot)
		w.string(g.Branch)
		w.string(g.RemoteURL)
	}
	w.stringMap(i.Metadata)
	return w.buf
}

func unmarshalIssue(b []byte) (*entity.Issue, error) {
	r := &reader{buf: b}
	i := &entity.Issue{}
	i.ID = r.string()
	i.Title = r.string()
	i.Description = r.string()
	i.Status = entity.Status(r.string())
	i.Priority = entity.Priority(r.string())
	i.Author = entity.UserID(r.string())
	i.CoAuthors = fromStrings[entity.UserID](r.stringSet())
	i.Assignees = fromStrings[entity.UserID](r.stringSet())
	i.Labels = fromStrings[entity.LabelID](r.stringSet())
	i.ProjectID = entity.ProjectID(r.string())
	i.CreatedAt = r.millis()
	i.UpdatedAt = r.millis()
	i.ClosedAt = r.optMillis()
	n := int(r.uint64())
	if n > 0 {
		i.GitRefs = make([]entity.GitRef, n)
		for j := 0; j < n; j++ {
			i.GitRefs[j] = entity.GitRef{RepoRoot: r.string(), Branch: r.string(), RemoteURL: r.string()}
		}
	}
	i.Metadata = r.stringMap()
	if err := r.done(); err != nil {
		return nil, err
	}
	return i, nil
}

// --- Project ---

func marshalProject(p *entity.Project) []byte {
	w := &writer{}
	w.string(string(p.ID))
	w.string(p.Name)
	w.string(p.Description)
	w.stringSet(toStrings(p.Labels))
	w.string(p.WorkspaceID)
	w.bool(p.Settings.VCSIntegration)
	w.stringSet(p.Settings.DefaultLabels)
	return w.buf
}

func unmarshalProject(b []byte) (*entity.Project, error) {
	r := &reader{buf: b}
	p := &entity.Project{}
	p.ID = entity.ProjectID(r.string())
	p.Name = r.string()
	p.Description = r.string()
	p.Labels = fromStrings[entity.LabelID](r.stringSet())
	p.WorkspaceID = r.string()
	p.Settings.VCSIntegration = r.bool()
	p.Settings.DefaultLabels = r.stringSet()
	if err := r.done(); err != nil {
		return nil, err
	}
	return p, nil
}

// --- Workspace ---

func marshalWorkspace(w0 *entity.Workspace) []byte {
	w := &writer{}
	w.string(w0.ID)
	w.stringSet(toStrings(w0.ActiveProjects))
	w.uint64(uint64(len(w0.Remotes)))
	for _, rd := range w0.Remotes {
		writeRemote(w, &rd)
	}
	hasVCS := w0.VCS != nil
	w.bool(hasVCS)
	if hasVCS {
		w.string(w0.VCS.RepoRoot)
		w.string(w0.VCS.CurrentBranch)
		w.stringSet(w0.VCS.RemoteURLs)
	}
	return w.buf
}

func unmarshalWorkspace(b []byte) (*entity.Workspace, error) {
	r := &reader{buf: b}
	w0 := &entity.Workspace{}
	w0.ID = r.string()
	w0.ActiveProjects = fromStrings[entity.ProjectID](r.stringSet())
	n := int(r.uint64())
	if n > 0 {
		w0.Remotes = make([]entity.RemoteDescriptor, n)
		for i := 0; i < n; i++ {
			w0.Remotes[i] = readRemote(r)
		}
	}
	if r.bool() {
		w0.VCS = &entity.VCSMetadata{RepoRoot: r.string(), CurrentBranch: r.string(), RemoteURLs: r.stringSet()}
	}
	if err := r.done(); err != nil {
		return nil, err
	}
	return w0, nil
}

// --- User / Team ---

func marshalUser(u *entity.User) []byte {
	w := &writer{}
	w.string(string(u.ID))
	w.string(u.DisplayName)
	w.string(u.Email)
	w.string(u.AvatarURI)
	w.stringSet(u.Teams)
	return w.buf
}

func unmarshalUser(b []byte) (*entity.User, error) {
	r := &reader{buf: b}
	u := &entity.User{}
	u.ID = entity.UserID(r.string())
	u.DisplayName = r.string()
	u.Email = r.string()
	u.AvatarURI = r.string()
	u.Teams = r.stringSet()
	if err := r.done(); err != nil {
		return nil, err
	}
	return u, nil
}

func marshalTeam(t *entity.Team) []byte {
	w := &writer{}
	w.string(t.ID)
	w.string(t.DisplayName)
	w.stringSet(toStrings(t.Members))
	w.stringSet(t.Permissions)
	w.stringSet(toStrings(t.ProjectAccess))
	return w.buf
}

func unmarshalTeam(b []byte) (*entity.Team, error) {
	r := &reader{buf: b}
	t := &entity.Team{}
	t.ID = r.string()
	t.DisplayName = r.string()
	t.Members = fromStrings[entity.UserID](r.stringSet())
	t.Permissions = r.stringSet()
	t.ProjectAccess = fromStrings[entity.ProjectID](r.stringSet())
	if err := r.done(); err != nil {
		return nil, err
	}
	return t, nil
}

// --- Label ---

func marshalLabel(l *entity.Label) []byte {
	w := &writer{}
	w.string(string(l.ID))
	w.string(string(l.ProjectID))
	w.string(l.Name)
	w.string(l.Color)
	return w.buf
}

func unmarshalLabel(b []byte) (*entity.Label, error) {
	r := &reader{buf: b}
	l := &entity.Label{}
	l.ID = entity.LabelID(r.string())
	l.ProjectID = entity.ProjectID(r.string())
	l.Name = r.string()
	l.Color = r.string()
	if err := r.done(); err != nil {
		return nil, err
	}
	return l, nil
}

// --- RemoteDescriptor ---

func writeRemote(w *writer, r *entity.RemoteDescriptor) {
	w.string(r.Name)
	w.string(r.URI)
	w.stringSet(toStrings(r.ProjectIDs))
	w.optMillis(r.LastSync)
	w.string(string(r.AuthHint))
}

func readRemote(r *reader) entity.RemoteDescriptor {
	rd := entity.RemoteDescriptor{}
	rd.Name = r.string()
	rd.URI = r.string()
	rd.ProjectIDs = fromStrings[entity.ProjectID](r.stringSet())
	rd.LastSync = r.optMillis()
	rd.AuthHint = entity.AuthHint(r.string())
	return rd
}

func marshalRemote(rd *entity.RemoteDescriptor) []byte {
	w := &writer{}
	writeRemote(w, rd)
	return w.buf
}

func unmarshalRemote(b []byte) (*entity.RemoteDescriptor, error) {
	r := &reader{buf: b}
	rd := readRemote(r)
	if err := r.done(); err != nil {
		return nil, err
	}
	return &rd, nil
}

// --- ChangeSet ---

func marshalChangeSet(c *entity.ChangeSet) []byte {
	w := &writer{}
	w.string(c.ID)
	w.stringSet(c.Parents)
	w.string(string(c.Author))
	w.millis(c.Timestamp)
	w.uint64(uint64(len(c.Changes)))
	for _, cr := range c.Changes {
		w.uint64(uint64(cr.Kind))
		w.string(cr.LogicalID)
		w.string(cr.PriorHash)
		w.string(cr.NewHash)
		w.string(string(cr.Type))
	}
	return w.buf
}

func unmarshalChangeSet(b []byte) (*entity.ChangeSet, error) {
	r := &reader{buf: b}
	c := &entity.ChangeSet{}
	c.ID = r.string()
	c.Parents = r.stringSet()
	c.Author = entity.UserID(r.string())
	c.Timestamp = r.millis()
	n := int(r.uint64())
	if n > 0 {
		c.Changes = make([]entity.ChangeRecord, n)
		for i := 0; i < n; i++ {
			c.Changes[i] = entity.ChangeRecord{
				Kind:      entity.Kind(r.uint64()),
				LogicalID: r.string(),
				PriorHash: r.string(),
				NewHash:   r.string(),
				Type:      entity.ChangeType(r.string()),
			}
		}
	}
	if err := r.done(); err != nil {
		return nil, err
	}
	return c, nil
}
