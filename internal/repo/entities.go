package repo

import (
	"context"
	"fmt"

	"github.com/odi-dev/odi/internal/entity"
	"github.com/odi-dev/odi/internal/odierr"
)

// kindOf reports the entity.Kind of v's dynamic type. Adding a new
// administrative entity kind means adding one case here.
func kindOf(v validatable) entity.Kind {
	switch v.(type) {
	case *entity.Project:
		return entity.KindProject
	case *entity.User:
		return entity.KindUser
	case *entity.Team:
		return entity.KindTeam
	case *entity.Label:
		return entity.KindLabel
	case *entity.RemoteDescriptor:
		return entity.KindRemoteDescriptor
	case *entity.Workspace:
		return entity.KindWorkspace
	default:
		return 0
	}
}

// putEntity validates and stores v fresh (the ref must not already exist).
func (r *Repository) putEntity(ctx context.Context, ref, logicalID string, author entity.UserID, v validatable) error {
	_, err := r.mutate(ctx, ref, kindOf(v), logicalID, author,
		func(_ any, _ string, exists bool) (validatable, entity.ChangeType, error) {
			if exists {
				return nil, "", fmt.Errorf("%w: %s already exists", odierr.ErrInvalidIdentifier, ref)
			}
			return v, entity.ChangeCreate, nil
		})
	return err
}

// replaceEntity overwrites the current value at ref with v (ref must exist).
func (r *Repository) replaceEntity(ctx context.Context, ref, logicalID string, author entity.UserID, v validatable) error {
	_, err := r.mutate(ctx, ref, kindOf(v), logicalID, author,
		func(_ any, _ string, exists bool) (validatable, entity.ChangeType, error) {
			if !exists {
				return nil, "", fmt.Errorf("%w: %s", odierr.ErrUnknownEntity, ref)
			}
			return v, entity.ChangeModify, nil
		})
	return err
}

func (r *Repository) deleteEntity(ctx context.Context, ref, logicalID string, kind entity.Kind, author entity.UserID) error {
	_, err := r.mutate(ctx, ref, kind, logicalID, author,
		func(_ any, _ string, exists bool) (validatable, entity.ChangeType, error) {
			if !exists {
				return nil, "", fmt.Errorf("%w: %s", odierr.ErrUnknownEntity, ref)
			}
			return nil, entity.ChangeDelete, nil
		})
	return err
}

func projectRef(id entity.ProjectID) string { return "projects/" + string(id) }
func userRef(id entity.UserID) string       { return "users/" + string(id) }
func teamRef(id string) string              { return "teams/" + id }
func labelRef(id entity.LabelID) string     { return "labels/" + string(id) }
func remoteRef(name string) string          { return "remotes/" + name }

// CreateProject stores a new Project.
func (r *Repository) CreateProject(ctx context.Context, author entity.UserID, p *entity.Project) error {
	return r.putEntity(ctx, projectRef(p.ID), string(p.ID), author, p)
}

// GetProject loads the current Project for id.
func (r *Repository) GetProject(id entity.ProjectID) (*entity.Project, error) {
	v, _, ok, err := r.get(projectRef(id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: project %s", odierr.ErrUnknownProject, id)
	}
	p, ok := v.(*entity.Project)
	if !ok {
		return nil, fmt.Errorf("%w: ref %s does not hold a Project", odierr.ErrCorruption, projectRef(id))
	}
	return p, nil
}

// UpdateProject replaces the stored Project wholesale.
func (r *Repository) UpdateProject(ctx context.Context, author entity.UserID, p *entity.Project) error {
	return r.replaceEntity(ctx, projectRef(p.ID), string(p.ID), author, p)
}

// DeleteProject tombstones a Project's ref.
func (r *Repository) DeleteProject(ctx context.Context, author entity.UserID, id entity.ProjectID) error {
	return r.deleteEntity(ctx, projectRef(id), string(id), entity.KindProject, author)
}

// CreateUser stores a new User.
func (r *Repository) CreateUser(ctx context.Context, author entity.UserID, u *entity.User) error {
	return r.putEntity(ctx, userRef(u.ID), string(u.ID), author, u)
}

// GetUser loads the current User for id.
func (r *Repository) GetUser(id entity.UserID) (*entity.User, error) {
	v, _, ok, err := r.get(userRef(id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: user %s", odierr.ErrUnknownEntity, id)
	}
	u, ok := v.(*entity.User)
	if !ok {
		return nil, fmt.Errorf("%w: ref %s does not hold a User", odierr.ErrCorruption, userRef(id))
	}
	return u, nil
}

// UpdateUser replaces the stored User wholesale.
func (r *Repository) UpdateUser(ctx context.Context, author entity.UserID, u *entity.User) error {
	return r.replaceEntity(ctx, userRef(u.ID), string(u.ID), author, u)
}

// DeleteUser tombstones a User's ref.
func (r *Repository) DeleteUser(ctx context.Context, author entity.UserID, id entity.UserID) error {
	return r.deleteEntity(ctx, userRef(id), string(id), entity.KindUser, author)
}

// CreateTeam stores a new Team.
func (r *Repository) CreateTeam(ctx context.Context, author entity.UserID, t *entity.Team) error {
	return r.putEntity(ctx, teamRef(t.ID), t.ID, author, t)
}

// GetTeam loads the current Team for id.
func (r *Repository) GetTeam(id string) (*entity.Team, error) {
	v, _, ok, err := r.get(teamRef(id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: team %s", odierr.ErrUnknownEntity, id)
	}
	t, ok := v.(*entity.Team)
	if !ok {
		return nil, fmt.Errorf("%w: ref %s does not hold a Team", odierr.ErrCorruption, teamRef(id))
	}
	return t, nil
}

// UpdateTeam replaces the stored Team wholesale.
func (r *Repository) UpdateTeam(ctx context.Context, author entity.UserID, t *entity.Team) error {
	return r.replaceEntity(ctx, teamRef(t.ID), t.ID, author, t)
}

// DeleteTeam tombstones a Team's ref.
func (r *Repository) DeleteTeam(ctx context.Context, author entity.UserID, id string) error {
	return r.deleteEntity(ctx, teamRef(id), id, entity.KindTeam, author)
}

// CreateLabel stores a new Label.
func (r *Repository) CreateLabel(ctx context.Context, author entity.UserID, l *entity.Label) error {
	if err := r.checkLabelNameUnique(l.ProjectID, l.Name, ""); err != nil {
		return err
	}
	return r.putEntity(ctx, labelRef(l.ID), string(l.ID), author, l)
}

// GetLabel loads the current Label for id.
func (r *Repository) GetLabel(id entity.LabelID) (*entity.Label, error) {
	v, _, ok, err := r.get(labelRef(id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: label %s", odierr.ErrUnknownEntity, id)
	}
	l, ok := v.(*entity.Label)
	if !ok {
		return nil, fmt.Errorf("%w: ref %s does not hold a Label", odierr.ErrCorruption, labelRef(id))
	}
	return l, nil
}

// UpdateLabel replaces the stored Label wholesale.
func (r *Repository) UpdateLabel(ctx context.Context, author entity.UserID, l *entity.Label) error {
	if err := r.checkLabelNameUnique(l.ProjectID, l.Name, l.ID); err != nil {
		return err
	}
	return r.replaceEntity(ctx, labelRef(l.ID), string(l.ID), author, l)
}

// DeleteLabel tombstones a Label's ref.
func (r *Repository) DeleteLabel(ctx context.Context, author entity.UserID, id entity.LabelID) error {
	return r.deleteEntity(ctx, labelRef(id), string(id), entity.KindLabel, author)
}

// checkLabelNameUnique enforces uniqueness of Label.Name within a project,
// a sibling-aware constraint entity.Label.Validate cannot check on its own.
func (r *Repository) checkLabelNameUnique(project entity.ProjectID, name string, exceptID entity.LabelID) error {
	refs, err := r.refs.List("labels/")
	if err != nil {
		return err
	}
	for _, ref := range refs {
		v, _, ok, err := r.get(ref)
		if err != nil || !ok {
			continue
		}
		l, ok := v.(*entity.Label)
		if !ok || l.ID == exceptID {
			continue
		}
		if l.ProjectID == project && l.Name == name {
			return fmt.Errorf("%w: %q in project %s", odierr.ErrDuplicateLabelName, name, project)
		}
	}
	return nil
}

// CreateRemote stores a new RemoteDescriptor.
func (r *Repository) CreateRemote(ctx context.Context, author entity.UserID, rd *entity.RemoteDescriptor) error {
	return r.putEntity(ctx, remoteRef(rd.Name), rd.Name, author, rd)
}

// GetRemote loads the current RemoteDescriptor for name.
func (r *Repository) GetRemote(name string) (*entity.RemoteDescriptor, error) {
	v, _, ok, err := r.get(remoteRef(name))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: remote %s", odierr.ErrUnknownEntity, name)
	}
	rd, ok := v.(*entity.RemoteDescriptor)
	if !ok {
		return nil, fmt.Errorf("%w: ref %s does not hold a RemoteDescriptor", odierr.ErrCorruption, remoteRef(name))
	}
	return rd, nil
}

// UpdateRemote replaces the stored RemoteDescriptor wholesale.
func (r *Repository) UpdateRemote(ctx context.Context, author entity.UserID, rd *entity.RemoteDescriptor) error {
	return r.replaceEntity(ctx, remoteRef(rd.Name), rd.Name, author, rd)
}

// DeleteRemote tombstones a RemoteDescriptor's ref.
func (r *Repository) DeleteRemote(ctx context.Context, author entity.UserID, name string) error {
	return r.deleteEntity(ctx, remoteRef(name), name, entity.KindRemoteDescriptor, author)
}

const workspaceRef = "workspace"

// InitWorkspace stores the root Workspace object for a freshly opened store.
// vcs may be nil; a caller that wants VCS-aware behavior discovers it first
// (internal/vcslink.Discover) and passes the result through, since the core
// never invokes a VCS itself (spec.md §6).
func (r *Repository) InitWorkspace(ctx context.Context, author entity.UserID, id string, vcs *entity.VCSMetadata) (*entity.Workspace, error) {
	w := &entity.Workspace{ID: id, VCS: vcs}
	if err := r.putEntity(ctx, workspaceRef, id, author, w); err != nil {
		return nil, err
	}
	return w, nil
}

// GetWorkspace loads the root Workspace object.
func (r *Repository) GetWorkspace() (*entity.Workspace, error) {
	v, _, ok, err := r.get(workspaceRef)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: workspace", odierr.ErrUnknownEntity)
	}
	w, ok := v.(*entity.Workspace)
	if !ok {
		return nil, fmt.Errorf("%w: ref %s does not hold a Workspace", odierr.ErrCorruption, workspaceRef)
	}
	return w, nil
}

// UpdateWorkspace replaces the root Workspace object wholesale.
func (r *Repository) UpdateWorkspace(ctx context.Context, author entity.UserID, w *entity.Workspace) error {
	return r.replaceEntity(ctx, workspaceRef, w.ID, author, w)
}
