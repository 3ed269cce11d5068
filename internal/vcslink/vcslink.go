// Package vcslink implements the VCS metadata enricher boundary of spec.md
// §6: the core never shells out to git itself, but a caller (the CLI, an
// editor plugin) can use this package to discover the surrounding repository
// and attach entity.VCSMetadata / entity.GitRef to a Workspace or Issue.
package vcslink

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/odi-dev/odi/internal/entity"
)

// gitDir returns the actual .git directory for dir. In a worktree, .git is
// a file containing "gitdir: /path/to/actual/git/dir", so this shells out to
// git rather than assuming filepath.Join(dir, ".git").
func gitDir(dir string) (string, error) {
	cmd := exec.Command("git", "-C", dir, "rev-parse", "--git-dir")
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("not a git repository: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

func gitDirNoError(dir, flag string) string {
	cmd := exec.Command("git", "-C", dir, "rev-parse", flag)
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// isWorktree reports whether dir is a linked worktree rather than the main
// checkout, by comparing --git-dir and --git-common-dir.
func isWorktree(dir string) bool {
	g := gitDirNoError(dir, "--git-dir")
	c := gitDirNoError(dir, "--git-common-dir")
	if g == "" || c == "" {
		return false
	}
	absG, err1 := filepath.Abs(g)
	absC, err2 := filepath.Abs(c)
	if err1 != nil || err2 != nil {
		return false
	}
	return absG != absC
}

// mainRepoRoot resolves the root of the main checkout, following a linked
// worktree back to the repository it was created from.
func mainRepoRoot(dir string) (string, error) {
	if !isWorktree(dir) {
		g, err := gitDir(dir)
		if err != nil {
			return "", err
		}
		if !filepath.IsAbs(g) {
			g = filepath.Join(dir, g)
		}
		return filepath.Dir(g), nil
	}
	commonDir := gitDirNoError(dir, "--git-common-dir")
	if commonDir == "" {
		return "", fmt.Errorf("unable to determine main repository root for %s", dir)
	}
	absCommon := commonDir
	if !filepath.IsAbs(absCommon) {
		absCommon = filepath.Join(dir, commonDir)
	}
	info, err := os.Stat(absCommon)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("unable to determine main repository root for %s", dir)
	}
	return filepath.Dir(absCommon), nil
}

func currentBranch(dir string) string {
	cmd := exec.Command("git", "-C", dir, "symbolic-ref", "--short", "-q", "HEAD")
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

func remoteURLs(dir string) []string {
	cmd := exec.Command("git", "-C", dir, "remote", "-v")
	out, err := cmd.Output()
	if err != nil {
		return nil
	}
	seen := map[string]bool{}
	var urls []string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		url := fields[1]
		if !seen[url] {
			seen[url] = true
			urls = append(urls, url)
		}
	}
	return urls
}

// Discover builds entity.VCSMetadata for the git repository containing dir,
// worktree-aware. It returns nil, nil if dir is not inside a git repository.
func Discover(dir string) (*entity.VCSMetadata, error) {
	root, err := mainRepoRoot(dir)
	if err != nil {
		return nil, nil
	}
	return &entity.VCSMetadata{
		RepoRoot:      root,
		CurrentBranch: currentBranch(dir),
		RemoteURLs:    remoteURLs(dir),
	}, nil
}

// CurrentRef builds an entity.GitRef pinning the caller's current branch and
// first remote, for attaching to an Issue via Repository.LinkGitRef.
func CurrentRef(dir string) (*entity.GitRef, error) {
	meta, err := Discover(dir)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, fmt.Errorf("not a git repository: %s", dir)
	}
	ref := &entity.GitRef{RepoRoot: meta.RepoRoot, Branch: meta.CurrentBranch}
	if len(meta.RemoteURLs) > 0 {
		ref.RemoteURL = meta.RemoteURLs[0]
	}
	return ref, nil
}
