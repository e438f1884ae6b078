// Package project resolves and caches the caller's current project.
package project

import (
	"path/filepath"
	"regexp"
	"strings"

	git "github.com/go-git/go-git/v5"
)

var remoteRepoPattern = regexp.MustCompile(`[:/]([^/:]+/[^/:]+?)(?:\.git)?/?$`)

// DetectName returns a project name for dir. It never fails:
// origin remote repo name, then the repository worktree directory name,
// then the directory path itself.
func DetectName(dir string) string {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return dir
	}
	repo, err := git.PlainOpenWithOptions(abs, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return abs
	}
	if name := remoteRepoName(repo); name != "" {
		return name
	}
	if wt, err := repo.Worktree(); err == nil {
		if base := filepath.Base(wt.Filesystem.Root()); base != "" && base != "." && base != string(filepath.Separator) {
			return base
		}
	}
	return abs
}

// remoteRepoName extracts the repository name from the origin remote URL.
// Supports git@host:user/repo.git and https://host/user/repo(.git) forms.
func remoteRepoName(repo *git.Repository) string {
	remote, err := repo.Remote("origin")
	if err != nil {
		return ""
	}
	urls := remote.Config().URLs
	if len(urls) == 0 {
		return ""
	}
	m := remoteRepoPattern.FindStringSubmatch(strings.TrimSpace(urls[0]))
	if len(m) < 2 {
		return ""
	}
	// m[1] is "user/repo"; the project name is the repo part.
	parts := strings.Split(m[1], "/")
	return parts[len(parts)-1]
}
