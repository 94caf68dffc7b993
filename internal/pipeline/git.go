// Publishes posts as commits in a local git repository using go-git.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// GitPublisher commits each post on its own branch created from the base
// branch. Pushing the branch and opening a pull request are left to the
// operator or a git hook.
type GitPublisher struct {
	dir      string
	postsDir string
	base     plumbing.ReferenceName
	name     string
	email    string
	repo     *gogit.Repository
	mu       sync.Mutex
}

// GitOptions configures a GitPublisher.
type GitOptions struct {
	// PostsDir is the directory of posts inside the repository.
	PostsDir string
	// BaseBranch is the branch posts are created from.
	BaseBranch string
	// Name and Email sign the commits.
	Name  string
	Email string
}

// NewGitPublisher opens the repository in dir, creating it with an empty
// initial commit on the base branch when needed.
func NewGitPublisher(dir string, opts GitOptions) (*GitPublisher, error) {
	if opts.PostsDir == "" {
		opts.PostsDir = "_posts"
	}
	if opts.BaseBranch == "" {
		opts.BaseBranch = "main"
	}
	if opts.Name == "" {
		opts.Name = "transcriptq"
	}
	if opts.Email == "" {
		opts.Email = "transcriptq@localhost"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create repo directory: %w", err)
	}
	repo, err := gogit.PlainOpen(dir)
	if err != nil {
		// Not a repo yet, initialize.
		if repo, err = gogit.PlainInit(dir, false); err != nil {
			return nil, fmt.Errorf("failed to initialize git repo: %w", err)
		}
	}
	g := &GitPublisher{
		dir:      dir,
		postsDir: opts.PostsDir,
		base:     plumbing.NewBranchReferenceName(opts.BaseBranch),
		name:     opts.Name,
		email:    opts.Email,
		repo:     repo,
	}
	if err := g.ensureBase(); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *GitPublisher) signature() *object.Signature {
	return &object.Signature{Name: g.name, Email: g.email, When: time.Now()}
}

// ensureBase creates the base branch with an empty commit in a repository
// without history.
func (g *GitPublisher) ensureBase() error {
	if _, err := g.repo.Reference(g.base, true); err == nil {
		return nil
	} else if !errors.Is(err, plumbing.ErrReferenceNotFound) {
		return fmt.Errorf("failed to read %s: %w", g.base.Short(), err)
	}
	if _, err := g.repo.Head(); err == nil {
		return fmt.Errorf("base branch %s not found", g.base.Short())
	}
	if err := g.repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, g.base)); err != nil {
		return fmt.Errorf("failed to set HEAD: %w", err)
	}
	w, err := g.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}
	sig := g.signature()
	if _, err := w.Commit("Initial commit", &gogit.CommitOptions{Author: sig, Committer: sig, AllowEmptyCommits: true}); err != nil {
		return fmt.Errorf("failed to create initial commit: %w", err)
	}
	return nil
}

// Publish implements Publisher. An existing branch of the same name is
// replaced.
func (g *GitPublisher) Publish(ctx context.Context, post *Post) (*Publication, error) {
	content, err := post.Render()
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	baseRef, err := g.repo.Reference(g.base, true)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", g.base.Short(), err)
	}
	branch := plumbing.NewBranchReferenceName(post.Branch())
	if _, err := g.repo.Reference(branch, false); err == nil {
		if err := g.repo.Storer.RemoveReference(branch); err != nil {
			return nil, fmt.Errorf("failed to delete branch %s: %w", branch.Short(), err)
		}
	}
	if err := g.repo.Storer.SetReference(plumbing.NewHashReference(branch, baseRef.Hash())); err != nil {
		return nil, fmt.Errorf("failed to create branch %s: %w", branch.Short(), err)
	}
	w, err := g.repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to get worktree: %w", err)
	}
	if err := w.Checkout(&gogit.CheckoutOptions{Branch: branch, Force: true}); err != nil {
		return nil, fmt.Errorf("failed to checkout %s: %w", branch.Short(), err)
	}
	defer func() {
		if err := w.Checkout(&gogit.CheckoutOptions{Branch: g.base, Force: true}); err != nil {
			slog.WarnContext(ctx, "Failed to checkout base branch", "branch", g.base.Short(), "err", err)
		}
	}()

	rel := path.Join(g.postsDir, post.FileName())
	abs := filepath.Join(g.dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create posts directory: %w", err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write post: %w", err)
	}
	if _, err := w.Add(rel); err != nil {
		return nil, fmt.Errorf("failed to stage post: %w", err)
	}
	sig := g.signature()
	hash, err := w.Commit(post.CommitMessage(), &gogit.CommitOptions{Author: sig, Committer: sig})
	if err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return &Publication{Branch: branch.Short(), Path: rel, Commit: hash.String()}, nil
}
