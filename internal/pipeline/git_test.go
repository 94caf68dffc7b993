package pipeline

import (
	"testing"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

func TestGitPublisher(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	g, err := NewGitPublisher(dir, GitOptions{BaseBranch: "gh-pages"})
	if err != nil {
		t.Fatalf("NewGitPublisher failed: %v", err)
	}
	post := &Post{Title: "Hello World", URL: "https://x", Date: "2024-01-02", Content: "Body."}
	pub, err := g.Publish(t.Context(), post)
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if pub.Branch != "2024-01-02-hello-world" || pub.Path != "_posts/2024-01-02-hello-world.md" {
		t.Errorf("publication = %+v", pub)
	}

	repo, err := gogit.PlainOpen(dir)
	if err != nil {
		t.Fatal(err)
	}
	head, err := repo.Head()
	if err != nil {
		t.Fatal(err)
	}
	if head.Name() != plumbing.NewBranchReferenceName("gh-pages") {
		t.Errorf("HEAD = %s, want gh-pages", head.Name())
	}
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(pub.Branch), true)
	if err != nil {
		t.Fatalf("branch missing: %v", err)
	}
	if ref.Hash().String() != pub.Commit {
		t.Errorf("branch at %s, want %s", ref.Hash(), pub.Commit)
	}
	commit, err := repo.CommitObject(ref.Hash())
	if err != nil {
		t.Fatal(err)
	}
	if commit.Message != "Add new transcript post: 2024-01-02-hello-world.md" {
		t.Errorf("message = %q", commit.Message)
	}
	if len(commit.ParentHashes) != 1 || commit.ParentHashes[0] != head.Hash() {
		t.Errorf("parents = %v, want base %s", commit.ParentHashes, head.Hash())
	}
	f, err := commit.File(pub.Path)
	if err != nil {
		t.Fatalf("post not committed: %v", err)
	}
	got, err := f.Contents()
	if err != nil {
		t.Fatal(err)
	}
	want, _ := post.Render()
	if got != want {
		t.Errorf("committed post = %q, want %q", got, want)
	}

	// Publishing again replaces the branch, still based on the base branch.
	post.Content = "Updated."
	g2, err := NewGitPublisher(dir, GitOptions{BaseBranch: "gh-pages"})
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	pub2, err := g2.Publish(t.Context(), post)
	if err != nil {
		t.Fatalf("second Publish failed: %v", err)
	}
	if pub2.Commit == pub.Commit {
		t.Error("branch not replaced")
	}
	c2, err := repo.CommitObject(plumbing.NewHash(pub2.Commit))
	if err != nil {
		t.Fatal(err)
	}
	if c2.ParentHashes[0] != head.Hash() {
		t.Errorf("replaced branch parent = %s", c2.ParentHashes[0])
	}
}

func TestGitPublisherMissingBase(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if _, err := NewGitPublisher(dir, GitOptions{BaseBranch: "main"}); err != nil {
		t.Fatal(err)
	}
	if _, err := NewGitPublisher(dir, GitOptions{BaseBranch: "other"}); err == nil {
		t.Error("expected an error for a missing base branch")
	}
}
