// Package gitrepo keeps the revision history of protocol templates in a
// local git repository, one file per template.
package gitrepo

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const templatesDir = "templates"

var (
	ErrNoHistory       = errors.New("no history for template")
	ErrUnknownRevision = errors.New("unknown revision")
)

type CommitInfo struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

type Service struct {
	baseDir string
	mu      sync.Mutex
	repo    *git.Repository
	now     func() time.Time
}

func New(baseDir string) *Service {
	return &Service{baseDir: baseDir, now: time.Now}
}

// Open initialises the repository on first use and opens it afterwards.
func (s *Service) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.open()
	return err
}

func (s *Service) open() (*git.Repository, error) {
	if s.repo != nil {
		return s.repo, nil
	}

	repo, err := git.PlainOpen(s.baseDir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		repo, err = s.initRepo()
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	s.repo = repo
	return repo, nil
}

func (s *Service) initRepo() (*git.Repository, error) {
	if err := os.MkdirAll(filepath.Join(s.baseDir, templatesDir), 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err := git.PlainInit(s.baseDir, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	// unborn HEAD points at main so the first commit creates that branch
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return nil, fmt.Errorf("set HEAD to main: %w", err)
	}
	return repo, nil
}

// CommitTemplate writes the template content and records a commit, even when
// the content did not change.
func (s *Service) CommitTemplate(name, inhalt, author, message string) (CommitInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := s.open()
	if err != nil {
		return CommitInfo{}, err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return CommitInfo{}, fmt.Errorf("open worktree: %w", err)
	}

	rel := templatePath(name)
	full := filepath.Join(worktree.Filesystem.Root(), rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return CommitInfo{}, fmt.Errorf("create templates dir: %w", err)
	}
	if err := os.WriteFile(full, []byte(inhalt), 0o644); err != nil {
		return CommitInfo{}, fmt.Errorf("write %s: %w", rel, err)
	}
	if _, err := worktree.Add(filepath.ToSlash(rel)); err != nil {
		return CommitInfo{}, fmt.Errorf("git add %s: %w", rel, err)
	}
	return s.commit(repo, worktree, author, message)
}

// RemoveTemplate deletes the template file and commits the removal. A
// template that was never committed is a no-op.
func (s *Service) RemoveTemplate(name, author, message string) (*CommitInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := s.open()
	if err != nil {
		return nil, err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("open worktree: %w", err)
	}

	rel := templatePath(name)
	if _, err := os.Stat(filepath.Join(worktree.Filesystem.Root(), rel)); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if _, err := worktree.Remove(filepath.ToSlash(rel)); err != nil {
		return nil, fmt.Errorf("git rm %s: %w", rel, err)
	}
	info, err := s.commit(repo, worktree, author, message)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

func (s *Service) commit(repo *git.Repository, worktree *git.Worktree, author, message string) (CommitInfo, error) {
	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@fsr.local", sanitizeEmail(author)),
			When:  s.now(),
		},
	})
	if err != nil {
		return CommitInfo{}, fmt.Errorf("commit: %w", err)
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(commitObj), nil
}

// History lists commits touching the template, newest first.
func (s *Service) History(name string, limit int) ([]CommitInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := s.open()
	if err != nil {
		return nil, err
	}
	head, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return []CommitInfo{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}

	rel := filepath.ToSlash(templatePath(name))
	iter, err := repo.Log(&git.LogOptions{From: head.Hash(), FileName: &rel})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]CommitInfo, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommitInfo(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// ContentAt returns the template content as of the given commit.
func (s *Service) ContentAt(name, hash string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := s.open()
	if err != nil {
		return "", err
	}
	resolved, err := resolveHash(repo, hash)
	if err != nil {
		return "", err
	}
	commitObj, err := repo.CommitObject(resolved)
	if errors.Is(err, plumbing.ErrObjectNotFound) {
		return "", fmt.Errorf("%w: %s", ErrUnknownRevision, hash)
	}
	if err != nil {
		return "", fmt.Errorf("read commit %s: %w", hash, err)
	}
	file, err := commitObj.File(filepath.ToSlash(templatePath(name)))
	if errors.Is(err, object.ErrFileNotFound) {
		return "", fmt.Errorf("%w: %s at %s", ErrNoHistory, name, hash)
	}
	if err != nil {
		return "", fmt.Errorf("load template from commit: %w", err)
	}
	return file.Contents()
}

func templatePath(name string) string {
	return filepath.Join(templatesDir, url.PathEscape(name)+".tmpl")
}

func toCommitInfo(commitObj *object.Commit) CommitInfo {
	return CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("%w: %s: %v", ErrUnknownRevision, hash, err)
	}
	return *resolved, nil
}
