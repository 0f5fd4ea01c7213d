package vfs

import (
	"context"
	"regexp"
	"strings"

	"github.com/gobwas/glob"
)

// ============================================================================
// FileSelector Interface
// ============================================================================

// FileSelector decides which entries survive a listing or a search.
//
// Selectors compose with And, Or and Not; scandir builds its type, MIME and
// hidden-file filters out of them, and transports without a native search
// use them through Select.
type FileSelector interface {
	// Match returns true if the entry should be included in results.
	Match(file File) bool

	// TraverseDescendants returns true if a directory should be descended
	// into during a recursive Select. Only called for directories.
	TraverseDescendants(file File) bool
}

// ============================================================================
// Select - generic search over Scandir
// ============================================================================

// Select walks dir through t.Scandir and collects the entries selector
// matches. Backlink entries are never returned or followed. limit <= 0
// means no limit.
func Select(ctx context.Context, t Transport, dir File, selector FileSelector, recursive bool, limit int) ([]File, error) {
	if selector == nil {
		selector = All()
	}
	var results []File
	err := selectRecursive(ctx, t, dir, selector, recursive, limit, &results)
	if err != nil && err != errLimitReached {
		return nil, err
	}
	return results, nil
}

type limitError struct{}

func (limitError) Error() string { return "limit reached" }

var errLimitReached error = limitError{}

func selectRecursive(ctx context.Context, t Transport, dir File, selector FileSelector, recursive bool, limit int, results *[]File) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	entries, err := t.Scandir(ctx, dir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsBacklink() {
			continue
		}
		if selector.Match(entry) {
			*results = append(*results, entry)
			if limit > 0 && len(*results) >= limit {
				return errLimitReached
			}
		}
		if entry.IsDir() && recursive && selector.TraverseDescendants(entry) {
			if err := selectRecursive(ctx, t, entry, selector, recursive, limit, results); err != nil {
				return err
			}
		}
	}
	return nil
}

// ============================================================================
// Built-in Selectors
// ============================================================================

// AllSelector matches all entries and traverses all directories.
type AllSelector struct{}

func (AllSelector) Match(File) bool               { return true }
func (AllSelector) TraverseDescendants(File) bool { return true }

// All returns a selector that matches everything.
func All() FileSelector {
	return AllSelector{}
}

type typeSelector struct {
	typ FileType
}

// Type keeps entries of the given type only.
func Type(typ FileType) FileSelector {
	return typeSelector{typ: typ}
}

func (s typeSelector) Match(file File) bool          { return file.Type == s.typ }
func (s typeSelector) TraverseDescendants(File) bool { return true }

var hiddenPattern = regexp.MustCompile(`^\.\w`)

type visibleSelector struct{}

// Visible drops dotfiles (a dot followed by a word character). The ".."
// backlink is always visible.
func Visible() FileSelector {
	return visibleSelector{}
}

func (visibleSelector) Match(file File) bool {
	if file.IsBacklink() {
		return true
	}
	return !hiddenPattern.MatchString(file.Filename)
}

func (s visibleSelector) TraverseDescendants(file File) bool { return s.Match(file) }

// ============================================================================
// MIME - mime filter
// ============================================================================

type mimeSelector struct {
	plain []string
	globs []glob.Glob
}

// MIME keeps files whose MIME type matches any of patterns. A pattern with
// glob metacharacters ("image/*") is matched as a glob; any other pattern
// matches as a substring ("text" keeps text/plain and text/html).
// Directories always pass so that navigation stays possible.
func MIME(patterns ...string) FileSelector {
	s := &mimeSelector{}
	for _, p := range patterns {
		if strings.ContainsAny(p, "*?[{") {
			if g, err := glob.Compile(p, '/'); err == nil {
				s.globs = append(s.globs, g)
				continue
			}
		}
		s.plain = append(s.plain, p)
	}
	return s
}

func (s *mimeSelector) Match(file File) bool {
	if file.IsDir() || file.IsBacklink() {
		return true
	}
	for _, p := range s.plain {
		if strings.Contains(file.MIME, p) {
			return true
		}
	}
	for _, g := range s.globs {
		if g.Match(file.MIME) {
			return true
		}
	}
	return false
}

func (s *mimeSelector) TraverseDescendants(File) bool { return true }

// ============================================================================
// Glob - filename patterns
// ============================================================================

type globSelector struct {
	g       glob.Glob
	literal string
}

// Glob matches filenames against a glob pattern (*, ?, [a-z], {a,b}).
// Patterns without metacharacters, and invalid ones, match as a
// case-insensitive substring.
func Glob(pattern string) FileSelector {
	if !strings.ContainsAny(pattern, "*?[{") {
		return &globSelector{literal: strings.ToLower(pattern)}
	}
	g, err := glob.Compile(pattern)
	if err != nil {
		return &globSelector{literal: strings.ToLower(pattern)}
	}
	return &globSelector{g: g}
}

func (s *globSelector) Match(file File) bool {
	if s.g == nil {
		return strings.Contains(strings.ToLower(file.Filename), s.literal)
	}
	return s.g.Match(file.Filename)
}

func (s *globSelector) TraverseDescendants(File) bool { return true }

// ============================================================================
// Composable Selectors (And, Or, Not)
// ============================================================================

type andSelector struct {
	selectors []FileSelector
}

// And matches only if ALL selectors match.
func And(selectors ...FileSelector) FileSelector {
	return &andSelector{selectors: selectors}
}

func (s *andSelector) Match(file File) bool {
	for _, sel := range s.selectors {
		if !sel.Match(file) {
			return false
		}
	}
	return true
}

func (s *andSelector) TraverseDescendants(file File) bool {
	for _, sel := range s.selectors {
		if !sel.TraverseDescendants(file) {
			return false
		}
	}
	return true
}

type orSelector struct {
	selectors []FileSelector
}

// Or matches if ANY selector matches.
func Or(selectors ...FileSelector) FileSelector {
	return &orSelector{selectors: selectors}
}

func (s *orSelector) Match(file File) bool {
	for _, sel := range s.selectors {
		if sel.Match(file) {
			return true
		}
	}
	return false
}

func (s *orSelector) TraverseDescendants(file File) bool {
	for _, sel := range s.selectors {
		if sel.TraverseDescendants(file) {
			return true
		}
	}
	return false
}

type notSelector struct {
	selector FileSelector
}

// Not inverts a selector's match result.
func Not(selector FileSelector) FileSelector {
	return &notSelector{selector: selector}
}

func (s *notSelector) Match(file File) bool          { return !s.selector.Match(file) }
func (s *notSelector) TraverseDescendants(File) bool { return true }

// ============================================================================
// FuncSelector - Custom logic
// ============================================================================

type funcSelector struct {
	matchFn func(File) bool
}

// FuncSelector creates a selector from a custom function.
//
//	FuncSelector(func(f vfs.File) bool { return f.Size > 1<<20 })
func FuncSelector(fn func(File) bool) FileSelector {
	return &funcSelector{matchFn: fn}
}

func (s *funcSelector) Match(file File) bool          { return s.matchFn(file) }
func (s *funcSelector) TraverseDescendants(File) bool { return true }
