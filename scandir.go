package vfs

import (
	"sort"
	"strings"
)

// selectorFor builds the filter chain of a scandir call
func selectorFor(opts ScandirOptions) FileSelector {
	var selectors []FileSelector
	if opts.TypeFilter != "" {
		selectors = append(selectors, Or(Type(opts.TypeFilter), FuncSelector(File.IsBacklink)))
	}
	if len(opts.MIMEFilter) > 0 {
		selectors = append(selectors, MIME(opts.MIMEFilter...))
	}
	if !opts.ShowHiddenFiles {
		selectors = append(selectors, Visible())
	}
	if opts.Selector != nil {
		selectors = append(selectors, Or(opts.Selector, FuncSelector(File.IsBacklink)))
	}
	if len(selectors) == 0 {
		return All()
	}
	return And(selectors...)
}

// filterScandir applies filters and ordering to a listing. Without a sort
// key directories come first, otherwise the list is stably sorted by the key
// with the backlink pinned first.
func filterScandir(list []File, opts ScandirOptions) []File {
	sel := selectorFor(opts)
	result := make([]File, 0, len(list))
	for _, f := range list {
		if sel.Match(f) {
			result = append(result, f)
		}
	}

	if opts.SortBy == SortNone {
		sort.SliceStable(result, func(i, j int) bool {
			return rank(result[i]) < rank(result[j])
		})
		return result
	}

	less := lessBy(opts.SortBy)
	desc := opts.SortDir == SortDesc
	sort.SliceStable(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if a.IsBacklink() != b.IsBacklink() {
			return a.IsBacklink()
		}
		if desc {
			return less(b, a)
		}
		return less(a, b)
	})
	return result
}

// rank orders the backlink, then directories, then everything else
func rank(f File) int {
	switch {
	case f.IsBacklink():
		return 0
	case f.IsDir():
		return 1
	default:
		return 2
	}
}

func lessBy(key SortKey) func(a, b File) bool {
	switch key {
	case SortSize:
		return func(a, b File) bool { return a.Size < b.Size }
	case SortMIME:
		return func(a, b File) bool { return a.MIME < b.MIME }
	case SortCtime:
		return func(a, b File) bool { return a.Ctime.Before(b.Ctime) }
	case SortMtime:
		return func(a, b File) bool { return a.Mtime.Before(b.Mtime) }
	default:
		return func(a, b File) bool {
			return strings.ToLower(a.Filename) < strings.ToLower(b.Filename)
		}
	}
}

// backlinkFor returns the ".." entry for dir, addressed by the caller-facing
// path. ok is false at the top of a mount or an alias.
func backlinkFor(dir string, m *Mountpoint) (File, bool) {
	if IsRootPath(dir) || (m != nil && m.IsRoot(dir)) {
		return File{}, false
	}
	return File{
		Path:     Dirname(dir),
		Filename: BacklinkName,
		Type:     TypeDir,
		Size:     0,
	}, true
}

// withBacklink prepends the backlink unless the listing already has one
func withBacklink(list []File, dir string, m *Mountpoint) []File {
	for _, f := range list {
		if f.IsBacklink() {
			return list
		}
	}
	back, ok := backlinkFor(dir, m)
	if !ok {
		return list
	}
	return append([]File{back}, list...)
}

// dropBacklinks removes backend-provided ".." entries
func dropBacklinks(list []File) []File {
	out := list[:0]
	for _, f := range list {
		if !f.IsBacklink() {
			out = append(out, f)
		}
	}
	return out
}
