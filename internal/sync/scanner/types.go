package scanner

// UnlimitedDepth disables the recursion limit.
const UnlimitedDepth = -1

// LocalEntry is one file or directory found under a scan root.
type LocalEntry struct {
	ID           string `json:"id"`
	AbsPath      string `json:"absPath"`
	RelativePath string `json:"relativePath"`
	IsDir        bool   `json:"isDir"`
	Size         int64  `json:"size"`
	ModTime      int64  `json:"modTime"`
}

// Options control what a Scanner reports.
type Options struct {
	// Extensions is a comma separated list of file suffixes, matched case-insensitively.
	// Empty reports every file.
	Extensions string
	// IncludeDirectories reports directories as entries of their own.
	IncludeDirectories bool
	// MaxDepth is how many directory levels below the root are entered.
	// 0 scans the root only; UnlimitedDepth removes the limit.
	MaxDepth int
	// ExcludePattern is a regular expression matched against whole entry names.
	ExcludePattern string
	// SortByModTime orders each directory by ascending modification time instead of name.
	SortByModTime bool
}
