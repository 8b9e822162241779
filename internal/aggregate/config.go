package aggregate

// Config holds the aggregate's configurable business rules, per
// spec.md §6's configuration table (maxFileSize, allowedExtensions,
// protectedPaths) plus the two rule sets spec.md §4.6 names but leaves
// to the implementation to source (suspiciousPatterns, criticalFiles).
type Config struct {
	MaxFileSize int64

	// AllowedExtensions, empty, allows any suffix.
	AllowedExtensions []string

	ProtectedPaths []string

	// SuspiciousPatterns are substrings rejected when found in new file
	// content (e.g. "rm -rf /", "eval(", "system(").
	SuspiciousPatterns []string

	// CriticalFiles are basenames whose deletion is always rejected.
	CriticalFiles []string
}

func DefaultConfig() Config {
	return Config{
		MaxFileSize: 100 << 20, // 100 MiB
		AllowedExtensions: []string{
			".go", ".py", ".js", ".ts", ".tsx", ".jsx", ".rs", ".java", ".rb", ".c", ".cpp", ".h", ".hpp",
			".md", ".txt", ".json", ".yaml", ".yml", ".toml", ".sh", ".mod", "",
		},
		ProtectedPaths: []string{
			"/.git", "/node_modules", "/venv", "/__pycache__", "/.venv", "/vendor",
		},
		SuspiciousPatterns: []string{
			"rm -rf /", "eval(", "system(", ":(){ ", "mkfs.",
		},
		CriticalFiles: []string{
			"package.json", "Cargo.toml", "go.mod", "Dockerfile", "README.md",
		},
	}
}
