package aggregate

import (
	"path"
	"strings"

	"github.com/cmdhub/cmdhub/internal/cmderrors"
)

// checkMaxFileSize enforces Config.MaxFileSize.
func (a *Aggregate) checkMaxFileSize(content []byte) error {
	if a.cfg.MaxFileSize > 0 && int64(len(content)) > a.cfg.MaxFileSize {
		return cmderrors.NewBusinessRuleViolation("max_file_size", map[string]any{
			"size": len(content), "limit": a.cfg.MaxFileSize,
		})
	}
	return nil
}

// checkAllowedExtension enforces Config.AllowedExtensions; an empty list
// allows any suffix, matching spec.md §4.6.
func (a *Aggregate) checkAllowedExtension(filePath string) error {
	if len(a.cfg.AllowedExtensions) == 0 {
		return nil
	}
	ext := path.Ext(filePath)
	for _, allowed := range a.cfg.AllowedExtensions {
		if ext == allowed {
			return nil
		}
	}
	return cmderrors.NewBusinessRuleViolation("allowed_extensions", map[string]any{"path": filePath, "extension": ext})
}

// checkProtectedPath rejects any operation overlapping a protected path
// prefix.
func (a *Aggregate) checkProtectedPath(filePath string) error {
	for _, prefix := range a.cfg.ProtectedPaths {
		if filePath == prefix || strings.HasPrefix(filePath, prefix+"/") {
			return cmderrors.NewBusinessRuleViolation("protected_paths", map[string]any{"path": filePath, "prefix": prefix})
		}
	}
	return nil
}

// checkSuspiciousContent scans new file content for configured
// suspicious substrings.
func (a *Aggregate) checkSuspiciousContent(content []byte) error {
	s := string(content)
	for _, pattern := range a.cfg.SuspiciousPatterns {
		if strings.Contains(s, pattern) {
			return cmderrors.NewBusinessRuleViolation("suspicious_content", map[string]any{"pattern": pattern})
		}
	}
	return nil
}

// checkCriticalFileDeletion rejects deletion of any configured critical
// basename.
func (a *Aggregate) checkCriticalFileDeletion(filePath string) error {
	base := path.Base(filePath)
	for _, critical := range a.cfg.CriticalFiles {
		if base == critical {
			return cmderrors.NewBusinessRuleViolation("critical_file_deletion", map[string]any{"path": filePath})
		}
	}
	return nil
}
