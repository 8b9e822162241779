// Package pattern implements the L3 pattern cache from spec.md §4.4: a
// deterministic, feature-weighted fallback classifier with a prediction
// cache, used when neither L1 nor L2 can answer.
package pattern

import (
	"regexp"
	"strings"

	"github.com/cmdhub/cmdhub/internal/model"
)

// Features is the deterministic feature vector extracted from a request,
// per spec.md §4.4's extraction contract.
type Features struct {
	IsSafeTool    bool
	IsBash        bool
	IsFileOp      bool
	DangerCount   int
	SafeCount     int
	KeywordRatio  float64 // safeCount / (dangerCount+1), saturates the score toward approve
	SystemPath    bool
	SpecialChars  bool
	CommandLength float64 // normalized to [0,1], capped
	TrustedAgent  bool
}

var dangerousKeywords = []string{
	"rm -rf", "sudo", "chmod 777", "dd if=", "mkfs", "> /dev/", ":(){", "curl | sh", "wget | sh", "eval(",
}

var safeKeywords = []string{
	"ls", "cat", "grep", "find", "echo", "pwd", "head", "tail", "git status", "git diff", "git log",
}

var systemPathPattern = regexp.MustCompile(`(^|\s)/(etc|usr|var|boot|sys|proc|dev)/`)
var specialCharsPattern = regexp.MustCompile(`[;&|$` + "`" + `><]`)

const commandLengthCap = 500.0

// ExtractFeatures is a pure function of the request: identical requests
// always yield identical features, independent of call order or wall
// clock, per spec.md §4.4.
func ExtractFeatures(req model.Request) Features {
	subject := commandSubject(req)
	lower := strings.ToLower(subject)

	danger := countOccurrences(lower, dangerousKeywords)
	safe := countOccurrences(lower, safeKeywords)

	length := float64(len(subject))
	if length > commandLengthCap {
		length = commandLengthCap
	}

	return Features{
		IsSafeTool:    req.IsSafeTool(),
		IsBash:        req.IsBash(),
		IsFileOp:      req.IsFileOp(),
		DangerCount:   danger,
		SafeCount:     safe,
		KeywordRatio:  float64(safe) / float64(danger+1),
		SystemPath:    systemPathPattern.MatchString(subject),
		SpecialChars:  specialCharsPattern.MatchString(subject),
		CommandLength: length / commandLengthCap,
		TrustedAgent:  strings.HasPrefix(req.AgentID, "trusted-"),
	}
}

func commandSubject(req model.Request) string {
	var b strings.Builder
	for _, v := range req.ToolInput {
		if s, ok := v.(string); ok {
			b.WriteString(s)
			b.WriteByte(' ')
		}
	}
	return b.String()
}

func countOccurrences(haystack string, needles []string) int {
	count := 0
	for _, n := range needles {
		count += strings.Count(haystack, n)
	}
	return count
}
