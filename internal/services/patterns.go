package services

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/BradenHooton/warden/internal/models"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Placeholders substituted for variable parts of a diagnostic message
const (
	PlaceholderEmail = "<email>"
	PlaceholderStr   = "<str>"
	PlaceholderPath  = "<path>"
	PlaceholderNum   = "<num>"
)

const (
	maxSignatureRunes = 500
	maxClusterSamples = 3
)

// Order matters: emails and quoted text go first so their digits and slashes
// are not rewritten piecemeal, and no placeholder contains anything a later
// pattern matches. Every placeholder ends in '>', which the single quote and
// path patterns never accept as the preceding character, so a second pass
// finds nothing new.
var (
	emailPattern        = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9\-]+(?:\.[A-Za-z0-9\-]+)*\.[A-Za-z]{2,}`)
	doubleQuotedPattern = regexp.MustCompile(`"[^"]*"`)
	backtickPattern     = regexp.MustCompile("`[^`]*`")
	singleQuotedPattern = regexp.MustCompile(`(^|[^\w>])'[^']*'`)
	pathPattern         = regexp.MustCompile(`(^|[ (\[=:,])((?:[A-Za-z]:)?(?:[\\/][\w.\-~%]+)+[\\/]?)`)
	digitPattern        = regexp.MustCompile(`\d+`)
)

// NormalizeMessage turns a raw diagnostic message into its signature by
// erasing emails, quoted text, paths and digit runs. It is idempotent.
func NormalizeMessage(msg string) string {
	// Whitespace is collapsed first so quoted text spanning a line break is
	// seen the same way on every pass.
	s := strings.Join(strings.Fields(msg), " ")
	s = emailPattern.ReplaceAllString(s, PlaceholderEmail)
	s = doubleQuotedPattern.ReplaceAllString(s, PlaceholderStr)
	s = backtickPattern.ReplaceAllString(s, PlaceholderStr)
	s = singleQuotedPattern.ReplaceAllString(s, "${1}"+PlaceholderStr)
	s = pathPattern.ReplaceAllString(s, "${1}"+PlaceholderPath)
	s = digitPattern.ReplaceAllString(s, PlaceholderNum)

	if runes := []rune(s); len(runes) > maxSignatureRunes {
		s = strings.TrimRight(string(runes[:maxSignatureRunes]), " ")
	}
	return s
}

// ErrorCluster is a group of diagnostic entries sharing one signature
type ErrorCluster struct {
	Signature string
	SubjectID string
	Count     int
	Sources   []string
	FirstSeen time.Time
	LastSeen  time.Time
	Samples   []string
}

// SignatureSubjectID derives the dedup identity of a signature
func SignatureSubjectID(signature string) string {
	sum := sha256.Sum256([]byte(signature))
	return "error:" + hex.EncodeToString(sum[:8])
}

// ClusterEntries groups entries by signature and keeps clusters with at least
// minSize members (never fewer than two; a single occurrence is noise). The
// result is ordered by size, largest first, ties in first-seen order.
func ClusterEntries(entries []models.DiagnosticEntry, minSize int) []ErrorCluster {
	if minSize < 2 {
		minSize = 2
	}

	groups := orderedmap.New[string, *ErrorCluster]()
	for _, e := range entries {
		sig := NormalizeMessage(e.Message)
		if sig == "" {
			continue
		}

		c, ok := groups.Get(sig)
		if !ok {
			c = &ErrorCluster{
				Signature: sig,
				SubjectID: SignatureSubjectID(sig),
				FirstSeen: e.CreatedAt,
				LastSeen:  e.CreatedAt,
			}
			groups.Set(sig, c)
		}

		c.Count++
		if e.CreatedAt.Before(c.FirstSeen) {
			c.FirstSeen = e.CreatedAt
		}
		if e.CreatedAt.After(c.LastSeen) {
			c.LastSeen = e.CreatedAt
		}
		if e.Source != "" && !containsString(c.Sources, e.Source) {
			c.Sources = append(c.Sources, e.Source)
		}
		if len(c.Samples) < maxClusterSamples && !containsString(c.Samples, e.Message) {
			c.Samples = append(c.Samples, e.Message)
		}
	}

	clusters := make([]ErrorCluster, 0, groups.Len())
	for pair := groups.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.Count >= minSize {
			clusters = append(clusters, *pair.Value)
		}
	}

	sort.SliceStable(clusters, func(i, j int) bool {
		return clusters[i].Count > clusters[j].Count
	})
	return clusters
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
