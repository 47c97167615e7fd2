package ledger

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/opensource-finance/shrike/internal/domain"
)

// The pattern dump interleaves labeled blocks with raw transaction lines:
//
//	BEGIN LAUNDERING ATTEMPT - FAN-IN
//	2022/09/01 00:06,BANK012,ACC_81,BANK044,ACC_9,1400.00,USD,1
//	...
//	END LAUNDERING ATTEMPT
var (
	beginRe = regexp.MustCompile(`^BEGIN LAUNDERING ATTEMPT - ([^:]+?)(?::\s*(.*))?$`)
	endRe   = regexp.MustCompile(`^END LAUNDERING ATTEMPT`)
)

var patternTypes = map[string]domain.PatternType{
	"FAN-IN":         domain.PatternFanIn,
	"FAN-OUT":        domain.PatternFanOut,
	"SCATTER-GATHER": domain.PatternScatterGather,
	"GATHER-SCATTER": domain.PatternGatherScatter,
	"CYCLE":          domain.PatternCycle,
	"BIPARTITE":      domain.PatternBipartite,
}

// ParsePatternsFile reads a pattern dump from disk.
func ParsePatternsFile(path string) ([]domain.FraudRing, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open patterns file: %w", err)
	}
	defer f.Close()
	return ParsePatterns(f)
}

// ParsePatterns extracts fraud rings from a pattern dump. Each block
// becomes one ring whose members are every account appearing in the
// block's transaction lines. Malformed lines inside a block are skipped
// with a counted warning.
func ParsePatterns(r io.Reader) ([]domain.FraudRing, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var rings []domain.FraudRing
	var inBlock bool
	var blockType domain.PatternType
	members := map[string]struct{}{}
	degree := map[string]int{}
	skipped := 0

	flush := func() {
		ids := make([]string, 0, len(members))
		for id := range members {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		rings = append(rings, domain.FraudRing{
			RingID:           fmt.Sprintf("R_%04d", len(rings)+1),
			PatternType:      blockType,
			MemberAccountIDs: ids,
			HubAccountID:     hubOf(degree),
		})
		members = map[string]struct{}{}
		degree = map[string]int{}
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if m := beginRe.FindStringSubmatch(line); m != nil {
			if inBlock {
				// Unterminated previous block: close it rather than
				// losing its members.
				flush()
			}
			inBlock = true
			blockType = normalizePattern(m[1])
			continue
		}

		if endRe.MatchString(line) {
			if inBlock {
				flush()
				inBlock = false
			}
			continue
		}

		if !inBlock {
			continue
		}

		from, to, ok := parsePatternTx(line)
		if !ok {
			skipped++
			continue
		}
		members[from] = struct{}{}
		members[to] = struct{}{}
		degree[from]++
		degree[to]++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan patterns: %w", err)
	}
	if inBlock {
		flush()
	}

	if skipped > 0 {
		slog.Warn("skipped malformed pattern lines", "skipped", skipped)
	}
	slog.Info("parsed fraud rings", "rings", len(rings))
	return rings, nil
}

// parsePatternTx pulls the sender and receiver out of one transaction line.
// Block lines share the ledger dump format: timestamp, from-bank, from
// account, to-bank, to account, then amounts.
func parsePatternTx(line string) (from, to string, ok bool) {
	parts := strings.Split(line, ",")
	if len(parts) < 6 {
		return "", "", false
	}
	from = strings.TrimSpace(parts[2])
	to = strings.TrimSpace(parts[4])
	if from == "" || to == "" {
		return "", "", false
	}
	return from, to, true
}

func normalizePattern(raw string) domain.PatternType {
	key := strings.ToUpper(strings.TrimSpace(raw))
	// Dumps write topology names with either spaces or hyphens.
	key = strings.ReplaceAll(key, " ", "-")
	if pt, ok := patternTypes[key]; ok {
		return pt
	}
	return domain.PatternType(key)
}

// hubOf returns the most-connected member, ties broken by ascending id.
func hubOf(degree map[string]int) string {
	hub := ""
	best := -1
	ids := make([]string, 0, len(degree))
	for id := range degree {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if degree[id] > best {
			hub = id
			best = degree[id]
		}
	}
	return hub
}
