package devices

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var unsafeIDChars = regexp.MustCompile(`[^a-z0-9._-]+`)

// baseID derives an identifier from the strongest identity available:
// filesystem UUID, then device serial, then mount path and label.
func baseID(c Candidate) string {
	if uuid := sanitizeID(c.UUID); uuid != "" {
		return uuid
	}
	if serial := sanitizeID(c.Serial); serial != "" {
		return "sn-" + serial
	}
	sum := sha256.Sum256([]byte(c.MountPath + "\x00" + c.Label))
	return "mnt-" + hex.EncodeToString(sum[:])[:12]
}

func sanitizeID(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	value = unsafeIDChars.ReplaceAllString(value, "-")
	return strings.Trim(value, "-")
}

// assignIDs keys candidates by volume id. A candidate that is already live
// keeps its id, matched on base id plus mount path and device, then on base
// id plus either one. New candidates take their base id, or the first free
// -<n> suffix when a live or earlier new candidate holds it. known reports
// which ids belong to live volumes.
func assignIDs(candidates []Candidate, live map[string]*Volume) (ids map[string]Candidate, known map[string]bool) {
	sorted := append([]Candidate(nil), candidates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].MountPath < sorted[j].MountPath })

	liveIDs := make([]string, 0, len(live))
	for id := range live {
		liveIDs = append(liveIDs, id)
	}
	sort.Strings(liveIDs)

	ids = make(map[string]Candidate, len(sorted))
	known = make(map[string]bool, len(live))
	matched := make([]bool, len(sorted))
	for _, strict := range []bool{true, false} {
		for i, c := range sorted {
			if matched[i] {
				continue
			}
			base := baseID(c)
			for _, id := range liveIDs {
				vol := live[id]
				if known[id] || !hasBase(id, base) {
					continue
				}
				samePath, sameDevice := vol.MountPath == c.MountPath, vol.Device == c.Device
				if (strict && samePath && sameDevice) || (!strict && (samePath || sameDevice)) {
					ids[id], known[id], matched[i] = c, true, true
					break
				}
			}
		}
	}

	taken := func(id string) bool {
		if _, ok := ids[id]; ok {
			return true
		}
		vol, ok := live[id]
		return ok && vol.State == StateEjecting
	}
	for i, c := range sorted {
		if matched[i] {
			continue
		}
		base := baseID(c)
		id := base
		for n := 1; taken(id); n++ {
			id = base + "-" + strconv.Itoa(n)
		}
		ids[id] = c
	}
	return ids, known
}

// hasBase reports whether id is base or base with a numeric suffix.
func hasBase(id, base string) bool {
	if id == base {
		return true
	}
	suffix, ok := strings.CutPrefix(id, base+"-")
	if !ok || suffix == "" {
		return false
	}
	_, err := strconv.Atoi(suffix)
	return err == nil
}

func displayName(c Candidate) string {
	if label := strings.TrimSpace(c.Label); label != "" {
		return label
	}
	return filepath.Base(c.MountPath)
}
