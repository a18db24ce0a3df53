// Package spawnprompt implements the spawn-prompt envelope referenced by
// spec.md §8 ("spawn prompt schema"): a header carrying the WU ID and a
// checksum of the body, followed by the body itself and a trailing
// sentinel line. parse(serialize(createSpawnPrompt(id, content))) must
// recover content exactly; any mutation of content after serialization
// must make parse fail, either because the checksum no longer matches or
// because the sentinel line is gone.
//
// Agent spawning and prompt assembly themselves are out of scope (spec.md
// §1); this package only has to make that round-trip invariant concrete
// and testable.
package spawnprompt

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/hellmai/lumenflow/internal/lferr"
)

const (
	idPrefix       = "SPAWN_ID: "
	checksumPrefix = "SPAWN_CHECKSUM: "
	separator      = "---"
	sentinel       = "SPAWN_END"
)

// Prompt is a spawn prompt before serialization.
type Prompt struct {
	ID      string
	Content string
}

// CreateSpawnPrompt builds a Prompt for the given WU ID and body content.
func CreateSpawnPrompt(id, content string) Prompt {
	return Prompt{ID: id, Content: content}
}

// sentinelSuffix is the exact trailer Serialize appends after content: one
// newline to terminate content's line, then the sentinel, then a final
// newline. Parse strips exactly this suffix so content is recovered
// byte-for-byte, including any newlines of its own.
const sentinelSuffix = "\n" + sentinel + "\n"

// Serialize renders p as the wire envelope: an ID line, a checksum line, a
// separator line, the raw content, and a trailing sentinel line.
func Serialize(p Prompt) string {
	var b strings.Builder
	b.WriteString(idPrefix + p.ID + "\n")
	b.WriteString(checksumPrefix + checksum(p.Content) + "\n")
	b.WriteString(separator + "\n")
	b.WriteString(p.Content)
	b.WriteString(sentinelSuffix)
	return b.String()
}

// Parse recovers a Prompt from its wire envelope. It fails with
// lferr.KindValidation if the sentinel is missing, the header is
// malformed, or the checksum doesn't match the recovered content —
// whether because the envelope was truncated or because content was
// tampered with after serialization.
func Parse(wire string) (Prompt, error) {
	if !strings.HasSuffix(wire, sentinelSuffix) {
		return Prompt{}, lferr.New(lferr.KindValidation, "spawn prompt missing SPAWN_END sentinel")
	}
	withoutSentinel := strings.TrimSuffix(wire, sentinelSuffix)

	parts := strings.SplitN(withoutSentinel, "\n", 4)
	if len(parts) != 4 {
		return Prompt{}, lferr.New(lferr.KindValidation, "spawn prompt header is malformed")
	}
	idLine, checksumLine, sepLine, content := parts[0], parts[1], parts[2], parts[3]

	if !strings.HasPrefix(idLine, idPrefix) {
		return Prompt{}, lferr.New(lferr.KindValidation, "spawn prompt missing SPAWN_ID header")
	}
	if !strings.HasPrefix(checksumLine, checksumPrefix) {
		return Prompt{}, lferr.New(lferr.KindValidation, "spawn prompt missing SPAWN_CHECKSUM header")
	}
	if sepLine != separator {
		return Prompt{}, lferr.New(lferr.KindValidation, "spawn prompt missing separator line")
	}

	id := strings.TrimPrefix(idLine, idPrefix)
	wantSum := strings.TrimPrefix(checksumLine, checksumPrefix)

	if checksum(content) != wantSum {
		return Prompt{}, lferr.New(lferr.KindValidation, "spawn prompt checksum mismatch, content may have been tampered with")
	}
	return Prompt{ID: id, Content: content}, nil
}

func checksum(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Round is a convenience wrapper exercising the full
// parse(serialize(createSpawnPrompt(...))) pipeline spec.md §8 describes.
func Round(id, content string) (Prompt, error) {
	return Parse(Serialize(CreateSpawnPrompt(id, content)))
}
