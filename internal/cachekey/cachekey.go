// Package cachekey turns a command line and working subdirectory into an
// opaque token for partitioning cached results. Tokens are pure functions of
// their inputs: the same command in the same directory always lands on the
// same cache slot, on any machine.
package cachekey

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"strings"
)

// tokenBytes is how much of the digest survives into the token. 16 bytes
// (32 hex characters) keeps keys short while leaving collisions out of
// practical reach.
const tokenBytes = 16

// Normalize canonicalizes a working subdirectory. "", ".", "./" and any
// trailing-slash spelling of the same path all collapse to one form; the
// workspace root is the empty string and is never a literal path segment.
func Normalize(workdir string) string {
	cleaned := path.Clean(strings.TrimSpace(workdir))
	if cleaned == "." || cleaned == "/" {
		return ""
	}
	return cleaned
}

// Encode derives the cache token for command run in workdir. The token is
// lowercase hex, so it embeds safely in ref names and note paths no matter
// what whitespace or separators the command contains.
func Encode(command, workdir string) string {
	h := sha256.New()
	// Netstring-style framing: ("ab", "") and ("a", "b") must not collide.
	fmt.Fprintf(h, "%d:%s", len(command), command)
	wd := Normalize(workdir)
	fmt.Fprintf(h, "%d:%s", len(wd), wd)
	return hex.EncodeToString(h.Sum(nil)[:tokenBytes])
}
