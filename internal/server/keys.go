package server

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// secureFilename reduces name to a flat ASCII filename that is safe to use
// as an object key. It returns "" if nothing usable is left.
func secureFilename(name string) string {
	name = strings.NewReplacer("/", " ", `\`, " ").Replace(name)
	name = strings.Join(strings.Fields(name), "_")
	name = unsafeFilenameChars.ReplaceAllString(name, "")
	return strings.Trim(name, "._")
}

// objectKey picks the key for an uploaded file. Explicit name and ext form
// fields win; otherwise the sanitized filename is used, or a random UUID
// carrying the file's extension when randomize is set.
func objectKey(name, ext, filename string, randomize bool) string {
	if name != "" && ext != "" {
		return secureFilename(name + "." + strings.TrimPrefix(ext, "."))
	}
	safe := secureFilename(filename)
	if randomize {
		return uuid.NewString() + strings.ToLower(filepath.Ext(safe))
	}
	return safe
}

func publicURL(cdnDomain, key string) string {
	if cdnDomain == "" {
		return ""
	}
	if !strings.Contains(cdnDomain, "://") {
		cdnDomain = "https://" + cdnDomain
	}
	return cdnDomain + "/" + key
}
