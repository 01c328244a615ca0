// Package pak reads encrypted, block-compressed game archive
// containers: the trailing footer and directory index, per-entry
// AES decryption, per-block decompression and hash-verified
// extraction.
package pak

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// SetLogLevel configures the logging verbosity for the library.
// Valid levels: "debug", "info", "warn", "error", "disabled"
func SetLogLevel(level string) error {
	switch strings.ToLower(level) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn", "warning":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "disabled", "none", "off":
		zerolog.SetGlobalLevel(zerolog.Disabled)
	default:
		return fmt.Errorf("invalid log level %q: must be one of: debug, info, warn, error, disabled", level)
	}
	return nil
}
