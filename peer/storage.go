package peer

import "os"

// writeFileOverwrite saves data to path, overwriting any existing file
// — the reference behavior for a received_files/ name collision.
func writeFileOverwrite(path string, data []byte) error {
	return os.WriteFile(path, data, 0o644)
}
