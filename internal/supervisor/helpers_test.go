package supervisor

import (
	"os"
	"path/filepath"
)

func writeExecutable(path, body string) error {
	return os.WriteFile(path, []byte(body), 0o755)
}

func writeUpdateLog(root, contents string) error {
	return os.WriteFile(filepath.Join(root, "updateSoftware.log"), []byte(contents), 0o644)
}
