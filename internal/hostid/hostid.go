// Package hostid derives the stable short host identifier embedded in
// spool and remote paths: machine-id preferred, then
// hostname+MAC, then a random token persisted to the spool directory so
// re-runs on the same live USB remain stable.
package hostid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const machineIDPath = "/etc/machine-id"
const tokenFilename = ".coldcapture-token"

// Token returns a 5-hex-char token derived via the fallback chain,
// persisting a random fallback under spoolRoot so it survives re-runs.
func Token(spoolRoot string) (string, error) {
	if id, err := readMachineID(); err == nil && id != "" {
		return shortHash(id), nil
	}

	if id, err := hostnameMAC(); err == nil && id != "" {
		return shortHash(id), nil
	}

	return persistedRandomToken(spoolRoot)
}

func readMachineID() (string, error) {
	b, err := os.ReadFile(machineIDPath)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func hostnameMAC() (string, error) {
	host, err := os.Hostname()
	if err != nil {
		return "", err
	}
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", err
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if len(iface.HardwareAddr) == 0 {
			continue
		}
		return host + "+" + iface.HardwareAddr.String(), nil
	}
	return "", fmt.Errorf("no stable network interface found")
}

func persistedRandomToken(spoolRoot string) (string, error) {
	path := filepath.Join(spoolRoot, tokenFilename)
	if b, err := os.ReadFile(path); err == nil {
		tok := strings.TrimSpace(string(b))
		if tok != "" {
			return tok, nil
		}
	}

	tok := shortHash(uuid.NewString())
	if err := os.MkdirAll(spoolRoot, 0o755); err != nil {
		return "", fmt.Errorf("persist host token: %w", err)
	}
	if err := os.WriteFile(path, []byte(tok), 0o644); err != nil {
		return "", fmt.Errorf("persist host token: %w", err)
	}
	return tok, nil
}

// shortHash returns the first 5 hex characters of sha256(seed), matching
// the naming pattern's {token} token width.
func shortHash(seed string) string {
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])[:5]
}
