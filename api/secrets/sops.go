// Package secrets decrypts the daemon's credential file. The file is a
// SOPS-encrypted flat YAML map of SWITCHYARD_* keys to values.
package secrets

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"

	"gopkg.in/yaml.v3"
)

// Decryptor reads an encrypted secrets file.
type Decryptor struct {
	// Command is run with the file path appended; it must print plaintext
	// YAML on stdout. Defaults to "sops --decrypt".
	Command []string
}

func NewDecryptor() *Decryptor {
	return &Decryptor{Command: []string{"sops", "--decrypt"}}
}

// Load decrypts path. A missing file yields an error wrapping os.ErrNotExist.
func (d *Decryptor) Load(ctx context.Context, path string) (map[string]string, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	if len(d.Command) == 0 {
		return nil, fmt.Errorf("secrets: no decrypt command")
	}

	args := append(append([]string{}, d.Command[1:]...), path)
	cmd := exec.CommandContext(ctx, d.Command[0], args...)
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return nil, fmt.Errorf("sops decrypt %s: %s", path, string(exitErr.Stderr))
		}
		return nil, fmt.Errorf("sops decrypt %s: %w", path, err)
	}

	var data map[string]string
	if err := yaml.Unmarshal(out, &data); err != nil {
		return nil, fmt.Errorf("unmarshal secrets: %w", err)
	}
	delete(data, "sops")
	return data, nil
}

// Keys returns the secret names in order, never the values.
func Keys(data map[string]string) []string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
