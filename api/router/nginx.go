package router

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strings"
	"sync"
	"text/template"

	"switchyard/api/fsutil"
	"switchyard/api/model"
)

var upstreamTmpl = template.Must(template.New("upstream").Parse(`# Managed by switchyard. Active slot: {{.Slot}} ({{.Color}})
upstream {{.Upstream}} {
    server {{.Address}};
}
`))

// Nginx rewrites an upstream include file and reloads nginx. nginx keeps
// old workers alive until their connections finish, so in-flight requests
// complete on the previous slot.
type Nginx struct {
	Path          string
	Upstream      string
	TestCommand   []string
	ReloadCommand []string

	mu  sync.Mutex
	run Runner
}

func NewNginx(spec model.RouterSpec, run Runner) *Nginx {
	n := &Nginx{
		Path:          spec.ConfigPath,
		Upstream:      spec.Upstream,
		TestCommand:   spec.TestCommand,
		ReloadCommand: spec.ReloadCommand,
		run:           run,
	}
	if n.Upstream == "" {
		n.Upstream = model.DefaultUpstream
	}
	if len(n.TestCommand) == 0 {
		n.TestCommand = []string{"nginx", "-t"}
	}
	if len(n.ReloadCommand) == 0 {
		n.ReloadCommand = []string{"nginx", "-s", "reload"}
	}
	return n
}

// Render returns the upstream file for address.
func (n *Nginx) Render(slot model.SlotID, address string) ([]byte, error) {
	var buf bytes.Buffer
	err := upstreamTmpl.Execute(&buf, map[string]string{
		"Slot":     string(slot),
		"Color":    slot.Color(),
		"Upstream": n.Upstream,
		"Address":  address,
	})
	return buf.Bytes(), err
}

func (n *Nginx) Switch(ctx context.Context, slot model.SlotID, address string) error {
	if address == "" {
		return applyErr("empty address for slot %s", slot)
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	next, err := n.Render(slot, address)
	if err != nil {
		return applyErr("render upstream: %v", err)
	}
	prev, err := os.ReadFile(n.Path)
	existed := err == nil
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return applyErr("read %s: %v", n.Path, err)
	}
	if existed && bytes.Equal(prev, next) {
		return nil
	}

	if existed {
		if err := fsutil.WriteFileAtomic(n.Path+".bak", prev, 0o644); err != nil {
			return applyErr("write backup: %v", err)
		}
	}
	if err := fsutil.WriteFileAtomic(n.Path, next, 0o644); err != nil {
		return applyErr("write %s: %v", n.Path, err)
	}

	if err := runStep(ctx, n.run, "config test", n.TestCommand); err != nil {
		n.restore(prev, existed)
		return applyErr("%v", err)
	}
	if err := runStep(ctx, n.run, "reload", n.ReloadCommand); err != nil {
		n.restore(prev, existed)
		// The old file passed a test before, bring nginx back in line with it.
		if rerr := runStep(ctx, n.run, "reload", n.ReloadCommand); rerr != nil {
			log.Printf("WARNING: router: reload after restore failed: %v", rerr)
		}
		return applyErr("%v", err)
	}
	log.Printf("router: nginx upstream %s -> %s (slot %s)", n.Upstream, address, slot)
	return nil
}

func (n *Nginx) restore(prev []byte, existed bool) {
	var err error
	if existed {
		err = fsutil.WriteFileAtomic(n.Path, prev, 0o644)
	} else {
		err = os.Remove(n.Path)
	}
	if err != nil {
		log.Printf("WARNING: router: restore %s: %v", n.Path, err)
	}
}

// Current returns the first server address in the managed upstream block.
func (n *Nginx) Current(_ context.Context) (string, error) {
	data, err := os.ReadFile(n.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", n.Path, err)
	}
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "server ") {
			continue
		}
		fields := strings.Fields(strings.TrimSuffix(line, ";"))
		if len(fields) >= 2 {
			return fields[1], nil
		}
	}
	return "", nil
}
