// Package systemd renders the unit file for running the sidecar as a
// system service.
package systemd

import (
	"fmt"
	"strings"
)

// UnitOptions parameterize the generated service unit.
type UnitOptions struct {
	// Binary is the installed path of the executable. Empty means
	// /usr/local/bin/carapace.
	Binary string
	// Addr is the listen address passed to serve. Empty means the
	// serve default.
	Addr string
	// ConfigPath enables --config and hot reload when set.
	ConfigPath string
	// JournalPath enables the decision journal when set.
	JournalPath string
}

// Unit returns a systemd service unit running the sidecar. The unit
// hardens the process: the journal directory is the only writable path
// it requests.
func Unit(opts UnitOptions) string {
	bin := opts.Binary
	if bin == "" {
		bin = "/usr/local/bin/carapace"
	}

	args := []string{bin, "serve"}
	if opts.Addr != "" {
		args = append(args, "--addr", opts.Addr)
	}
	if opts.ConfigPath != "" {
		args = append(args, "--config", opts.ConfigPath)
	}
	if opts.JournalPath != "" {
		args = append(args, "--journal", opts.JournalPath)
	}

	var b strings.Builder
	b.WriteString(`[Unit]
Description=Carapace decision sidecar
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
`)
	fmt.Fprintf(&b, "ExecStart=%s\n", strings.Join(args, " "))
	b.WriteString(`Restart=on-failure
RestartSec=2
NoNewPrivileges=true
PrivateTmp=true
ProtectSystem=strict
ProtectHome=true
`)
	if opts.JournalPath != "" {
		dir := opts.JournalPath
		if i := strings.LastIndex(dir, "/"); i > 0 {
			dir = dir[:i]
		}
		fmt.Fprintf(&b, "ReadWritePaths=%s\n", dir)
	}
	b.WriteString(`
[Install]
WantedBy=multi-user.target
`)
	return b.String()
}
