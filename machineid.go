// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

package dbus

import (
	"os"
	"strings"
)

// machineIDPaths lists the locations a machine ID is conventionally found,
// tried in order. /var/lib/dbus/machine-id is the historical D-Bus location;
// /etc/machine-id is its systemd-era replacement; boot_id is a last resort
// that is at least stable for the lifetime of the machine's current boot,
// which is enough for GetMachineId's purpose of identifying "this machine,
// right now" to a peer.
var machineIDPaths = []string{
	"/var/lib/dbus/machine-id",
	"/etc/machine-id",
	"/proc/sys/kernel/random/boot_id",
}

// machineID implements the org.freedesktop.DBus.Peer.GetMachineId method
// (spec.md scenario 5): a 32-character lowercase hex string identifying the
// machine the connection's peer is running on.
func machineID() (string, error) {
	var lastErr error
	for _, path := range machineIDPaths {
		b, err := os.ReadFile(path)
		if err != nil {
			lastErr = err
			continue
		}
		id := strings.ToLower(strings.TrimSpace(string(b)))
		id = strings.ReplaceAll(id, "-", "")
		if len(id) >= 32 {
			return id[:32], nil
		}
	}
	if lastErr == nil {
		lastErr = os.ErrNotExist
	}
	return "", lastErr
}
