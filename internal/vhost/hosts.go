package vhost

import (
	"bytes"
	"fmt"
	"strings"

	"devstack/internal/filesystem"
)

// HostsLine returns the loopback mapping added for domain.
func HostsLine(domain, marker string) string {
	return fmt.Sprintf("127.0.0.1\t%s\t#%s", domain, marker)
}

// HasDomain reports whether the hosts content mentions domain anywhere.
// This is a plain substring test: "myapp.test" inside a comment, or as part
// of "old-myapp.test", counts as present.
func HasDomain(hosts []byte, domain string) bool {
	return bytes.Contains(hosts, []byte(domain))
}

// AppendHostsLine appends line to the hosts file unless the line's domain
// is already mentioned. It reports whether the file changed.
func AppendHostsLine(fsys filesystem.FS, file, line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return false, fmt.Errorf("malformed hosts line %q", line)
	}

	data, err := fsys.ReadFile(file)
	if err != nil {
		return false, err
	}
	if HasDomain(data, fields[1]) {
		return false, nil
	}

	payload := line + "\n"
	if len(data) > 0 && data[len(data)-1] != '\n' {
		payload = "\n" + payload
	}
	if err := fsys.AppendFile(file, []byte(payload)); err != nil {
		return false, err
	}
	return true, nil
}

// RemoveHostsLines drops every line mapping domain that carries the marker
// comment. Lines without the marker were added by hand and are kept. The
// file is rewritten in place. It reports whether the file changed.
func RemoveHostsLines(fsys filesystem.FS, file, domain, marker string) (bool, error) {
	data, err := fsys.ReadFile(file)
	if err != nil {
		return false, err
	}

	lines := strings.SplitAfter(string(data), "\n")
	kept := lines[:0]
	removed := 0
	for _, line := range lines {
		if isManagedLine(line, domain, marker) {
			removed++
			continue
		}
		kept = append(kept, line)
	}
	if removed == 0 {
		return false, nil
	}
	if err := fsys.OverwriteFile(file, []byte(strings.Join(kept, ""))); err != nil {
		return false, err
	}
	return true, nil
}

func isManagedLine(line, domain, marker string) bool {
	body, comment, ok := strings.Cut(line, "#")
	if !ok || strings.TrimSpace(comment) != marker {
		return false
	}
	fields := strings.Fields(body)
	for _, f := range fields[min(1, len(fields)):] {
		if f == domain {
			return true
		}
	}
	return false
}
