package archive

import (
	"fmt"
	"net"
	"os"
	"os/user"
	"strconv"
	"strings"
	"time"
)

// Version is substituted by the {version}/{version:major,minor,patch}
// placeholders below.
const Version = "1.0.0"

// ErrInvalidArchiveName reports an archive name that fails validation
// after placeholder substitution.
type ErrInvalidArchiveName struct {
	Name   string
	Reason string
}

func (e *ErrInvalidArchiveName) Error() string {
	return fmt.Sprintf("archive: invalid archive name %q: %s", e.Name, e.Reason)
}

// ExpandName substitutes placeholders in pattern and validates the
// result. Recognised placeholders: hostname, fqdn, reverse-fqdn, now,
// utcnow (each optionally followed by :LAYOUT using Go's reference-time
// layout), user, pid, version (optionally version:major, version:minor,
// version:patch). `{{` and `}}` are literal braces. at is the time used
// for now/utcnow, letting callers pin it for deterministic tests.
func ExpandName(pattern string, at time.Time) (string, error) {
	var out strings.Builder
	i := 0
	for i < len(pattern) {
		switch {
		case strings.HasPrefix(pattern[i:], "{{"):
			out.WriteByte('{')
			i += 2
		case strings.HasPrefix(pattern[i:], "}}"):
			out.WriteByte('}')
			i += 2
		case pattern[i] == '{':
			end := strings.IndexByte(pattern[i:], '}')
			if end < 0 {
				return "", &ErrInvalidArchiveName{Name: pattern, Reason: "unterminated placeholder"}
			}
			token := pattern[i+1 : i+end]
			value, err := expandToken(token, at)
			if err != nil {
				return "", &ErrInvalidArchiveName{Name: pattern, Reason: err.Error()}
			}
			out.WriteString(value)
			i += end + 1
		default:
			out.WriteByte(pattern[i])
			i++
		}
	}

	name := out.String()
	if err := ValidateArchiveName(name); err != nil {
		return "", err
	}
	return name, nil
}

func expandToken(token string, at time.Time) (string, error) {
	name, arg, hasArg := strings.Cut(token, ":")
	switch name {
	case "hostname":
		return hostname(), nil
	case "fqdn":
		return fqdn(), nil
	case "reverse-fqdn":
		return reverseDNS(fqdn()), nil
	case "now":
		if hasArg {
			return at.Format(arg), nil
		}
		return at.Format("2006-01-02T15:04:05"), nil
	case "utcnow":
		if hasArg {
			return at.UTC().Format(arg), nil
		}
		return at.UTC().Format("2006-01-02T15:04:05"), nil
	case "user":
		return username(), nil
	case "pid":
		return strconv.Itoa(os.Getpid()), nil
	case "version":
		if !hasArg {
			return Version, nil
		}
		parts := strings.Split(Version, ".")
		idx := map[string]int{"major": 0, "minor": 1, "patch": 2}[arg]
		if idx < len(parts) {
			return parts[idx], nil
		}
		return "", nil
	default:
		return "", fmt.Errorf("unknown placeholder %q", name)
	}
}

func fqdn() string {
	h := hostname()
	addrs, err := net.LookupHost(h)
	if err != nil || len(addrs) == 0 {
		return h
	}
	names, err := net.LookupAddr(addrs[0])
	if err != nil || len(names) == 0 {
		return h
	}
	return strings.TrimSuffix(names[0], ".")
}

func reverseDNS(fqdn string) string {
	labels := strings.Split(fqdn, ".")
	for i, j := 0, len(labels)-1; i < j; i, j = i+1, j-1 {
		labels[i], labels[j] = labels[j], labels[i]
	}
	return strings.Join(labels, ".")
}

// ValidateArchiveName rejects names containing a path separator, per
// spec: archive names are a flat namespace, never a path.
func ValidateArchiveName(name string) error {
	if name == "" {
		return &ErrInvalidArchiveName{Name: name, Reason: "empty"}
	}
	if strings.ContainsRune(name, '/') {
		return &ErrInvalidArchiveName{Name: name, Reason: "must not contain '/'"}
	}
	return nil
}
