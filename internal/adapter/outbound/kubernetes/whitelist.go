package kubernetes

import (
	"fmt"
	"strings"

	"github.com/belv2c/kubinaut/pkg/apierror"
)

// WhitelistConfig holds the allowed kubectl verbs and blocked namespaces.
type WhitelistConfig struct {
	AllowedVerbs      []string
	BlockedNamespaces []string
}

// Whitelist decides which command lines may reach kubectl.
type Whitelist struct {
	verbs     map[string]bool
	blockedNS map[string]bool
}

// NewWhitelist creates a Whitelist from the given configuration.
func NewWhitelist(cfg WhitelistConfig) *Whitelist {
	return &Whitelist{
		verbs:     toSet(cfg.AllowedVerbs),
		blockedNS: toSet(cfg.BlockedNamespaces),
	}
}

// dangerousPatterns contains shell metacharacters and injection patterns.
var dangerousPatterns = []string{"$(", "`", "|", ">>", "<<", ";", "&&", "||"}

// sensitivePathFragments contains path fragments that should never appear in arguments.
var sensitivePathFragments = []string{
	"/etc/shadow", "/etc/passwd", "/etc/master.passwd",
	"/proc/self/environ", "/proc/self/cmdline",
	"/.ssh/", "/.kube/config", "/.env",
	"/var/run/secrets",
}

// namespaceFlags are injected by the gateway and may not be supplied.
var namespaceFlags = []string{"-n", "--namespace", "-A", "--all-namespaces"}

// connectionFlags would point kubectl at another cluster or identity than the
// one access reviews ran against.
var connectionFlags = []string{
	"-s", "--server", "--context", "--cluster", "--kubeconfig",
	"--user", "--username", "--password", "--token",
	"--as", "--as-group", "--as-uid",
	"--certificate-authority", "--client-certificate", "--client-key",
	"--insecure-skip-tls-verify", "--tls-server-name",
}

// ParseCommand validates a command line and returns its kubectl arguments
// without the leading "kubectl". Violations are PermissionDenied.
func (w *Whitelist) ParseCommand(command string) ([]string, error) {
	args := strings.Fields(command)
	if len(args) > 0 && args[0] == "kubectl" {
		args = args[1:]
	}
	if len(args) == 0 {
		return nil, apierror.Decode("empty command")
	}

	if !w.IsVerbAllowed(args[0]) {
		return nil, apierror.PermissionDenied(fmt.Sprintf("verb %q is not allowed", args[0]))
	}

	lower := strings.ToLower(command)
	for _, pattern := range dangerousPatterns {
		if strings.Contains(lower, pattern) {
			return nil, apierror.PermissionDenied(fmt.Sprintf("shell syntax %q is not allowed", pattern))
		}
	}
	for _, fragment := range sensitivePathFragments {
		if strings.Contains(lower, fragment) {
			return nil, apierror.PermissionDenied("command references a sensitive path")
		}
	}

	for _, arg := range args[1:] {
		if hasFlag(arg, namespaceFlags) || hasShortValue(arg, "-n") {
			return nil, apierror.PermissionDenied("namespace flags are not allowed; the request namespace is used")
		}
		if hasFlag(arg, connectionFlags) || hasShortValue(arg, "-s") {
			return nil, apierror.PermissionDenied(fmt.Sprintf("flag %q is not allowed; the gateway's cluster connection is used", flagName(arg)))
		}
	}
	return args, nil
}

// hasFlag matches arg against flags in both the bare and flag=value forms.
func hasFlag(arg string, flags []string) bool {
	for _, flag := range flags {
		if arg == flag || strings.HasPrefix(arg, flag+"=") {
			return true
		}
	}
	return false
}

// hasShortValue matches a short flag with its value attached, as in -nfoo.
func hasShortValue(arg, short string) bool {
	return strings.HasPrefix(arg, short) && !strings.HasPrefix(arg, "--") && len(arg) > len(short)
}

func flagName(arg string) string {
	name, _, _ := strings.Cut(arg, "=")
	return name
}

// IsVerbAllowed reports whether verb is in the whitelist.
func (w *Whitelist) IsVerbAllowed(verb string) bool {
	return w.verbs[strings.ToLower(verb)]
}

// IsNamespaceBlocked reports whether ns is in the blocked-namespace set.
func (w *Whitelist) IsNamespaceBlocked(ns string) bool {
	return w.blockedNS[strings.ToLower(ns)]
}

func toSet(items []string) map[string]bool {
	s := make(map[string]bool, len(items))
	for _, item := range items {
		s[strings.ToLower(item)] = true
	}
	return s
}
