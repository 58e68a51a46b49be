package kubernetes

import (
	"context"
	"fmt"
	"strings"

	authv1 "k8s.io/api/authorization/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/belv2c/kubinaut/pkg/apierror"
)

// resourceAliases maps kubectl short names to API resources.
var resourceAliases = map[string]string{
	"po": "pods", "pod": "pods",
	"svc": "services", "service": "services",
	"deploy": "deployments", "deployment": "deployments",
	"rs": "replicasets", "replicaset": "replicasets",
	"sts": "statefulsets", "statefulset": "statefulsets",
	"ds": "daemonsets", "daemonset": "daemonsets",
	"cm": "configmaps", "configmap": "configmaps",
	"ev": "events", "event": "events",
	"job": "jobs", "cj": "cronjobs", "cronjob": "cronjobs",
	"ing": "ingresses", "ingress": "ingresses",
	"pvc": "persistentvolumeclaims", "persistentvolumeclaim": "persistentvolumeclaims",
	"sa": "serviceaccounts", "serviceaccount": "serviceaccounts",
	"secret": "secrets",
}

// resourceGroups holds the API group of resources outside the core group.
var resourceGroups = map[string]string{
	"deployments": "apps", "replicasets": "apps", "statefulsets": "apps", "daemonsets": "apps",
	"jobs": "batch", "cronjobs": "batch",
	"ingresses": "networking.k8s.io",
}

// accessCheck is the API permission a kubectl invocation needs.
type accessCheck struct {
	Verb        string
	Group       string
	Resource    string
	Subresource string
	Name        string
}

// accessFor derives the permission needed by args (without "kubectl").
// ok is false when the command does not name a checkable resource.
func accessFor(args []string) (accessCheck, bool) {
	positional := positionalArgs(args[1:])
	verb := strings.ToLower(args[0])

	switch verb {
	case "logs":
		check := accessCheck{Verb: "get", Resource: "pods", Subresource: "log"}
		if len(positional) > 0 {
			ref := parseRef(positional[0])
			if ref.Name != "" {
				check.Name = ref.Name
			} else {
				check.Name = positional[0]
			}
		}
		return check, true
	case "events":
		return accessCheck{Verb: "list", Resource: "events"}, true
	case "top":
		if len(positional) == 0 {
			return accessCheck{}, false
		}
		return accessCheck{Verb: "list", Group: "metrics.k8s.io", Resource: normalizeResource(positional[0])}, true
	case "rollout":
		// rollout <subcommand> <resource>
		if len(positional) < 2 {
			return accessCheck{}, false
		}
		ref := parseRef(positional[1])
		check := accessCheck{Verb: "patch", Group: ref.Group, Resource: ref.Resource, Name: ref.Name}
		switch strings.ToLower(positional[0]) {
		case "status", "history":
			check.Verb = "get"
		}
		return check, true
	}

	if len(positional) == 0 {
		return accessCheck{}, false
	}
	ref := parseRef(positional[0])
	if ref.Name == "" && len(positional) > 1 {
		ref.Name = positional[1]
	}
	check := accessCheck{Group: ref.Group, Resource: ref.Resource, Name: ref.Name}
	switch verb {
	case "get", "describe":
		check.Verb = "get"
		if ref.Name == "" {
			check.Verb = "list"
		}
	case "delete":
		check.Verb = "delete"
	case "scale":
		check.Verb = "patch"
		check.Subresource = "scale"
	default:
		// label, annotate and other mutations patch the object.
		check.Verb = "patch"
	}
	return check, true
}

type resourceRef struct {
	Group    string
	Resource string
	Name     string
}

// parseRef splits "deployment.apps/web" into its parts.
func parseRef(s string) resourceRef {
	typ, name, _ := strings.Cut(s, "/")
	// Comma lists such as "pods,services" check the first type only.
	typ, _, _ = strings.Cut(typ, ",")
	res, group, _ := strings.Cut(typ, ".")
	res = normalizeResource(res)
	if group == "" {
		group = resourceGroups[res]
	}
	return resourceRef{Group: group, Resource: res, Name: name}
}

func normalizeResource(r string) string {
	r = strings.ToLower(r)
	if full, ok := resourceAliases[r]; ok {
		return full
	}
	return r
}

// valueFlags take a separate value argument when not written as flag=value.
var valueFlags = map[string]bool{
	"-l": true, "--selector": true,
	"-o": true, "--output": true,
	"-c": true, "--container": true,
	"--field-selector": true,
	"--tail": true, "--since": true,
	"--replicas": true, "--sort-by": true,
	"--to-revision": true, "--timeout": true,
}

// positionalArgs drops flags and their values.
func positionalArgs(args []string) []string {
	var out []string
	for i := 0; i < len(args); i++ {
		a := args[i]
		if strings.HasPrefix(a, "-") {
			if valueFlags[a] {
				i++
			}
			continue
		}
		out = append(out, a)
	}
	return out
}

// reviewAccess asks the API server whether the gateway may perform check in
// namespace.
func (e *Executor) reviewAccess(ctx context.Context, namespace string, check accessCheck) error {
	review := &authv1.SelfSubjectAccessReview{
		Spec: authv1.SelfSubjectAccessReviewSpec{
			ResourceAttributes: &authv1.ResourceAttributes{
				Namespace:   namespace,
				Verb:        check.Verb,
				Group:       check.Group,
				Resource:    check.Resource,
				Subresource: check.Subresource,
				Name:        check.Name,
			},
		},
	}
	resp, err := e.clientset.AuthorizationV1().SelfSubjectAccessReviews().Create(ctx, review, metav1.CreateOptions{})
	if err != nil {
		return classify(err, "access review")
	}
	if !resp.Status.Allowed {
		target := check.Resource
		if check.Subresource != "" {
			target += "/" + check.Subresource
		}
		msg := fmt.Sprintf("not allowed to %s %s in namespace %q", check.Verb, target, namespace)
		if resp.Status.Reason != "" {
			msg += ": " + resp.Status.Reason
		}
		return apierror.PermissionDenied(msg)
	}
	return nil
}
