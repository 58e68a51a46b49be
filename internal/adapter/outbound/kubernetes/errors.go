package kubernetes

import (
	"context"
	"errors"
	"net"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	utilnet "k8s.io/apimachinery/pkg/util/net"

	"github.com/belv2c/kubinaut/pkg/apierror"
)

// classify maps a client-go error onto the gateway's error kinds. what
// describes the failed operation.
func classify(err error, what string) error {
	if err == nil {
		return nil
	}
	var known *apierror.Error
	if errors.As(err, &known) {
		return err
	}

	switch {
	case apierrors.IsNotFound(err):
		return apierror.Wrap(apierror.KindNotFound, what, err)
	case apierrors.IsForbidden(err), apierrors.IsUnauthorized(err):
		return apierror.Wrap(apierror.KindPermissionDenied, what, err)
	case errors.Is(err, context.DeadlineExceeded), apierrors.IsTimeout(err), apierrors.IsServerTimeout(err):
		return apierror.Wrap(apierror.KindTimeout, what, err)
	case isUnreachable(err):
		return apierror.Wrap(apierror.KindClusterUnreachable, what, err)
	default:
		return apierror.Wrap(apierror.KindInternal, what, err)
	}
}

func isUnreachable(err error) bool {
	if apierrors.IsServiceUnavailable(err) ||
		apierrors.IsInternalError(err) ||
		apierrors.IsTooManyRequests(err) ||
		apierrors.IsUnexpectedServerError(err) {
		return true
	}
	if utilnet.IsConnectionRefused(err) || utilnet.IsConnectionReset(err) || utilnet.IsProbableEOF(err) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
