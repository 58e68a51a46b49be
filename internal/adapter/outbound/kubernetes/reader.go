package kubernetes

import (
	"context"
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/cache"

	"github.com/belv2c/kubinaut/internal/domain/model"
)

// Reader provides read-only access to Kubernetes resources.
type Reader struct {
	clientset kubernetes.Interface
}

// NewReader creates a Reader backed by the given clientset.
func NewReader(clientset kubernetes.Interface) *Reader {
	return &Reader{clientset: clientset}
}

// ListNamespaces returns every namespace visible to the gateway's identity.
func (r *Reader) ListNamespaces(ctx context.Context) ([]model.Namespace, error) {
	list, err := r.clientset.CoreV1().Namespaces().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, classify(err, "listing namespaces")
	}
	out := make([]model.Namespace, 0, len(list.Items))
	for i := range list.Items {
		out = append(out, toNamespace(&list.Items[i]))
	}
	return out, nil
}

// GetNamespace fails with NotFound when name does not exist.
func (r *Reader) GetNamespace(ctx context.Context, name string) (model.Namespace, error) {
	ns, err := r.clientset.CoreV1().Namespaces().Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return model.Namespace{}, classify(err, fmt.Sprintf("namespace %q", name))
	}
	return toNamespace(ns), nil
}

// --- conversion helpers ---

func toNamespace(ns *corev1.Namespace) model.Namespace {
	return model.Namespace{
		Name:      ns.Name,
		Status:    string(ns.Status.Phase),
		CreatedAt: ns.CreationTimestamp.UTC(),
	}
}

func toPod(pod *corev1.Pod) model.Pod {
	return model.Pod{
		Name:      pod.Name,
		Namespace: pod.Namespace,
		Status:    string(pod.Status.Phase),
		IP:        pod.Status.PodIP,
		Node:      pod.Spec.NodeName,
		CreatedAt: pod.CreationTimestamp.UTC(),
	}
}

func toService(svc *corev1.Service) model.Service {
	ports := make([]model.ServicePort, 0, len(svc.Spec.Ports))
	for _, p := range svc.Spec.Ports {
		ports = append(ports, model.ServicePort{
			Port:       p.Port,
			TargetPort: p.TargetPort.String(),
			Protocol:   string(p.Protocol),
		})
	}
	return model.Service{
		Name:      svc.Name,
		Namespace: svc.Namespace,
		Type:      string(svc.Spec.Type),
		ClusterIP: svc.Spec.ClusterIP,
		Ports:     ports,
	}
}

func toDeployment(d *appsv1.Deployment) model.Deployment {
	var replicas int32 = 1
	if d.Spec.Replicas != nil {
		replicas = *d.Spec.Replicas
	}
	return model.Deployment{
		Name:              d.Name,
		Namespace:         d.Namespace,
		Replicas:          replicas,
		AvailableReplicas: d.Status.AvailableReplicas,
		Strategy:          string(d.Spec.Strategy.Type),
		CreatedAt:         d.CreationTimestamp.UTC(),
	}
}

// toResource converts an informer object, unwrapping delete tombstones.
func toResource(obj any) (model.Resource, bool) {
	if tombstone, ok := obj.(cache.DeletedFinalStateUnknown); ok {
		obj = tombstone.Obj
	}
	switch o := obj.(type) {
	case *corev1.Namespace:
		return toNamespace(o), true
	case *corev1.Pod:
		return toPod(o), true
	case *corev1.Service:
		return toService(o), true
	case *appsv1.Deployment:
		return toDeployment(o), true
	}
	return nil, false
}
