package model

import "time"

// Kind names a resource collection as it appears on the wire.
type Kind string

const (
	KindNamespace  Kind = "namespaces"
	KindPod        Kind = "pods"
	KindService    Kind = "services"
	KindDeployment Kind = "deployments"
)

// Kinds lists every kind the gateway watches, namespaces first.
var Kinds = []Kind{KindNamespace, KindPod, KindService, KindDeployment}

// NamespacedKinds lists the kinds scoped to a namespace.
var NamespacedKinds = []Kind{KindPod, KindService, KindDeployment}

func (k Kind) Namespaced() bool {
	return k == KindPod || k == KindService || k == KindDeployment
}

func (k Kind) Valid() bool {
	return k == KindNamespace || k.Namespaced()
}

// Key identifies a resource within its kind. Namespace is empty for namespaces.
type Key struct {
	Namespace string
	Name      string
}

// Resource is one cached cluster object.
type Resource interface {
	ResourceKind() Kind
	ResourceKey() Key
	// Clone returns a copy that shares no mutable state with the receiver.
	Clone() Resource
}

type Namespace struct {
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"creation_timestamp"`
}

func (n Namespace) ResourceKind() Kind { return KindNamespace }
func (n Namespace) ResourceKey() Key   { return Key{Name: n.Name} }
func (n Namespace) Clone() Resource    { return n }

type Pod struct {
	Name      string    `json:"name"`
	Namespace string    `json:"namespace"`
	Status    string    `json:"status"`
	IP        string    `json:"ip"`
	Node      string    `json:"node"`
	CreatedAt time.Time `json:"creation_timestamp"`
}

func (p Pod) ResourceKind() Kind { return KindPod }
func (p Pod) ResourceKey() Key   { return Key{Namespace: p.Namespace, Name: p.Name} }
func (p Pod) Clone() Resource    { return p }

type ServicePort struct {
	Port       int32  `json:"port"`
	TargetPort string `json:"target_port"`
	Protocol   string `json:"protocol"`
}

type Service struct {
	Name      string        `json:"name"`
	Namespace string        `json:"namespace"`
	Type      string        `json:"type"`
	ClusterIP string        `json:"cluster_ip"`
	Ports     []ServicePort `json:"ports"`
}

func (s Service) ResourceKind() Kind { return KindService }
func (s Service) ResourceKey() Key   { return Key{Namespace: s.Namespace, Name: s.Name} }

func (s Service) Clone() Resource {
	out := s
	if s.Ports != nil {
		out.Ports = make([]ServicePort, len(s.Ports))
		copy(out.Ports, s.Ports)
	}
	return out
}

// Deployment mirrors spec.replicas and status.availableReplicas. The latter
// follows controller reconciliation and is not monotonic in wall-clock order.
type Deployment struct {
	Name              string    `json:"name"`
	Namespace         string    `json:"namespace"`
	Replicas          int32     `json:"replicas"`
	AvailableReplicas int32     `json:"available_replicas"`
	Strategy          string    `json:"strategy"`
	CreatedAt         time.Time `json:"creation_timestamp"`
}

func (d Deployment) ResourceKind() Kind { return KindDeployment }
func (d Deployment) ResourceKey() Key   { return Key{Namespace: d.Namespace, Name: d.Name} }
func (d Deployment) Clone() Resource    { return d }

// ChangeType is the kind of delta delivered by a watch.
type ChangeType string

const (
	ChangeAdded    ChangeType = "Added"
	ChangeModified ChangeType = "Modified"
	ChangeDeleted  ChangeType = "Deleted"
	// ChangeSynced marks the end of a list or relist for Kind; Object is nil.
	ChangeSynced ChangeType = "Synced"
	// ChangeStale reports that the watch for Kind lost the cluster; the
	// stream closes after it. Object is nil.
	ChangeStale ChangeType = "Stale"
)

type ChangeEvent struct {
	Type   ChangeType
	Kind   Kind
	Object Resource
}

// Change identifies what a cache mutation touched, for fan-out.
type Change struct {
	Kind      Kind
	Namespace string
}
