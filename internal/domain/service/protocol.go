package service

import (
	"encoding/json"
	"fmt"
	"strings"

	"k8s.io/apimachinery/pkg/util/validation"

	"github.com/belv2c/kubinaut/internal/domain/model"
	"github.com/belv2c/kubinaut/pkg/apierror"
)

// RequestType is the "type" tag of an inbound message.
type RequestType string

const (
	RequestGetNamespaces  RequestType = "get_namespaces"
	RequestGetPods        RequestType = "get_pods"
	RequestGetServices    RequestType = "get_services"
	RequestGetDeployments RequestType = "get_deployments"
	RequestExecute        RequestType = "execute_command"
)

var requestKinds = map[RequestType]model.Kind{
	RequestGetNamespaces:  model.KindNamespace,
	RequestGetPods:        model.KindPod,
	RequestGetServices:    model.KindService,
	RequestGetDeployments: model.KindDeployment,
}

// ResponseType returns the reply tag for kind, e.g. "pods_response".
func ResponseType(kind model.Kind) string {
	return string(kind) + "_response"
}

const commandResponseType = "command_response"

type request struct {
	Type      RequestType
	Kind      model.Kind
	Namespace string
	Command   string
}

type envelope struct {
	Type      *string `json:"type"`
	Namespace *string `json:"namespace"`
	Command   *string `json:"command"`
}

// decodeRequest parses one frame into a request. Every failure is a
// DecodeError.
func decodeRequest(raw []byte) (request, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return request{}, apierror.Decode("invalid JSON: " + err.Error())
	}
	if env.Type == nil || *env.Type == "" {
		return request{}, apierror.Decode("missing message type")
	}

	req := request{Type: RequestType(*env.Type)}
	if kind, ok := requestKinds[req.Type]; ok {
		req.Kind = kind
		if kind == model.KindNamespace {
			return req, nil
		}
		ns, err := requireNamespace(env.Namespace)
		if err != nil {
			return request{}, err
		}
		req.Namespace = ns
		return req, nil
	}

	if req.Type != RequestExecute {
		return request{}, apierror.Decode(fmt.Sprintf("unknown message type %q", *env.Type))
	}
	if env.Command == nil || strings.TrimSpace(*env.Command) == "" ||
		env.Namespace == nil || strings.TrimSpace(*env.Namespace) == "" {
		return request{}, apierror.Decode("Command and namespace are required")
	}
	ns, err := requireNamespace(env.Namespace)
	if err != nil {
		return request{}, err
	}
	req.Namespace = ns
	req.Command = strings.TrimSpace(*env.Command)
	return req, nil
}

func requireNamespace(v *string) (string, error) {
	if v == nil || strings.TrimSpace(*v) == "" {
		return "", apierror.Decode("Namespace is required")
	}
	ns := strings.TrimSpace(*v)
	if errs := validation.IsDNS1123Label(ns); len(errs) > 0 {
		return "", apierror.Decode(fmt.Sprintf("invalid namespace %q: %s", ns, strings.Join(errs, "; ")))
	}
	return ns, nil
}

type response struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type errorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func encodeResponse(typ string, data any) []byte {
	b, err := json.Marshal(response{Type: typ, Data: data})
	if err != nil {
		return encodeError(apierror.Internal("failed to encode response"))
	}
	return b
}

func encodeError(err error) []byte {
	b, _ := json.Marshal(errorResponse{Status: "error", Message: apierror.Message(err)})
	return b
}
