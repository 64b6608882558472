// Package projector turns a Server into the
// Kubernetes workload/endpoint manifests the reconciliation engine applies
// (spec §4.3). Project is a pure function: no cluster calls, no side
// effects, so internal/controller can unit test workload shape without a
// live API server.
package projector

import (
	"fmt"

	mcpserverv1 "github.com/nwrx/mcpserver-operator/api/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
)

const (
	containerName    = "server"
	httpPortName     = "http"
	terminationGrace = int64(10)
)

// reservedEnv are injected after user bindings and always win on name
// collision (spec §4.3).
func reservedEnv(server *mcpserverv1.Server) []corev1.EnvVar {
	return []corev1.EnvVar{
		{Name: "MCP_SERVER_NAME", Value: server.Name},
		{Name: "MCP_SERVER_UUID", Value: string(server.UID)},
		{Name: "MCP_SERVER_POOL", Value: server.Spec.Pool},
	}
}

// PodName computes the deterministic workload name (spec §3).
func PodName(server *mcpserverv1.Server) string {
	return fmt.Sprintf("pod-%s-%s-%s", server.Spec.Pool, server.Name, shortUID(server))
}

// ServiceName computes the deterministic endpoint name (spec §3).
func ServiceName(server *mcpserverv1.Server) string {
	return fmt.Sprintf("svc-%s-%s-%s", server.Spec.Pool, server.Name, shortUID(server))
}

func shortUID(server *mcpserverv1.Server) string {
	uid := string(server.UID)
	if len(uid) < 8 {
		return uid
	}
	return uid[:8]
}

func labels(server *mcpserverv1.Server, podName string) map[string]string {
	return map[string]string{
		"app":  podName,
		"pool": server.Spec.Pool,
		"uid":  string(server.UID),
	}
}

func ownerRef(server *mcpserverv1.Server) metav1.OwnerReference {
	return *metav1.NewControllerRef(server, mcpserverv1.GroupVersion.WithKind("Server"))
}

func env(server *mcpserverv1.Server) []corev1.EnvVar {
	reserved := make(map[string]bool, 3)
	for _, e := range reservedEnv(server) {
		reserved[e.Name] = true
	}

	out := make([]corev1.EnvVar, 0, len(server.Spec.Env)+3)
	for _, e := range server.Spec.Env {
		if reserved[e.Name] {
			continue
		}
		out = append(out, corev1.EnvVar{Name: e.Name, Value: e.Value})
	}
	out = append(out, reservedEnv(server)...)
	return out
}

// Project computes the workload Pod and, for sse/streamable-http transports,
// the endpoint Service. The Service return is nil for stdio.
func Project(server *mcpserverv1.Server) (*corev1.Pod, *corev1.Service) {
	podName := PodName(server)
	lbls := labels(server, podName)

	container := corev1.Container{
		Name:      containerName,
		Image:     server.Spec.Image,
		Command:   server.Spec.Command,
		Args:      server.Spec.Args,
		Env:       env(server),
		Resources: server.Spec.Resources,
	}

	stdioTransport := server.Spec.Transport.Kind == mcpserverv1.TransportStdio
	if stdioTransport {
		container.Stdin = true
		container.TTY = false
	} else {
		container.Ports = []corev1.ContainerPort{{
			Name:          httpPortName,
			ContainerPort: server.Spec.Transport.Port,
		}}
	}

	gracePeriod := terminationGrace
	shareProcessNamespace := true

	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:            podName,
			Namespace:       server.Namespace,
			Labels:          lbls,
			OwnerReferences: []metav1.OwnerReference{ownerRef(server)},
		},
		Spec: corev1.PodSpec{
			Containers:                    []corev1.Container{container},
			RestartPolicy:                 corev1.RestartPolicyAlways,
			TerminationGracePeriodSeconds: &gracePeriod,
			ShareProcessNamespace:         &shareProcessNamespace,
		},
	}

	if stdioTransport {
		return pod, nil
	}

	svc := &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:            ServiceName(server),
			Namespace:       server.Namespace,
			Labels:          lbls,
			OwnerReferences: []metav1.OwnerReference{ownerRef(server)},
		},
		Spec: corev1.ServiceSpec{
			Selector: map[string]string{"app": podName},
			Ports: []corev1.ServicePort{{
				Name:       httpPortName,
				Port:       server.Spec.Transport.Port,
				TargetPort: intstr.FromString(httpPortName),
			}},
		},
	}

	return pod, svc
}
