package projector_test

import (
	"testing"

	mcpserverv1 "github.com/nwrx/mcpserver-operator/api/v1"
	"github.com/nwrx/mcpserver-operator/pkg/projector"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
)

func stdioServer() *mcpserverv1.Server {
	return &mcpserverv1.Server{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "s1",
			Namespace: "default",
			UID:       types.UID("abcdef1234567890"),
		},
		Spec: mcpserverv1.ServerSpec{
			Pool:  "default",
			Image: "example/echo:latest",
			Env:   []mcpserverv1.EnvVar{{Name: "MCP_SERVER_NAME", Value: "should-be-overridden"}, {Name: "FOO", Value: "bar"}},
			Transport: mcpserverv1.TransportSpec{Kind: mcpserverv1.TransportStdio},
		},
	}
}

func TestProjectStdioHasNoService(t *testing.T) {
	s := stdioServer()
	pod, svc := projector.Project(s)

	if svc != nil {
		t.Fatalf("stdio transport must not produce a Service")
	}
	if pod.Name != "pod-default-s1-abcdef12" {
		t.Fatalf("pod name = %q", pod.Name)
	}
	if !pod.Spec.Containers[0].Stdin {
		t.Fatalf("stdin must be open for stdio transport")
	}
	if pod.Spec.Containers[0].TTY {
		t.Fatalf("tty must be off")
	}
}

func TestProjectReservedEnvWinsOverUserValue(t *testing.T) {
	s := stdioServer()
	pod, _ := projector.Project(s)

	var sawName, sawFoo bool
	for _, e := range pod.Spec.Containers[0].Env {
		if e.Name == "MCP_SERVER_NAME" {
			sawName = true
			if e.Value != "s1" {
				t.Fatalf("MCP_SERVER_NAME = %q, want s1 (reserved binding must win)", e.Value)
			}
		}
		if e.Name == "FOO" && e.Value == "bar" {
			sawFoo = true
		}
	}
	if !sawName || !sawFoo {
		t.Fatalf("expected both reserved and user env present, got %+v", pod.Spec.Containers[0].Env)
	}
}

func TestProjectSSEHasServiceAndPort(t *testing.T) {
	s := stdioServer()
	s.Spec.Transport = mcpserverv1.TransportSpec{Kind: mcpserverv1.TransportSSE, Port: 8080}

	pod, svc := projector.Project(s)
	if svc == nil {
		t.Fatalf("sse transport must produce a Service")
	}
	if svc.Name != "svc-default-s1-abcdef12" {
		t.Fatalf("service name = %q", svc.Name)
	}
	if len(pod.Spec.Containers[0].Ports) != 1 || pod.Spec.Containers[0].Ports[0].ContainerPort != 8080 {
		t.Fatalf("expected a single container port 8080, got %+v", pod.Spec.Containers[0].Ports)
	}
	if svc.Spec.Selector["app"] != pod.Labels["app"] {
		t.Fatalf("service selector must match pod app label")
	}
}

func TestProjectOwnerReferenceAndLabels(t *testing.T) {
	s := stdioServer()
	pod, _ := projector.Project(s)

	if len(pod.OwnerReferences) != 1 || pod.OwnerReferences[0].Name != "s1" {
		t.Fatalf("expected owner reference to s1, got %+v", pod.OwnerReferences)
	}
	if pod.Labels["pool"] != "default" || pod.Labels["uid"] != "abcdef1234567890" {
		t.Fatalf("unexpected labels: %+v", pod.Labels)
	}
}
