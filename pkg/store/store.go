// Package store wraps the controller-runtime client with the namespaced
// get/list/apply/delete surface the reconciliation engine and the gateway
// need (spec §4.1). It has no create or watch methods; watches come from
// the controller manager. It provides idempotent delete, server-side apply
// for status, and a single
// field manager token so operator-owned fields cannot be silently claimed
// by another controller.
package store

import (
	"context"

	mcpserverv1 "github.com/nwrx/mcpserver-operator/api/v1"
	"github.com/nwrx/mcpserver-operator/pkg/apierror"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/klog/v2"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/yaml"
)

// FieldManager is the fixed token used for every server-side apply this
// operator performs, so status fields it owns cannot be overwritten by an
// unrelated controller applying with force=true (spec §4.1).
const FieldManager = "mcpserver-operator"

// Store is a thin, typed facade over client.Client.
type Store struct {
	client client.Client
}

// New wraps an existing controller-runtime client.
func New(c client.Client) *Store {
	return &Store{client: c}
}

// GetServer fetches a Server by namespaced name.
func (s *Store) GetServer(ctx context.Context, namespace, name string) (*mcpserverv1.Server, error) {
	var out mcpserverv1.Server
	if err := s.client.Get(ctx, types.NamespacedName{Namespace: namespace, Name: name}, &out); err != nil {
		return nil, apierror.FromKubernetes(err)
	}
	return &out, nil
}

// GetPool fetches a Pool by namespaced name.
func (s *Store) GetPool(ctx context.Context, namespace, name string) (*mcpserverv1.Pool, error) {
	var out mcpserverv1.Pool
	if err := s.client.Get(ctx, types.NamespacedName{Namespace: namespace, Name: name}, &out); err != nil {
		return nil, apierror.FromKubernetes(err)
	}
	return &out, nil
}

// ListServersByPool lists every Server in namespace whose spec.pool matches
// pool, used by the pool status aggregator.
func (s *Store) ListServersByPool(ctx context.Context, namespace, pool string) ([]mcpserverv1.Server, error) {
	var list mcpserverv1.ServerList
	if err := s.client.List(ctx, &list, client.InNamespace(namespace), client.MatchingFields{"spec.pool": pool}); err != nil {
		return nil, apierror.FromKubernetes(err)
	}
	return list.Items, nil
}

// GetPod fetches the workload Pod, returning an apierror.NameNotFound
// envelope (not a raw client-go error) when absent so callers can
// pattern-match via apierror.IsNotFound.
func (s *Store) GetPod(ctx context.Context, namespace, name string) (*corev1.Pod, error) {
	var out corev1.Pod
	if err := s.client.Get(ctx, types.NamespacedName{Namespace: namespace, Name: name}, &out); err != nil {
		return nil, apierror.FromKubernetes(err)
	}
	return &out, nil
}

// ApplyPod server-side applies the given Pod manifest with the operator's
// field manager. Create-or-update, idempotent.
func (s *Store) ApplyPod(ctx context.Context, pod *corev1.Pod) error {
	pod.TypeMeta = metaTypeMetaPod
	logManifest(pod.Namespace, pod.Name, pod)
	if err := s.client.Patch(ctx, pod, client.Apply, client.FieldOwner(FieldManager), client.ForceOwnership); err != nil {
		return apierror.FromKubernetes(err)
	}
	return nil
}

// ApplyService server-side applies the given Service manifest.
func (s *Store) ApplyService(ctx context.Context, svc *corev1.Service) error {
	svc.TypeMeta = metaTypeMetaService
	logManifest(svc.Namespace, svc.Name, svc)
	if err := s.client.Patch(ctx, svc, client.Apply, client.FieldOwner(FieldManager), client.ForceOwnership); err != nil {
		return apierror.FromKubernetes(err)
	}
	return nil
}

// logManifest renders obj as YAML at high verbosity, the same way the
// teacher's marshal() feeds diagnostic output, so an operator debugging a
// stuck apply can dump exactly what was sent without attaching a debugger.
func logManifest(namespace, name string, obj any) {
	if !klog.V(4).Enabled() {
		return
	}
	body, err := yaml.Marshal(obj)
	if err != nil {
		klog.V(4).InfoS("failed to marshal manifest for logging", "namespace", namespace, "name", name, "err", err)
		return
	}
	klog.V(4).InfoS("applying manifest", "namespace", namespace, "name", name, "manifest", string(body))
}

// DeletePod deletes the workload Pod, treating NotFound as success (spec
// §4.1, round-trip law "delete(name); delete(name) returns success twice").
func (s *Store) DeletePod(ctx context.Context, namespace, name string) error {
	pod := &corev1.Pod{}
	pod.Namespace, pod.Name = namespace, name
	return s.deleteIdempotent(ctx, pod)
}

// DeleteService deletes the endpoint Service, idempotently.
func (s *Store) DeleteService(ctx context.Context, namespace, name string) error {
	svc := &corev1.Service{}
	svc.Namespace, svc.Name = namespace, name
	return s.deleteIdempotent(ctx, svc)
}

func (s *Store) deleteIdempotent(ctx context.Context, obj client.Object) error {
	err := s.client.Delete(ctx, obj)
	if err == nil || apierrors.IsNotFound(err) {
		return nil
	}
	return apierror.FromKubernetes(err)
}

// PatchServerStatus server-side applies status only, via the status
// subresource, with the operator's field manager and force=true so
// operator-owned counters/phase/conditions always win (spec §4.1, §4.2).
func (s *Store) PatchServerStatus(ctx context.Context, server *mcpserverv1.Server) error {
	if err := s.client.Status().Patch(ctx, server, client.Apply, client.FieldOwner(FieldManager), client.ForceOwnership); err != nil {
		return apierror.FromKubernetes(err)
	}
	return nil
}

// PatchPoolStatus server-side applies Pool.status.
func (s *Store) PatchPoolStatus(ctx context.Context, pool *mcpserverv1.Pool) error {
	if err := s.client.Status().Patch(ctx, pool, client.Apply, client.FieldOwner(FieldManager), client.ForceOwnership); err != nil {
		return apierror.FromKubernetes(err)
	}
	return nil
}

// AddFinalizer adds the operator's finalizer if absent and persists the
// change. Returns false if the finalizer was already present (no API call
// made).
func (s *Store) AddFinalizer(ctx context.Context, server *mcpserverv1.Server, finalizer string) (bool, error) {
	for _, f := range server.Finalizers {
		if f == finalizer {
			return false, nil
		}
	}
	server.Finalizers = append(server.Finalizers, finalizer)
	if err := s.client.Update(ctx, server); err != nil {
		return false, apierror.FromKubernetes(err)
	}
	return true, nil
}

// RemoveFinalizer removes the operator's finalizer if present and persists
// the change.
func (s *Store) RemoveFinalizer(ctx context.Context, server *mcpserverv1.Server, finalizer string) error {
	kept := server.Finalizers[:0]
	found := false
	for _, f := range server.Finalizers {
		if f == finalizer {
			found = true
			continue
		}
		kept = append(kept, f)
	}
	if !found {
		return nil
	}
	server.Finalizers = kept
	if err := s.client.Update(ctx, server); err != nil {
		return apierror.FromKubernetes(err)
	}
	return nil
}

var metaTypeMetaPod = corev1.Pod{}.TypeMeta
var metaTypeMetaService = corev1.Service{}.TypeMeta

func init() {
	metaTypeMetaPod.Kind = "Pod"
	metaTypeMetaPod.APIVersion = "v1"
	metaTypeMetaService.Kind = "Service"
	metaTypeMetaService.APIVersion = "v1"
}
