package controller

import (
	"context"

	mcpserverv1 "github.com/nwrx/mcpserver-operator/api/v1"
	"github.com/nwrx/mcpserver-operator/pkg/apierror"
	"github.com/nwrx/mcpserver-operator/pkg/store"

	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/handler"
)

// PoolReconciler recomputes Pool.status from the set of Servers that
// reference it (SPEC_FULL.md supplement #2 — the distilled spec leaves
// Pool.status as a data-model field without specifying its writer).
type PoolReconciler struct {
	client.Client
	Store *store.Store
}

// +kubebuilder:rbac:groups=mcpserver.nwrx.io,resources=pools,verbs=get;list;watch
// +kubebuilder:rbac:groups=mcpserver.nwrx.io,resources=pools/status,verbs=get;update;patch
// +kubebuilder:rbac:groups=mcpserver.nwrx.io,resources=servers,verbs=get;list;watch

func (r *PoolReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	pool, err := r.Store.GetPool(ctx, req.Namespace, req.Name)
	if err != nil {
		if apierror.IsNotFound(err) {
			return ctrl.Result{}, nil
		}
		return ctrl.Result{}, err
	}

	servers, err := r.Store.ListServersByPool(ctx, req.Namespace, req.Name)
	if err != nil {
		return ctrl.Result{}, err
	}

	var active, pending, managed int32
	for _, s := range servers {
		managed++
		switch s.Status.Phase {
		case mcpserverv1.ServerPhaseReady:
			active++
		case mcpserverv1.ServerPhaseRequested, mcpserverv1.ServerPhaseStarting:
			pending++
		}
	}

	pool.Status.Active = active
	pool.Status.Pending = pending
	pool.Status.Managed = managed
	pool.Status.Unmanaged = 0
	pool.Status.Total = managed

	if err := r.Store.PatchPoolStatus(ctx, pool); err != nil {
		return ctrl.Result{}, err
	}
	return ctrl.Result{}, nil
}

// serverToPool maps a Server watch event to its owning Pool's reconcile
// request, so editing any Server in a Pool recomputes that Pool's counts.
func serverToPool(_ context.Context, obj client.Object) []ctrl.Request {
	server, ok := obj.(*mcpserverv1.Server)
	if !ok || server.Spec.Pool == "" {
		return nil
	}
	return []ctrl.Request{{NamespacedName: client.ObjectKey{Namespace: server.Namespace, Name: server.Spec.Pool}}}
}

func (r *PoolReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&mcpserverv1.Pool{}).
		Watches(&mcpserverv1.Server{}, handler.EnqueueRequestsFromMapFunc(serverToPool)).
		Complete(r)
}
