// Package controller implements the reconciliation engine (spec §4.4). The
// Server controller runs a single state-machine step per invocation,
// finalizer-guarded, requeued on a fixed cadence; the Pool controller
// (pool_controller.go) recomputes Pool status counts.
package controller

import (
	"context"
	"fmt"
	"time"

	mcpserverv1 "github.com/nwrx/mcpserver-operator/api/v1"
	"github.com/nwrx/mcpserver-operator/pkg/apierror"
	"github.com/nwrx/mcpserver-operator/pkg/idle"
	"github.com/nwrx/mcpserver-operator/pkg/metrics"
	"github.com/nwrx/mcpserver-operator/pkg/projector"
	"github.com/nwrx/mcpserver-operator/pkg/status"
	"github.com/nwrx/mcpserver-operator/pkg/store"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// Finalizer blocks Server deletion until the workload and endpoint are
// confirmed gone (spec §4.4).
const Finalizer = "mcpserver.nwrx.io/finalizer"

const requeueInterval = 5 * time.Second

// workloadState is the observed-state axis of the state-machine table.
type workloadState string

const (
	stateNotFound  workloadState = "NotFound"
	statePending   workloadState = "Pending"
	stateRunning   workloadState = "Running"
	stateFailed    workloadState = "Failed"
	stateUnknown   workloadState = "Unknown"
	stateSucceeded workloadState = "Succeeded"
)

func classifyPod(pod *corev1.Pod, err error) workloadState {
	if err != nil {
		if apierror.IsNotFound(err) {
			return stateNotFound
		}
		return stateUnknown
	}
	switch pod.Status.Phase {
	case corev1.PodPending:
		return statePending
	case corev1.PodRunning:
		return stateRunning
	case corev1.PodSucceeded:
		return stateSucceeded
	case corev1.PodFailed:
		return stateFailed
	default:
		return stateUnknown
	}
}

// transition is one cell of the spec §4.4 table.
type transition struct {
	pushCondition    bool
	conditionReason  string
	conditionStatus  metav1.ConditionStatus
	conditionMessage string
	next             mcpserverv1.ServerPhase
	clearConnections bool
}

const conditionType = "PodScheduled"

func table() map[mcpserverv1.ServerPhase]map[workloadState]transition {
	return map[mcpserverv1.ServerPhase]map[workloadState]transition{
		mcpserverv1.ServerPhaseRequested: {
			stateNotFound:  {next: mcpserverv1.ServerPhaseRequested},
			statePending:   {pushCondition: true, conditionReason: "Scheduled", conditionStatus: metav1.ConditionFalse, conditionMessage: "workload pod is pending", next: mcpserverv1.ServerPhaseStarting},
			stateRunning:   {pushCondition: true, conditionReason: "Running", conditionStatus: metav1.ConditionTrue, conditionMessage: "workload pod is running", next: mcpserverv1.ServerPhaseReady},
			stateFailed:    {pushCondition: true, conditionReason: "Failed", conditionStatus: metav1.ConditionFalse, conditionMessage: "workload pod failed", next: mcpserverv1.ServerPhaseDegraded},
			stateUnknown:   {pushCondition: true, conditionReason: "Failed", conditionStatus: metav1.ConditionFalse, conditionMessage: "workload pod state unknown", next: mcpserverv1.ServerPhaseDegraded},
			stateSucceeded: {pushCondition: true, conditionReason: "Succeeded", conditionStatus: metav1.ConditionTrue, conditionMessage: "workload pod succeeded", next: mcpserverv1.ServerPhaseIdle},
		},
		mcpserverv1.ServerPhaseStarting: {
			stateRunning:   {pushCondition: true, conditionReason: "Running", conditionStatus: metav1.ConditionTrue, conditionMessage: "workload pod is running", next: mcpserverv1.ServerPhaseReady},
			stateNotFound:  {next: mcpserverv1.ServerPhaseRequested},
			stateFailed:    {pushCondition: true, conditionReason: "Failed", conditionStatus: metav1.ConditionFalse, conditionMessage: "workload pod failed", next: mcpserverv1.ServerPhaseDegraded},
			stateUnknown:   {pushCondition: true, conditionReason: "Failed", conditionStatus: metav1.ConditionFalse, conditionMessage: "workload pod state unknown", next: mcpserverv1.ServerPhaseDegraded},
			stateSucceeded: {pushCondition: true, conditionReason: "Succeeded", conditionStatus: metav1.ConditionTrue, conditionMessage: "workload pod succeeded", next: mcpserverv1.ServerPhaseIdle},
			statePending:   {next: mcpserverv1.ServerPhaseStarting},
		},
		mcpserverv1.ServerPhaseReady: {
			stateRunning:   {next: mcpserverv1.ServerPhaseReady},
			stateNotFound:  {next: mcpserverv1.ServerPhaseStopping},
			statePending:   {next: mcpserverv1.ServerPhaseStarting},
			stateFailed:    {pushCondition: true, conditionReason: "Failed", conditionStatus: metav1.ConditionFalse, conditionMessage: "workload pod failed", next: mcpserverv1.ServerPhaseDegraded},
			stateUnknown:   {pushCondition: true, conditionReason: "Failed", conditionStatus: metav1.ConditionFalse, conditionMessage: "workload pod state unknown", next: mcpserverv1.ServerPhaseDegraded},
			stateSucceeded: {pushCondition: true, conditionReason: "Succeeded", conditionStatus: metav1.ConditionTrue, conditionMessage: "workload pod succeeded", next: mcpserverv1.ServerPhaseIdle},
		},
		mcpserverv1.ServerPhaseStopping: {
			stateNotFound:  {pushCondition: true, conditionReason: "Succeeded", conditionStatus: metav1.ConditionTrue, conditionMessage: "workload pod gone", next: mcpserverv1.ServerPhaseIdle, clearConnections: true},
			stateSucceeded: {pushCondition: true, conditionReason: "Succeeded", conditionStatus: metav1.ConditionTrue, conditionMessage: "workload pod succeeded", next: mcpserverv1.ServerPhaseIdle, clearConnections: true},
			statePending:   {pushCondition: true, conditionReason: "Terminating", conditionStatus: metav1.ConditionFalse, conditionMessage: "workload pod is terminating", next: mcpserverv1.ServerPhaseStopping},
			stateRunning:   {pushCondition: true, conditionReason: "Terminating", conditionStatus: metav1.ConditionFalse, conditionMessage: "workload pod is terminating", next: mcpserverv1.ServerPhaseStopping},
			stateFailed:    {pushCondition: true, conditionReason: "Failed", conditionStatus: metav1.ConditionFalse, conditionMessage: "workload pod failed", next: mcpserverv1.ServerPhaseDegraded},
			stateUnknown:   {pushCondition: true, conditionReason: "Failed", conditionStatus: metav1.ConditionFalse, conditionMessage: "workload pod state unknown", next: mcpserverv1.ServerPhaseDegraded},
		},
		mcpserverv1.ServerPhaseIdle: {
			stateNotFound:  {next: mcpserverv1.ServerPhaseIdle},
			stateSucceeded: {next: mcpserverv1.ServerPhaseIdle},
			statePending:   {next: mcpserverv1.ServerPhaseStopping},
			stateRunning:   {next: mcpserverv1.ServerPhaseStopping},
			stateFailed:    {pushCondition: true, conditionReason: "Failed", conditionStatus: metav1.ConditionFalse, conditionMessage: "workload pod failed", next: mcpserverv1.ServerPhaseDegraded},
			stateUnknown:   {pushCondition: true, conditionReason: "Failed", conditionStatus: metav1.ConditionFalse, conditionMessage: "workload pod state unknown", next: mcpserverv1.ServerPhaseDegraded},
		},
		mcpserverv1.ServerPhaseDegraded: {
			stateRunning:   {pushCondition: true, conditionReason: "Running", conditionStatus: metav1.ConditionTrue, conditionMessage: "workload pod is running", next: mcpserverv1.ServerPhaseReady},
			statePending:   {pushCondition: true, conditionReason: "Scheduled", conditionStatus: metav1.ConditionFalse, conditionMessage: "workload pod is pending", next: mcpserverv1.ServerPhaseStarting},
			stateNotFound:  {pushCondition: true, conditionReason: "Succeeded", conditionStatus: metav1.ConditionTrue, conditionMessage: "workload pod gone", next: mcpserverv1.ServerPhaseIdle, clearConnections: true},
			stateSucceeded: {pushCondition: true, conditionReason: "Succeeded", conditionStatus: metav1.ConditionTrue, conditionMessage: "workload pod succeeded", next: mcpserverv1.ServerPhaseIdle},
			stateFailed:    {next: mcpserverv1.ServerPhaseDegraded},
			stateUnknown:   {next: mcpserverv1.ServerPhaseDegraded},
		},
	}
}

// ServerReconciler reconciles a Server object.
type ServerReconciler struct {
	client.Client
	Scheme *runtime.Scheme
	Store  *store.Store
}

// +kubebuilder:rbac:groups=mcpserver.nwrx.io,resources=servers,verbs=get;list;watch;update;patch
// +kubebuilder:rbac:groups=mcpserver.nwrx.io,resources=servers/status,verbs=get;update;patch
// +kubebuilder:rbac:groups=mcpserver.nwrx.io,resources=servers/finalizers,verbs=update
// +kubebuilder:rbac:groups=mcpserver.nwrx.io,resources=pools,verbs=get;list;watch
// +kubebuilder:rbac:groups="",resources=pods,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups="",resources=services,verbs=get;list;watch;create;update;patch;delete

func (r *ServerReconciler) Reconcile(ctx context.Context, req ctrl.Request) (result ctrl.Result, reterr error) {
	logger := log.FromContext(ctx)
	start := time.Now()
	defer metrics.ObserveReconcile(start, &reterr)

	server, err := r.Store.GetServer(ctx, req.Namespace, req.Name)
	if err != nil {
		if apierror.IsNotFound(err) {
			return ctrl.Result{}, nil
		}
		return ctrl.Result{RequeueAfter: requeueInterval}, err
	}

	if !server.DeletionTimestamp.IsZero() {
		return r.reconcileDelete(ctx, server)
	}
	return r.reconcileApply(ctx, logger, server)
}

func (r *ServerReconciler) reconcileDelete(ctx context.Context, server *mcpserverv1.Server) (ctrl.Result, error) {
	podName := projector.PodName(server)
	svcName := projector.ServiceName(server)

	if err := r.Store.DeletePod(ctx, server.Namespace, podName); err != nil {
		return ctrl.Result{RequeueAfter: requeueInterval}, err
	}
	if err := r.Store.DeleteService(ctx, server.Namespace, svcName); err != nil {
		return ctrl.Result{RequeueAfter: requeueInterval}, err
	}
	if err := r.Store.RemoveFinalizer(ctx, server, Finalizer); err != nil {
		return ctrl.Result{RequeueAfter: requeueInterval}, err
	}
	return ctrl.Result{}, nil
}

func (r *ServerReconciler) reconcileApply(ctx context.Context, logger logr.Logger, server *mcpserverv1.Server) (ctrl.Result, error) {
	if added, err := r.Store.AddFinalizer(ctx, server, Finalizer); err != nil {
		return ctrl.Result{RequeueAfter: requeueInterval}, err
	} else if added {
		return ctrl.Result{RequeueAfter: requeueInterval}, nil
	}

	pool, err := r.Store.GetPool(ctx, server.Namespace, server.Spec.Pool)
	if err != nil {
		return ctrl.Result{RequeueAfter: requeueInterval}, err
	}

	pod, podErr := r.Store.GetPod(ctx, server.Namespace, projector.PodName(server))
	observed := classifyPod(pod, podErr)

	now := metav1.Now()
	dirty := false
	phase := server.Status.Phase

	if (phase == mcpserverv1.ServerPhaseReady || phase == mcpserverv1.ServerPhaseStarting || phase == mcpserverv1.ServerPhaseRequested) && idle.IsStale(server, pool, now.Time) {
		if status.PushCondition(server, "Requested", "IdleTimeout", "server exceeded its idle timeout", metav1.ConditionFalse, now) {
			dirty = true
		}
		if status.SetPhase(server, mcpserverv1.ServerPhaseStopping) {
			dirty = true
		}
		phase = mcpserverv1.ServerPhaseStopping
	}

	activeCount, err := r.countActive(ctx, server, pool)
	if err != nil {
		return ctrl.Result{RequeueAfter: requeueInterval}, err
	}

	shouldBeUp := r.shouldBeUp(phase, pool, activeCount)
	if shouldBeUp {
		if err := r.ensureApplied(ctx, server); err != nil {
			return ctrl.Result{RequeueAfter: requeueInterval}, err
		}
		if phase == mcpserverv1.ServerPhaseRequested && observed == stateNotFound {
			status.MarkStarted(server, now)
			dirty = true
		}
	} else {
		if err := r.ensureDeleted(ctx, server); err != nil {
			return ctrl.Result{RequeueAfter: requeueInterval}, err
		}
	}

	if byState, ok := table()[phase]; ok {
		if t, ok := byState[observed]; ok {
			if t.pushCondition {
				if status.PushCondition(server, conditionType, t.conditionReason, t.conditionMessage, t.conditionStatus, now) {
					dirty = true
				}
			}
			if t.clearConnections {
				before := server.Status.CurrentConnections
				status.ClearConnectedClients(server)
				if before != 0 {
					dirty = true
				}
			}
			if status.SetPhase(server, t.next) {
				metrics.PhaseTransitionsTotal.WithLabelValues(string(phase), string(t.next)).Inc()
				if phase == mcpserverv1.ServerPhaseStopping && t.next == mcpserverv1.ServerPhaseIdle {
					status.MarkStopped(server, now)
				}
				dirty = true
			}
		} else {
			logger.Info("no transition defined for observed workload state", "phase", phase, "observed", observed)
		}
	}

	if dirty {
		if err := r.Store.PatchServerStatus(ctx, server); err != nil {
			return ctrl.Result{RequeueAfter: requeueInterval}, err
		}
	}

	return ctrl.Result{RequeueAfter: requeueInterval}, nil
}

// shouldBeUp implements the intent evaluation paragraph of spec §4.4.
func (r *ServerReconciler) shouldBeUp(phase mcpserverv1.ServerPhase, pool *mcpserverv1.Pool, activeCount int32) bool {
	switch phase {
	case mcpserverv1.ServerPhaseRequested:
		if pool.Spec.MaxServersActive <= 0 {
			return true
		}
		return activeCount < pool.Spec.MaxServersActive
	case mcpserverv1.ServerPhaseReady, mcpserverv1.ServerPhaseStarting:
		return true
	default:
		return false
	}
}

func (r *ServerReconciler) countActive(ctx context.Context, server *mcpserverv1.Server, pool *mcpserverv1.Pool) (int32, error) {
	servers, err := r.Store.ListServersByPool(ctx, server.Namespace, pool.Name)
	if err != nil {
		return 0, err
	}
	var count int32
	for _, s := range servers {
		if s.Name == server.Name {
			continue
		}
		if s.Status.Phase == mcpserverv1.ServerPhaseReady {
			count++
		}
	}
	return count, nil
}

func (r *ServerReconciler) ensureApplied(ctx context.Context, server *mcpserverv1.Server) error {
	pod, svc := projector.Project(server)
	if err := r.Store.ApplyPod(ctx, pod); err != nil {
		return err
	}
	if svc != nil {
		if err := r.Store.ApplyService(ctx, svc); err != nil {
			return err
		}
	}
	return nil
}

func (r *ServerReconciler) ensureDeleted(ctx context.Context, server *mcpserverv1.Server) error {
	if err := r.Store.DeletePod(ctx, server.Namespace, projector.PodName(server)); err != nil {
		return err
	}
	if server.Spec.Transport.Kind != mcpserverv1.TransportStdio {
		if err := r.Store.DeleteService(ctx, server.Namespace, projector.ServiceName(server)); err != nil {
			return err
		}
	}
	return nil
}

// SetupWithManager registers the controller, including a field index on
// spec.pool so pkg/store.ListServersByPool is an indexed lookup rather
// than a full list-and-filter.
func (r *ServerReconciler) SetupWithManager(mgr ctrl.Manager) error {
	if err := mgr.GetFieldIndexer().IndexField(context.Background(), &mcpserverv1.Server{}, "spec.pool", func(obj client.Object) []string {
		server := obj.(*mcpserverv1.Server)
		if server.Spec.Pool == "" {
			return nil
		}
		return []string{server.Spec.Pool}
	}); err != nil {
		return fmt.Errorf("indexing spec.pool: %w", err)
	}

	return ctrl.NewControllerManagedBy(mgr).
		For(&mcpserverv1.Server{}).
		Owns(&corev1.Pod{}).
		Owns(&corev1.Service{}).
		Complete(r)
}
